package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nwave-ai/des/internal/des/hooks"
)

const defaultDESCommand = "go run github.com/nwave-ai/des/cmd/des"

func newHooksCommand() *cobra.Command {
	var settingsPath string
	var command string

	root := &cobra.Command{
		Use:   "hooks",
		Short: "Install or remove DES's entries in the host assistant's settings document",
	}
	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "path to the host settings JSON document")
	_ = root.MarkPersistentFlagRequired("settings")

	install := &cobra.Command{
		Use:   "install",
		Short: "Install DES's pre-tool-use and subagent-stop hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdStr := command
			if cmdStr == "" {
				cmdStr = defaultDESCommand
			}
			doc, err := hooks.Load(settingsPath)
			if err != nil {
				return err
			}
			doc = hooks.Install(doc, cmdStr)
			if err := hooks.Save(settingsPath, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed DES hooks into %s\n", settingsPath)
			return nil
		},
	}
	install.Flags().StringVar(&command, "command", "", "command string to register (defaults to the module-invocation form)")

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove every DES-originated hook entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := hooks.Load(settingsPath)
			if err != nil {
				return err
			}
			doc = hooks.Uninstall(doc)
			if err := hooks.Save(settingsPath, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed DES hooks from %s\n", settingsPath)
			return nil
		},
	}

	root.AddCommand(install, uninstall)
	return root
}
