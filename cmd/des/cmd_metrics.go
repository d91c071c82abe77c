package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newMetricsServerCommand(projectRoot *string, logger *slog.Logger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "metrics-server",
		Short: "Serve the Governor and Audit Log Writer's Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(*projectRoot, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

			srv := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-cmd.Context().Done()
				_ = srv.Shutdown(context.Background())
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s/metrics\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	return cmd
}
