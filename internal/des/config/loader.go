package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// ProjectConfigDir is the directory under the project root DES
	// configuration lives in.
	ProjectConfigDir = ".nwave"
	// ProjectConfigFile is the name of the project-level config file
	// (spec.md §6).
	ProjectConfigFile = "des-config.json"
)

// Environment variable overrides, applied after the project file.
const (
	EnvAuditLogDir      = "DES_AUDIT_LOG_DIR"
	EnvMaxExecutionTime = "DES_MAX_EXECUTION_TIME"
	EnvSubagentTimeout  = "DES_SUBAGENT_TIMEOUT"
)

// Loader loads configuration with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader. A nil logger falls back to
// slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence (spec.md §6):
//  1. Defaults.
//  2. Project config (<projectRoot>/.nwave/des-config.json), if present.
//  3. Environment variable overrides (DES_AUDIT_LOG_DIR, etc).
func (l *Loader) Load(projectRoot string) (*Config, error) {
	cfg := DefaultConfig()

	path := l.ProjectConfigPath(projectRoot)
	if projectCfg, err := LoadFromFile(path); err == nil {
		l.logger.Debug("loaded project config", slog.String("path", path))
		cfg = projectCfg
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("failed to load project config", slog.String("path", path), slog.String("error", err.Error()))
	} else {
		l.logger.Debug("no project config found", slog.String("path", path))
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath returns the path des-config.json would be loaded from
// for the given project root.
func (l *Loader) ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ProjectConfigDir, ProjectConfigFile)
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAuditLogDir); v != "" {
		cfg.AuditLogDir = v
	}
	if v := os.Getenv(EnvMaxExecutionTime); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxExecutionTime = n
		} else {
			l.logger.Warn("invalid "+EnvMaxExecutionTime, slog.String("value", v))
		}
	}
	if v := os.Getenv(EnvSubagentTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubagentTimeout = n
		} else {
			l.logger.Warn("invalid "+EnvSubagentTimeout, slog.String("value", v))
		}
	}
}

// EnsureProjectConfig writes a default des-config.json under projectRoot if
// one does not already exist.
func (l *Loader) EnsureProjectConfig(projectRoot string) error {
	path := l.ProjectConfigPath(projectRoot)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	cfg := DefaultConfig()
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("created default project config", slog.String("path", path))
	return nil
}
