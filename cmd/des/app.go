package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nwave-ai/des/internal/clock"
	"github.com/nwave-ai/des/internal/des/audit"
	"github.com/nwave-ai/des/internal/des/config"
	"github.com/nwave-ai/des/internal/des/governor"
	"github.com/nwave-ai/des/internal/des/metrics"
	"github.com/nwave-ai/des/internal/des/orchestrator"
	"github.com/nwave-ai/des/internal/des/recovery"
)

// App wires DES's internal components behind the CLI, mirroring the
// teacher's cmd/semspec App: one struct holding every collaborator,
// built once per invocation and torn down via Close.
type App struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	writer   *audit.Writer
	governor *governor.Governor
	recovery *recovery.Handler
	orch     *orchestrator.Orchestrator

	projectRoot string
}

// NewApp loads configuration for projectRoot and wires every DES
// component. Agent execution itself is out of scope (spec.md §1
// Non-goals), so the Orchestrator is wired without an AgentRunner; it
// falls back to its no-op runner.
func NewApp(projectRoot string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if projectRoot == "" {
		projectRoot = detectProjectRoot()
	}

	loader := config.NewLoader(logger)
	cfg, err := loader.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	auditDir, err := audit.ResolveDir(cfg.AuditLogDir, projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve audit directory: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	writer, err := audit.NewWriter(auditDir, clock.Real(), logger)
	if err != nil {
		return nil, fmt.Errorf("open audit writer: %w", err)
	}
	writer = writer.WithMetrics(m)

	gov := governor.New(clock.Real(), m)
	rec := recovery.New(nil)
	orch := orchestrator.New(clock.Real(), writer, gov, rec, nil, projectRoot)

	return &App{
		cfg:         cfg,
		registry:    reg,
		metrics:     m,
		writer:      writer,
		governor:    gov,
		recovery:    rec,
		orch:        orch,
		projectRoot: projectRoot,
	}, nil
}

// Close releases the audit log's file handle.
func (a *App) Close() error {
	if a.writer == nil {
		return nil
	}
	return a.writer.Close()
}

// detectProjectRoot shells out to `git rev-parse --show-toplevel`,
// matching the teacher's config.Loader.detectGitRoot, falling back to
// the working directory.
func detectProjectRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	if out, err := cmd.Output(); err == nil {
		if root := strings.TrimSpace(string(out)); root != "" {
			return root
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}
