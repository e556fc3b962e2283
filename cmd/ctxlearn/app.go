package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/config"
	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
	"github.com/fyrsmithlabs/ctxlearn/internal/logging"
	"github.com/fyrsmithlabs/ctxlearn/internal/metrics"
	"github.com/fyrsmithlabs/ctxlearn/internal/secrets"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
	"github.com/fyrsmithlabs/ctxlearn/internal/telemetry"
)

// app carries the per-invocation state shared by every command.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	configPath string
	storePath  string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ctxlearn",
		Short: "Learning memory for coding agents",
		Long: `ctxlearn records task outcomes, learns which patterns work, warns about
repeated failures and blocks destructive shell commands.

Configuration is read from --config, .ctxlearn/config.yaml or
~/.config/ctxlearn/config.yaml, then CTXLEARN_* environment variables.`,
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&a.storePath, "store", "", "database path (overrides store.path)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		newHookCmd(a),
		newMCPCmd(a),
		newStatsCmd(a),
		newPatternsCmd(a),
		newFailuresCmd(a),
		newConsolidateCmd(a),
		newCausalCmd(a),
	)
	return root
}

// setup loads configuration and builds logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, path, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if a.logLevel != "" {
		lvl, err := logging.LevelFromString(a.logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		cfg.Logging.Level = lvl
	}
	a.cfg = cfg

	tel, err := telemetry.New(cmd.Context(), &cfg.Telemetry)
	if err != nil {
		return err
	}
	a.tel = tel

	// Log lines pass through the same scrubber as stored failure text.
	scrubber, err := secrets.New(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	logger, err := logging.NewLogger(&cfg.Logging,
		logging.WithWriter(a.stderr),
		logging.WithScrubber(scrubber),
		logging.WithLoggerProvider(tel.LoggerProvider()),
	)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	a.logger = logger.Named(cmd.Name())

	ctx := logging.WithRequestID(cmd.Context(), uuid.NewString())
	ctx = logging.WithLogger(ctx, a.logger)
	cmd.SetContext(ctx)

	a.logger.Debug(ctx, "configuration loaded",
		zap.String("config_file", path),
		zap.String("store", cfg.Store.Path))
	return nil
}

// teardown runs even when the command failed.
func (a *app) teardown(ctx context.Context) {
	if a.tel != nil {
		if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// engine is an open store with the dispatcher and metrics wired over it.
type engine struct {
	store      *store.SQLiteStore
	dispatcher *hooks.Dispatcher
	metrics    *metrics.Registry
}

func (e *engine) Close() error {
	return e.store.Close()
}

// openStore opens the configured database, creating its directory.
func (a *app) openStore(ctx context.Context) (*store.SQLiteStore, error) {
	opts := append(a.cfg.StoreOptions(),
		store.WithLogger(a.logger.Underlying().Named("store")),
		store.WithTracer(a.tel.Tracer("github.com/fyrsmithlabs/ctxlearn/internal/store")),
	)
	return store.Open(ctx, a.cfg.Store.Path, opts...)
}

// openEngine opens the store and builds the hook dispatcher. Every hook
// invocation is counted in the Prometheus registry.
func (a *app) openEngine(ctx context.Context) (*engine, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	zl := a.logger.Underlying()

	reg, err := metrics.New(st, a.cfg.Metrics, zl.Named("metrics"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	d, err := hooks.Build(st, a.cfg.Engine(), zl.Named("hooks"), hooks.WithInstrumentation(a.tel))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	d.RegisterAll(reg.ObserveHook)

	return &engine{store: st, dispatcher: d, metrics: reg}, nil
}

// writeJSON writes v indented, followed by a newline.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// validFormat checks a --format value.
func validFormat(f string) error {
	if f != "text" && f != "json" {
		return fmt.Errorf("--format must be text or json, got %q", f)
	}
	return nil
}
