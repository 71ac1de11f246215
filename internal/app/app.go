package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/stageconfig"
	"github.com/specialistvlad/connectogrid/internal/toolchain"
	"github.com/specialistvlad/connectogrid/internal/toolrun"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	runID      string
	runner     toolrun.Runner
	ledger     *ledger.FS
	tools      toolchain.Toolchain
	files      domainFiles
	httpServer *http.Server
}

// domainFiles holds the parsed stage configuration of each domain
// pipeline. A nil file disables the optional domains.
type domainFiles struct {
	anat *stageconfig.File
	dwi  *stageconfig.File
	fn   *stageconfig.File
}

// Option customizes an App.
type Option func(*App)

// WithRunner replaces the subprocess runner, e.g. with a fake in tests.
func WithRunner(r toolrun.Runner) Option {
	return func(a *App) { a.runner = r }
}

// NewApp is the constructor for the main application. It parses the
// stage configuration files up front so that syntax errors surface
// before any subject starts.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) (*App, error) {
	runID := uuid.NewString()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW).With("run_id", runID)
	logger.Debug("Logger configured successfully.")

	policy, err := ledger.ParsePolicy(cfg.ExternalData)
	if err != nil {
		return nil, err
	}

	var files domainFiles
	for _, f := range []struct {
		path string
		dst  **stageconfig.File
	}{
		{cfg.AnatConfig, &files.anat},
		{cfg.DWIConfig, &files.dwi},
		{cfg.FuncConfig, &files.fn},
	} {
		if f.path == "" {
			continue
		}
		parsed, err := stageconfig.ParseFile(f.path)
		if err != nil {
			return nil, err
		}
		*f.dst = parsed
		logger.Debug("Stage configuration loaded.", "path", f.path, "stages", parsed.Stages())
	}

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		runID:  runID,
		runner: toolrun.NewCommandRunner(&toolrun.Config{Timeout: cfg.NodeTimeout}),
		ledger: ledger.New(policy, runID),
		tools:  cfg.Toolchain(),
		files:  files,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RunID identifies this run in logs and ledger markers.
func (a *App) RunID() string {
	return a.runID
}
