package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/QalaTech/speki-sub001/internal/config"
	"github.com/QalaTech/speki-sub001/internal/decompose"
	"github.com/QalaTech/speki-sub001/internal/event"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/loop"
	"github.com/QalaTech/speki-sub001/internal/metrics"
	"github.com/QalaTech/speki-sub001/internal/progress"
	"github.com/QalaTech/speki-sub001/internal/queuebridge"
	"github.com/QalaTech/speki-sub001/internal/stage"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/workspace"
)

// newStages builds the generation and review stages. Tests replace it to
// avoid invoking the intelligence CLI.
var newStages = func(cfg *config.Config, logger *logging.Logger) (stage.Generator, stage.Reviewer) {
	runner := stage.NewCLIRunner(cfg.Intelligence)
	return stage.NewGenerator(runner, cfg.Stages.GenerationTimeout(), logger.WithStage("generation")),
		stage.NewReviewer(runner, cfg.Stages.ReviewTimeout(), logger.WithStage("review"))
}

// app is the wired pipeline for one command invocation.
type app struct {
	cfg       *config.Config
	ws        workspace.Layout
	logger    *logging.Logger
	bus       *event.Bus
	publisher *progress.Publisher
	loops     *loop.Registry
	registry  *prometheus.Registry
	recorder  *metrics.PrometheusRecorder
	orch      *decompose.Orchestrator
}

// loadWorkspace reads the configuration and resolves the --workspace flag.
func loadWorkspace() (*config.Config, workspace.Layout, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, workspace.Layout{}, fmt.Errorf("invalid configuration: %w", err)
	}
	ws, err := workspace.Resolve(workspaceFlag, cfg.Paths.DataDir)
	if err != nil {
		return nil, workspace.Layout{}, err
	}
	return cfg, ws, nil
}

func newApp() (*app, error) {
	cfg, ws, err := loadWorkspace()
	if err != nil {
		return nil, err
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLoggerWithRotation(ws.LogDir(), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open debug log: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(registry)

	bus := event.NewBus()
	bus.SetPanicReporter(recorder.ObservePanic)
	recorder.Attach(bus)

	publisher := progress.NewPublisher(bus)
	loops := loop.NewRegistry()
	generator, reviewer := newStages(cfg, logger)

	orch := decompose.New(decompose.Config{
		Generator:   generator,
		Reviewer:    reviewer,
		Publisher:   publisher,
		Bridge:      queuebridge.New(loops, bus, logger),
		OpenStore:   decompose.OpenerFor(cfg.State),
		DataDir:     cfg.Paths.DataDir,
		AutoEnqueue: cfg.Queue.AutoEnqueue,
		Metrics:     recorder,
		Logger:      logger,
	})

	return &app{
		cfg:       cfg,
		ws:        ws,
		logger:    logger,
		bus:       bus,
		publisher: publisher,
		loops:     loops,
		registry:  registry,
		recorder:  recorder,
		orch:      orch,
	}, nil
}

// close waits for in-flight runs and releases the stores and the log file.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()
	err := a.orch.Close(ctx)
	a.recorder.Detach(a.bus)
	if cerr := a.logger.Close(); err == nil {
		err = cerr
	}
	return err
}

// readState reads an artifact's state without the stale-run correction, so
// that observing a run owned by another process never rewrites it.
func readState(ctx context.Context, cfg *config.Config, ws workspace.Layout, artifactID string) (statestore.State, error) {
	store, err := decompose.OpenerFor(cfg.State)(ws)
	if err != nil {
		return statestore.State{}, err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	return store.Get(ctx, artifactID)
}

// stateLocation returns the directory and file names that change when an
// artifact's state is written, for watching.
func stateLocation(cfg *config.Config, ws workspace.Layout, artifactID string) (string, []string) {
	if cfg.State.Backend == "sqlite" {
		path := cfg.State.ResolveSQLitePath(ws.DataDir())
		base := filepath.Base(path)
		return filepath.Dir(path), []string{base, base + "-wal"}
	}
	return ws.SpecDir(artifactID), []string{statestore.StateFileName}
}
