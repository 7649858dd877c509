package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ElderMedic/FAIRiAgent-sub001/builder"
	"github.com/ElderMedic/FAIRiAgent-sub001/engine"
	"github.com/ElderMedic/FAIRiAgent-sub001/gate"
	"github.com/ElderMedic/FAIRiAgent-sub001/memory"
	"github.com/ElderMedic/FAIRiAgent-sub001/settings"
	"github.com/ElderMedic/FAIRiAgent-sub001/stages"
	"github.com/ElderMedic/FAIRiAgent-sub001/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// app is the wired controller stack for one command invocation
type app struct {
	cfg        *settings.Config
	logger     zerolog.Logger
	controller *engine.Controller
	registry   *prometheus.Registry
	closeStore func() error
}

func loadSettings(opts *rootOptions) (*settings.Config, error) {
	cfg, err := settings.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp builds the pipeline, quality gate, checkpoint store and memory
// service from configuration. Logs go to logOut.
func openApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(logOut)

	pipeline, err := stages.DefaultPipeline(builder.WithDefaultConfig(cfg.StageDefaults()))
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	gateOpts, err := cfg.GateOptions()
	if err != nil {
		return nil, err
	}
	gateOpts = append(stages.DefaultCriteria(), gateOpts...)
	gateOpts = append(gateOpts, gate.WithLogger(logger))
	critic := gate.NewCritic(gateOpts...)

	checkpoints, closeStore, err := store.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	mem, err := memory.Open(cfg.Memory, logger)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("failed to open memory: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller, err := engine.NewController(pipeline, critic, checkpoints,
		engine.WithLogger(logger),
		engine.WithConfig(cfg.EngineConfig()),
		engine.WithMemory(mem),
		engine.WithMetrics(engine.NewMetrics(registry)),
	)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		controller: controller,
		registry:   registry,
		closeStore: closeStore,
	}, nil
}

func (a *app) Close() error {
	return a.closeStore()
}

// errSessionsFailed reports that at least one session did not complete
var errSessionsFailed = errors.New("sessions failed")
