package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/franga/engine/allocation"
	"github.com/franga/engine/config"
	"github.com/franga/engine/ledger"
	"github.com/franga/engine/metrics"
	"github.com/franga/engine/rates"
	"github.com/franga/engine/store/sqlite"
)

// app is the wired dependency graph shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *sqlite.Store
	registry  *prometheus.Registry
	ledger    *ledger.Ledger
	rates     *rates.Cache
	scheduler *allocation.Scheduler
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l := ledger.New(store, ledger.SystemClock{}, logger)
	l.Observer = m

	cache := rates.NewCache(store, cfg.RateRefreshInterval, logger)
	cache.Recorder = m

	sched := allocation.NewScheduler(l, cache, logger)
	sched.Recorder = m

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		registry:  reg,
		ledger:    l,
		rates:     cache,
		scheduler: sched,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
