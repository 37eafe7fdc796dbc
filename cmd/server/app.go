package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amg/studio-ledger/api"
	"github.com/amg/studio-ledger/config"
	"github.com/amg/studio-ledger/factory"
	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/metrics"
	"github.com/amg/studio-ledger/store/memory"
	"github.com/amg/studio-ledger/store/sqlite"
	"github.com/amg/studio-ledger/studio"
)

// app is everything a command needs, built once from Config.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	handler  *api.Handler
	schedule studio.WeeklyTemplate
	metrics  http.Handler
	sweeper  *api.ExpirySweeper // nil when disabled
	close    func() error
}

func newApp(cfg config.Config) (*app, error) {
	log := cfg.NewLogger()
	slog.SetDefault(log)

	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		return nil, err
	}

	pf := factory.NewPlanFactory()
	pf.DefaultValidityWeeks = cfg.Booking.ValidityWeeks
	plans, err := pf.LoadPlans(cfg.Plans.Path)
	if err != nil {
		return nil, err
	}
	if err := svcCfg.Fee.CheckCatalog(plans); err != nil {
		return nil, fmt.Errorf("plan catalogue: %w", err)
	}
	schedule, err := pf.LoadSchedule(cfg.Schedule.Path)
	if err != nil {
		return nil, err
	}

	store, closeFn, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	deps := api.Deps{
		Store:    store,
		Plans:    plans,
		Config:   svcCfg,
		Schedule: schedule,
		Clock:    generic.SystemClock{},
		Logger:   log,
	}
	a := &app{cfg: cfg, log: log, schedule: schedule, close: closeFn}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		deps.Observer = metrics.MustNewMetrics(reg)
		a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	a.handler = api.NewHandler(deps)
	if cfg.Sweeper.Enabled {
		a.sweeper = api.NewExpirySweeper(a.handler.Service, cfg.Sweeper.Interval, log)
	}
	log.Info("studio ledger initialised",
		"store", cfg.Store.Driver,
		"plans", len(plans.Plans()),
		"cancellation_window", svcCfg.Engine.CancellationWindow.String(),
		"selection", string(svcCfg.Engine.Selection),
		"fee_window", string(svcCfg.Fee.Window.Type),
	)
	return a, nil
}

func openStore(cfg config.Config) (studio.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.SQLitePath, err)
		}
		return st, st.Close, nil
	case "memory":
		return memory.New(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
