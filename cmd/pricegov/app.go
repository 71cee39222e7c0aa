package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"pricegov/internal/audit"
	"pricegov/internal/bus"
	"pricegov/internal/config"
	"pricegov/internal/connector"
	"pricegov/internal/db"
	"pricegov/internal/dedup"
	"pricegov/internal/governance"
	"pricegov/internal/logger"
	"pricegov/internal/marketdata"
	"pricegov/internal/pricing"
	gormrepository "pricegov/internal/repository/gorm"
	"pricegov/internal/service"
	"pricegov/internal/worker"
)

// app holds every long-lived component. Subscribers are attached in the order
// the pipeline expects: the audit logger sees proposals before governance.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db       *db.DB
	store    *gormrepository.Store
	settings *service.SettingsService
	bus      *bus.Bus
	journal  bus.Journal
	pool     *worker.Pool
	dedup    dedup.Store
	sources  *connector.Registry

	collector *marketdata.Collector
	optimizer *pricing.Optimizer
	agent     *governance.Agent
	audit     *audit.ProposalLogger
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}

	a.db, err = db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.SetTimezone(a.db, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(a.db); err != nil {
		a.close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	a.store = gormrepository.New(a.db.Gorm)

	a.settings = &service.SettingsService{Repo: a.store, Logger: logger.Component(log, "settings")}
	if err := a.settings.EnsureDefaults(ctx); err != nil {
		log.Warn("init default guardrails failed", zap.Error(err))
	}

	a.journal = bus.NopJournal{}
	if cfg.Bus.JournalPath != "" {
		fj, err := bus.OpenFileJournal(cfg.Bus.JournalPath)
		if err != nil {
			a.close()
			return nil, err
		}
		a.journal = fj
	}
	a.bus = bus.New(logger.Component(log, "bus"), a.journal)
	a.pool = worker.New(cfg.Workers.Size, cfg.Workers.QueueSize, logger.Component(log, "worker"))

	a.dedup, err = dedup.New(cfg.Dedup)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sources, err = connector.FromConfig(cfg.Connectors, logger.Component(log, "connector"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.collector = &marketdata.Collector{
		Repo:    a.store,
		Bus:     a.bus,
		Pool:    a.pool,
		Sources: a.sources,
		Dedup:   a.dedup,
		Logger:  logger.Component(log, "collector"),
	}
	a.optimizer = &pricing.Optimizer{
		Repo:             a.store,
		Settings:         a.settings,
		Bus:              a.bus,
		Logger:           logger.Component(log, "optimizer"),
		DefaultAlgorithm: cfg.Optimizer.DefaultAlgorithm,
		Lookback:         cfg.Optimizer.Lookback,
	}
	a.audit = &audit.ProposalLogger{
		Repo:   a.store,
		Pool:   a.pool,
		Logger: logger.Component(log, "audit"),
	}
	a.agent = &governance.Agent{
		Repo:     a.store,
		Settings: a.settings,
		Bus:      a.bus,
		Pool:     a.pool,
		Logger:   logger.Component(log, "governance"),
		Actor:    cfg.Governance.Actor,
		Retry:    governance.RetryPolicyFromConfig(cfg.Governance.Retry),
	}

	a.collector.Attach(a.bus)
	a.audit.Attach(a.bus)
	a.agent.Attach(a.bus)
	return a, nil
}

// drain waits for every queued job and proposal to finish. The app cannot
// accept more work afterwards.
func (a *app) drain() {
	if a.pool != nil {
		a.pool.Stop()
	}
}

func (a *app) close() {
	a.drain()
	var errs []error
	if c, ok := a.dedup.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := a.journal.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.db != nil {
		errs = append(errs, db.Close(a.db))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown cleanup", zap.Error(err))
	}
	_ = a.logger.Sync()
}
