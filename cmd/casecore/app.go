package main

import (
	"context"
	"fmt"

	"casecore/internal/authz"
	"casecore/internal/blob"
	"casecore/internal/core"
	"casecore/internal/platform/config"
	"casecore/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app holds the wired service for one command invocation.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    core.OpenedStore
	svc      *core.Service
	registry *prometheus.Registry
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "casecore")
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	cipher, err := cfg.Cipher()
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	store, err := core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.StorageDriver),
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
		Cipher:      cipher,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StorageDriver, err)
	}
	registry := prometheus.NewRegistry()
	svc := core.NewService(store,
		core.WithLogger(log),
		core.WithMetrics(core.NewPrometheusMetrics(registry)),
		core.WithTracer(core.NewOTelTracer(nil)),
		core.WithAuthorizer(authz.NewRoleAuthorizer(store, log)),
	)
	log.Debug("store opened", zap.String("driver", cfg.StorageDriver), zap.Bool("encrypted", cipher.Enabled()))
	return &app{cfg: cfg, log: log, store: store, svc: svc, registry: registry}, nil
}

// close releases the store and, when metricsFile is set, writes the
// collected operation metrics in the Prometheus text format.
func (a *app) close(metricsFile string) error {
	var err error
	if metricsFile != "" {
		if werr := prometheus.WriteToTextfile(metricsFile, a.registry); werr != nil {
			err = fmt.Errorf("write metrics: %w", werr)
		}
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	_ = a.log.Sync()
	return err
}

func (a *app) sink(ctx context.Context) (blob.Store, error) {
	sink, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open %s blob sink: %w", a.cfg.Blob.Driver, err)
	}
	return sink, nil
}
