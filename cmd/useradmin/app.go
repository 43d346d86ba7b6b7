package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"useradmin/internal/config"
	"useradmin/internal/keystore"
	"useradmin/internal/metrics"
	"useradmin/internal/pipeline"
	"useradmin/internal/store"
	boltstore "useradmin/internal/store/bolt"
	"useradmin/internal/user"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	keys     *keystore.KeyStore
	history  store.KeyLog
	repo     *user.GormRepository
	users    *user.Service
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

// openKeys builds the key store and its history log. It does not
// initialize the store.
func openKeys(cfg *config.Config) (*keystore.KeyStore, store.KeyLog, error) {
	var history store.KeyLog
	if cfg.Keys.HistoryPath != "" {
		db, err := boltstore.Open(cfg.Keys.HistoryPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening key history: %w", err)
		}
		history = db
	} else {
		history = store.NewMemoryKeyLog()
	}
	ks := keystore.New(keystore.Config{
		Dir:     cfg.Keys.Dir,
		Scheme:  cfg.Keys.Scheme,
		History: history,
	})
	return ks, history, nil
}

// newApp wires the service. With initKeys the signing keys are loaded or
// generated and a failure aborts; commands that never sign skip it.
func newApp(cfg *config.Config, initKeys bool) (*app, error) {
	keys, history, err := openKeys(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, keys: keys, history: history}
	if initKeys {
		if err := keys.Initialize(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("initializing signing keys: %w", err)
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	repo, err := user.OpenDB(cfg.Database.Path)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.repo = repo
	a.pipeline = pipeline.New(pipeline.Config{
		Keys:        keys,
		Metrics:     a.metrics,
		Concurrency: cfg.Server.VerifyConcurrency,
	})
	a.users = user.NewService(repo, a.pipeline)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	return errors.Join(errs...)
}
