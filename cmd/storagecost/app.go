package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rshade/storagecost/internal/assumptions"
	"github.com/rshade/storagecost/internal/config"
	"github.com/rshade/storagecost/internal/estimate"
	"github.com/rshade/storagecost/internal/forecast"
	"github.com/rshade/storagecost/internal/history"
	"github.com/rshade/storagecost/internal/logging"
	"github.com/rshade/storagecost/internal/metrics"
	"github.com/rshade/storagecost/internal/model"
	"github.com/rshade/storagecost/internal/pricing"
	"github.com/rshade/storagecost/internal/recalc"
	"github.com/rshade/storagecost/internal/store"
	"github.com/rshade/storagecost/internal/telemetry"
)

const defaultConfigFile = "storagecost.yaml"

// recordStore is what both store backends provide.
type recordStore interface {
	assumptions.Store
	recalc.RecordStore
	PutVolume(ctx context.Context, rec model.VolumeRecord) error
}

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	logLevel   string
	stateFile  string
}

// app wires the engine for one command invocation.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
	out    io.Writer

	store       recordStore
	assumptions *assumptions.Service
	estimator   *estimate.Estimator
	recalc      *recalc.Orchestrator
	forecaster  *forecast.Engine

	metricsServer *http.Server
}

func newApp(ctx context.Context, opts globalOptions, stdout, stderr io.Writer) (*app, error) {
	path := opts.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	cfg, err := config.Load(path, logging.New(stderr, opts.logLevel, true))
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.stateFile != "" {
		cfg.Store.StateFile = opts.stateFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(stderr, cfg.Log.Level, true)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewRecorder(reg)

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	var metricsFetcher telemetry.MetricsFetcher
	if cfg.Telemetry.File != "" {
		sf, err := telemetry.LoadStaticFile(cfg.Telemetry.File)
		if err != nil {
			return nil, err
		}
		metricsFetcher = sf
	}

	prices := pricing.NewClient(
		pricing.NewHTTPFetcher(cfg.Pricing.Endpoint, nil, cfg.Pricing.MaxPages),
		logger,
		pricing.Options{
			CacheTTL:     cfg.Pricing.CacheTTL,
			FetchTimeout: cfg.Pricing.FetchTimeout,
			MaxRetries:   cfg.Pricing.MaxRetries,
			Metrics:      recorder,
		},
	)
	svc := assumptions.NewService(st, logger, assumptions.Options{
		GlobalCacheTTL:             cfg.Assumptions.GlobalCacheTTL,
		DefaultCoolDataPercentage:  cfg.Assumptions.DefaultCoolPercentage,
		DefaultRetrievalPercentage: cfg.Assumptions.DefaultRetrievalPercentage,
		Metrics:                    recorder,
	})
	est := estimate.NewEstimator(
		estimate.NewRegistry(prices, logger, time.Now),
		svc,
		metricsFetcher,
		logger,
		estimate.EstimatorOptions{
			MetricsTimeout: cfg.Telemetry.FetchTimeout,
			LookbackDays:   cfg.Telemetry.LookbackDays,
			Concurrency:    cfg.Recalc.Concurrency,
			Metrics:        recorder,
		},
	)

	a := &app{
		cfg:         cfg,
		logger:      logger,
		out:         stdout,
		store:       st,
		assumptions: svc,
		estimator:   est,
		recalc:      recalc.New(st, est, logger, recalc.Options{Concurrency: cfg.Recalc.Concurrency, Metrics: recorder}),
		forecaster:  forecast.NewEngine(logger),
	}
	if cfg.Metrics.Listen != "" {
		a.serveMetrics(reg)
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (recordStore, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		return store.OpenDynamo(ctx, cfg.DynamoDBTable, cfg.Region)
	default:
		if cfg.StateFile == "" {
			return store.NewMemory(), nil
		}
		return store.OpenFile(cfg.StateFile)
	}
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info().Str("addr", a.cfg.Metrics.Listen).Msg("serving metrics")
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}

// close stops the metrics listener.
func (a *app) close() {
	if a.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("metrics listener shutdown failed")
	}
}

// historySource picks the daily cost source: an explicit file, then the configured database.
func (a *app) historySource(ctx context.Context, daysFile string) (history.Source, func(), error) {
	if daysFile != "" {
		src, err := history.LoadFile(daysFile)
		return src, func() {}, err
	}
	if a.cfg.History.DSN == "" {
		return nil, func() {}, nil
	}
	src, err := history.OpenPostgres(ctx, a.cfg.History.DSN, a.cfg.History.Table)
	if err != nil {
		return nil, func() {}, err
	}
	return src, func() {
		if err := src.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing history database")
		}
	}, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
