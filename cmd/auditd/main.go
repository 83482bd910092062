package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/auditkit/pkg/async"
	"github.com/platinummonkey/auditkit/pkg/auditing"
	"github.com/platinummonkey/auditkit/pkg/auditing/httpaudit"
	"github.com/platinummonkey/auditkit/pkg/auditstore"
	"github.com/platinummonkey/auditkit/pkg/config"
	"github.com/platinummonkey/auditkit/pkg/httputil"
	"github.com/platinummonkey/auditkit/pkg/observability"
)

// version is set at build time
var version = "dev"

const maxRequestBytes = 1 << 20

var configPath = flag.String("config", "", "Path to the YAML configuration file (defaults to AUDITKIT_CONFIG_FILE)")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := *configPath
	if path == "" {
		path = os.Getenv("AUDITKIT_CONFIG_FILE")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelCfg := observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}
	tp, err := observability.InitTracing(ctx, otelCfg, logger)
	if err != nil {
		return err
	}

	otelCfg.Enabled = cfg.Observability.OTelMetricsEnabled
	mp, err := observability.InitMetrics(ctx, otelCfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	recorder, err := newRecorder(metrics, mp != nil)
	if err != nil {
		return err
	}

	stores, err := auditstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open audit stores: %w", err)
	}
	stores.SetObserver(recorder)

	manager, err := auditing.NewManager(stores.Store(), newRegistry(),
		auditing.WithOptions(engineOptions(cfg.Auditing)),
		auditing.WithLogger(logger.WithField("component", "auditing")),
		auditing.WithMetrics(recorder),
	)
	if err != nil {
		_ = stores.Close()
		return err
	}

	router := newRouter(cfg, manager, stores, metrics, registry, logger)
	handler := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "auditd"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var scheduler *cron.Cron
	if purger := stores.Purger(); cfg.Retention.Enabled && purger != nil {
		scheduler, err = startRetention(cfg.Retention, purger, recorder, logger)
		if err != nil {
			_ = stores.Close()
			return err
		}
	}

	if path != "" {
		async.SafeGo(ctx, logger, 0, "config watch", func(ctx context.Context) error {
			return config.Watch(ctx, path, logger, func(c *config.Config) {
				manager.SetOptions(engineOptions(c.Auditing))
				logger.SetLevel(c.Observability.Level())
			})
		})
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("retention", func(ctx context.Context) error {
		if scheduler == nil {
			return nil
		}
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("audit manager", manager.Shutdown)
	shutdown.RegisterShutdownFunc("audit stores", func(ctx context.Context) error {
		return stores.Close()
	})
	shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})
	shutdown.RegisterShutdownFunc("metrics", func(ctx context.Context) error {
		return observability.ShutdownMetrics(ctx, mp, logger)
	})

	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"version": version,
			"stores":  cfg.Store.Types,
		}).Info("Starting auditd")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}

// engineOptions converts the auditing configuration and adds the contributors
// that copy request identity onto each log
func engineOptions(cfg config.AuditingConfig) auditing.Options {
	opts := cfg.Options()
	opts.Contributors = append(opts.Contributors,
		auditing.CorrelationContributor(),
		auditing.IdentityContributor(),
	)
	return opts
}

// newRecorder returns the prometheus metrics, joined by OTLP instruments on the
// global meter provider when OTLP export is enabled
func newRecorder(metrics *observability.Metrics, exportOTLP bool) (observability.Recorders, error) {
	if !exportOTLP {
		return observability.Combine(metrics), nil
	}
	otelMetrics, err := observability.NewOTelMetrics(nil)
	if err != nil {
		return nil, err
	}
	return observability.Combine(metrics, otelMetrics), nil
}

func newRouter(cfg *config.Config, manager *auditing.Manager, stores *auditstore.Stores, metrics *observability.Metrics, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()

	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
		observability.RegisterMetricsEndpoint(router, gatherer)
	}

	health := observability.NewHealthChecker(stores.DB(), stores.RedisClient(), version)
	if stores.File != nil {
		health.AddCheck("file", false, stores.File.Ping)
	}
	if stores.S3 != nil {
		health.AddCheck("s3", true, stores.S3.Ping)
	}
	observability.RegisterHealthRoutes(router, health)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(httputil.MaxBytesMiddleware(maxRequestBytes))
	api.Use(identityMiddleware)
	api.Use(httpaudit.NewMiddleware(manager, logger).MuxMiddleware())
	registerOrderRoutes(api, NewOrderService(manager))

	return router
}
