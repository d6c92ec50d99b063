package recoverymon

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"saferecovery/gateway/middleware"
	"saferecovery/gateway/routes"
	"saferecovery/observability/logging"
	telemetry "saferecovery/observability/otel"
	"saferecovery/safe/delay"
	"saferecovery/safe/multisend"
)

// Main initialises and runs the recovery monitor.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/recoverymon/config.yaml", "path to recoverymon configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogs := logging.Setup("recoverymon", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer func() { _ = closeLogs() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "recoverymon",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	registry, err := loadRegistry(cfg.Deployments)
	if err != nil {
		return fmt.Errorf("load deployments: %w", err)
	}
	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	reader, closeReader, err := delay.DialRPCReader(dialCtx, cfg.RPC.Endpoint, delay.WithRateLimit(cfg.RPC.RateLimit, cfg.RPC.Burst))
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", logging.MaskEndpoint(cfg.RPC.Endpoint), err)
	}
	defer closeReader()

	creations := delay.NewCreationLookup(&http.Client{
		Timeout:   cfg.Indexer.Timeout.Duration,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	reconstructor := delay.NewReconstructor(reader, registry,
		delay.WithCreationLookup(creations),
		delay.WithLogger(logger),
		delay.WithTimeout(cfg.RPC.Timeout.Duration),
	)

	monitor, err := NewMonitor(reconstructor, targets, cfg.RPC.ChainID, cfg.Indexer.URL,
		WithMonitorLogger(logger),
		WithConcurrency(cfg.Concurrency),
		WithInterval(cfg.PollInterval.Duration),
	)
	if err != nil {
		return err
	}

	handler, err := routes.New(routes.Config{
		ChainID:       cfg.RPC.ChainID,
		IndexerURL:    cfg.Indexer.URL,
		QueueTimeout:  cfg.RPC.Timeout.Duration,
		Reconstructor: reconstructor,
		Registry:      registry,
		Snapshots:     monitor,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(rateLimits(cfg.RateLimits), logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "recoverymon"}, logger),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RPC.Timeout.Duration + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		logger.Info("recoverymon listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("rpc", logging.MaskEndpoint(cfg.RPC.Endpoint)),
			slog.String("indexer", logging.MaskEndpoint(cfg.Indexer.URL)),
			slog.Int("wallets", len(targets)))
		errs <- httpServer.ListenAndServe()
	}()
	go func() {
		errs <- monitor.Run(stopCtx)
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func loadRegistry(overridePath string) (*multisend.Registry, error) {
	registry, err := multisend.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(overridePath) == "" {
		return registry, nil
	}
	override, err := multisend.LoadRegistry(overridePath)
	if err != nil {
		return nil, err
	}
	return registry.Merge(override), nil
}

func rateLimits(cfg map[string]RateLimitConfig) map[string]middleware.RateLimit {
	limits := map[string]middleware.RateLimit{
		routes.RateLimitQueue: {RatePerSecond: 2, Burst: 10},
		routes.RateLimitPlan:  {RatePerSecond: 10, Burst: 20},
	}
	for key, value := range cfg {
		limits[key] = middleware.RateLimit{
			RatePerSecond: value.RatePerSecond,
			Burst:         value.Burst,
			Tokens:        value.Tokens,
		}
	}
	return limits
}
