package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waroom/internal/config"
	"waroom/internal/constants"
	"waroom/internal/gateway"
	"waroom/internal/lifecycle"
	"waroom/internal/models"
	"waroom/internal/registry"
	"waroom/internal/retry"
	"waroom/internal/rooms"
	"waroom/internal/store"
	"waroom/internal/tracing"
	"waroom/pkg/waclient"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("waroom %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting waroom")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg)

	tracingManager := startTracing(ctx, cfg, logger)
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize the session registry with exponential backoff retry
	var reg *registry.Registry
	backoffConfig := retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultRegistryRetryAttempts,
		Jitter:       true,
	}
	backoff := retry.NewBackoff(backoffConfig)

	err = backoff.Retry(ctx, func() error {
		var initErr error
		reg, initErr = registry.New(cfg.Registry.Path, constants.DefaultBusyTimeoutMs*time.Millisecond)
		if initErr != nil {
			logger.Warnf("Failed to initialize registry: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize registry after retries: %w", err)
	}
	defer reg.Close()

	apiKey := os.Getenv("WHATSAPP_API_KEY")
	if apiKey == "" {
		logger.Warn("WHATSAPP_API_KEY is not set, engine requests will be unauthenticated")
	}

	engine := waclient.NewHTTPClient(waclient.Config{
		BaseURL:    cfg.WhatsApp.APIBaseURL,
		APIKey:     apiKey,
		Timeout:    cfg.WhatsApp.Timeout,
		RetryCount: cfg.WhatsApp.RetryCount,
	}, logger)

	broadcaster := rooms.NewBroadcaster(logger)

	controller := lifecycle.NewController(store.New(), engine, broadcaster, reg, lifecycle.Options{
		ScanTimeout:   time.Duration(cfg.Session.ScanTimeoutSec) * time.Second,
		IdleThreshold: time.Duration(cfg.Session.IdleThresholdSec) * time.Second,
		SweepInterval: time.Duration(cfg.Session.SweepIntervalSec) * time.Second,
		QueueSize:     cfg.Session.QueueSize,
	}, logger)
	controller.Start()
	defer controller.Shutdown()

	// Re-initiate handshakes for every session that survived the restart.
	registered, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registered sessions: %w", err)
	}
	for _, rec := range registered {
		if _, err := controller.Create(ctx, rec.ID, rec.DisplayName); err != nil {
			logger.WithError(err).WithField("session", rec.ID).Warn("Failed to recreate registered session")
		}
	}
	if len(registered) > 0 {
		logger.WithField("count", len(registered)).Info("Recreated registered sessions")
	}

	gw := gateway.NewGateway(broadcaster, controller, logger, gateway.Options{
		WriteBufferSize: cfg.Server.WriteBufferSize,
		PingInterval:    constants.DefaultPingIntervalSec * time.Second,
		WriteDeadline:   constants.DefaultWriteDeadlineSec * time.Second,
	})

	server := NewServer(cfg, controller, gw, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// configureLogLevel applies the -verbose flag or the configured level. Debug
// comes only from the flag since config files travel between environments.
func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
		return
	}

	level := logrus.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := logrus.ParseLevel(cfg.LogLevel)
		switch {
		case err != nil:
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		case parsed > logrus.InfoLevel:
			// config cannot raise verbosity past info
		default:
			level = parsed
		}
	}
	logger.SetLevel(level)
}

// startTracing initializes OpenTelemetry. Failure to reach the collector is
// logged but never fatal.
func startTracing(ctx context.Context, cfg *models.Config, logger *logrus.Logger) *tracing.TracingManager {
	manager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := manager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	return manager
}
