package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/omnistore/internal/backend"
	"github.com/devrev/omnistore/internal/backend/configmap"
	"github.com/devrev/omnistore/internal/backend/redisbackend"
	"github.com/devrev/omnistore/internal/backend/registry"
	"github.com/devrev/omnistore/internal/config"
	"github.com/devrev/omnistore/internal/metrics"
	"github.com/devrev/omnistore/internal/server"
	"github.com/devrev/omnistore/internal/service"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("instance_id", cfg.Server.InstanceID),
		zap.String("strategy", cfg.Strategy.Mode),
		zap.Int("backends", len(cfg.Backends)))

	// Initialize metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Server.InstanceID)
	}

	// Build the orchestrator and register backends in config order
	orchestrator := service.New(cfg, m, logger)
	for i := range cfg.Backends {
		b, err := buildBackend(&cfg.Backends[i], logger)
		if err != nil {
			logger.Fatal("Failed to initialize backend",
				zap.String("backend", cfg.Backends[i].Name),
				zap.Error(err))
		}
		if err := orchestrator.RegisterBackend(backend.Descriptor{
			Name:     cfg.Backends[i].Name,
			Backend:  b,
			Priority: cfg.Backends[i].Priority,
			Timeout:  cfg.Backends[i].Timeout,
		}); err != nil {
			logger.Fatal("Failed to register backend",
				zap.String("backend", cfg.Backends[i].Name),
				zap.Error(err))
		}
	}

	if err := orchestrator.Setup(context.Background()); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	// Health probe server
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:      orchestrator.Prober().Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting health server", zap.String("addr", healthServer.Addr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed", zap.Error(err))
		}
	}()

	// Metrics server
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, m, orchestrator, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	logger.Info("Storage layer running", zap.String("instance_id", cfg.Server.InstanceID))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health server shutdown failed", zap.Error(err))
	}
	if err := orchestrator.Teardown(shutdownCtx); err != nil {
		logger.Error("Orchestrator teardown incomplete", zap.Error(err))
	}
}

// buildBackend constructs one adapter from its configuration section
func buildBackend(bc *config.BackendConfig, logger *zap.Logger) (backend.Backend, error) {
	switch bc.Type {
	case config.BackendRedis:
		return redisbackend.New(&redisbackend.Config{
			Name:        bc.Name,
			Addr:        bc.Redis.Addr,
			Password:    bc.Redis.Password,
			DB:          bc.Redis.DB,
			KeyPrefix:   bc.Redis.KeyPrefix,
			MaxVersions: bc.Redis.MaxVersions,
			PoolSize:    bc.Redis.PoolSize,
		}, logger.Named(bc.Name))
	case config.BackendRegistry:
		return registry.New(&registry.Config{
			Name:       bc.Name,
			URL:        bc.Registry.URL,
			Repository: bc.Registry.Repository,
			Timeout:    bc.Timeout,
		}, logger.Named(bc.Name))
	case config.BackendConfigMap:
		token := bc.ConfigMap.Token
		if token == "" && bc.ConfigMap.TokenFile != "" {
			data, err := os.ReadFile(bc.ConfigMap.TokenFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read token file: %w", err)
			}
			token = string(data)
		}
		return configmap.New(&configmap.Config{
			Name:      bc.Name,
			APIServer: bc.ConfigMap.APIServer,
			Namespace: bc.ConfigMap.Namespace,
			Token:     token,
			Timeout:   bc.Timeout,
		}, logger.Named(bc.Name))
	default:
		return nil, fmt.Errorf("unknown backend type %q", bc.Type)
	}
}

// initLogger initializes the zap logger from config
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}
