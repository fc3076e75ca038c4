package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/nestling/internal/analyzers"
	"github.com/miradorstack/nestling/internal/api"
	"github.com/miradorstack/nestling/internal/cache"
	"github.com/miradorstack/nestling/internal/config"
	"github.com/miradorstack/nestling/internal/engine"
	"github.com/miradorstack/nestling/internal/metrics"
	"github.com/miradorstack/nestling/internal/privacy"
	"github.com/miradorstack/nestling/internal/repo"
	"github.com/miradorstack/nestling/internal/secrets"
	"github.com/miradorstack/nestling/internal/services"
	"github.com/miradorstack/nestling/internal/storage"
	"github.com/miradorstack/nestling/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting nestling-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.Open(storage.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger.With(slog.String("component", "badger")),
	})
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	device, err := secrets.LoadDeviceKey(cfg.Secrets.DeviceSeedPath)
	if err != nil {
		logger.Error("failed to load device key", slog.Any("error", err))
		os.Exit(1)
	}
	assembler, err := secrets.NewAssembler(secrets.AssemblerConfig{
		Store:     secrets.NewBadgerStore(db),
		Fragments: secrets.SelectFragment(cfg.Secrets.MiddleFragment, cfg.Secrets.MiddleFragmentPath),
		Device:    device,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build credential assembler", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider(cache.DefaultMemoryEntries)
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			KeyPrefix:    cfg.Cache.KeyPrefix,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	var cloud engine.CloudAnalyzer
	if cfg.Cloud.BaseURL != "" {
		cloud = repo.NewCloudClient(repo.CloudConfig{
			BaseURL:           cfg.Cloud.BaseURL,
			SleepPath:         cfg.Cloud.SleepPath,
			RoutinePath:       cfg.Cloud.RoutinePath,
			PredictionPath:    cfg.Cloud.PredictionPath,
			Timeout:           cfg.Cloud.Timeout,
			CacheTTL:          cfg.Cloud.CacheTTL,
			RequestsPerMinute: cfg.Cloud.RequestsPerMinute,
			Burst:             cfg.Cloud.Burst,
		}, assembler, cacheProvider, logger)
	} else {
		logger.Info("cloud base URL not configured, analyses run locally")
	}

	table, err := analyzers.LoadRecommendationTable(cfg.Recommendations.Path, logger)
	if err != nil {
		logger.Error("failed to load recommendation table", slog.Any("error", err))
		os.Exit(1)
	}

	network := engine.NewSwitchableNetwork(networkState(cfg.Policy))
	records := repo.NewBadgerRecordStore(db)
	hybrid := engine.NewHybridEngine(
		logger,
		engine.Sources{Sleep: records.Sleep(), Feeding: records.Feeding(), Activity: records.Activity()},
		cloud,
		privacy.New(device.DeviceID()),
		engine.Policy{Network: network},
		analyzers.NewSleepAnalyzer(table, nil),
		analyzers.NewRoutineAnalyzer(table, nil),
		analyzers.NewPredictionEngine(nil),
	)

	insightService := services.NewInsightService(logger, hybrid, records, cfg.Policy.Settings())

	server, err := api.NewServer(cfg.Server, insightService)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				fresh, err := config.Load(configPath)
				if err != nil {
					logger.Warn("config reload failed", slog.Any("error", err))
					continue
				}
				network.Set(networkState(fresh.Policy))
				logger.Info("network state reloaded",
					slog.Bool("connected", fresh.Policy.Connected), slog.Bool("wifi", fresh.Policy.WiFi))
			}
		}
	}()

	var adminServer *http.Server
	if cfg.Server.AdminAddress != "" {
		adminServer = &http.Server{
			Addr:         cfg.Server.AdminAddress,
			Handler:      api.NewAdminRouter(prometheus.DefaultGatherer, insightService),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("admin server listening", slog.String("address", cfg.Server.AdminAddress))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if adminServer != nil {
		adminCtx, cancelAdmin := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(adminCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server shutdown", slog.Any("error", err))
		}
		cancelAdmin()
	}

	logger.Info("nestling-engine stopped")
}

func networkState(p config.PolicyConfig) engine.NetworkState {
	return engine.NetworkState{Connected: p.Connected, WiFi: p.WiFi}
}
