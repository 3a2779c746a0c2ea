package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/playdesk/internal/access"
	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/auth"
	"github.com/goodtune/playdesk/internal/checkin"
	"github.com/goodtune/playdesk/internal/config"
	"github.com/goodtune/playdesk/internal/console"
	"github.com/goodtune/playdesk/internal/feed"
	"github.com/goodtune/playdesk/internal/metrics"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/goodtune/playdesk/internal/storage/memory"
	"github.com/goodtune/playdesk/internal/storage/redis"
	"github.com/goodtune/playdesk/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the PlayDesk console server",
	Long:  `Start the console HTTP server and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting PlayDesk")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	apiClient, err := newAPIClient(cfg.API, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize API client: %w", err)
	}

	logger.Info().Str("base_url", cfg.API.BaseURL).Msg("API client initialized")

	accessEngine, err := access.NewEngine(cfg.Access.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize access policy: %w", err)
	}

	if cfg.Console.JWTSecret == "" {
		logger.Warn().Msg("console.jwt_secret is not set; API token signatures will not be verified")
	}

	authService := auth.NewService(
		apiClient,
		store.ConsoleSessions(),
		cfg.Console.JWTSecret,
		config.Duration(cfg.Console.SessionTimeout),
		logger,
	)

	activeFeed := feed.New(apiClient, store.Snapshots(), checkin.RealClock{}, feed.Config{
		RefreshInterval:  config.Duration(cfg.Feed.RefreshInterval),
		DisplayInterval:  config.Duration(cfg.Feed.DisplayInterval),
		SnapshotTTL:      config.Duration(cfg.Feed.SnapshotTTL),
		NearLimitMinutes: cfg.Feed.NearLimitMinutes,
	}, logger)

	consoleAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	consoleServer := console.NewServer(console.Config{
		ListenAddr:     consoleAddr,
		CookieName:     cfg.Console.CookieName,
		SecureCookie:   cfg.Console.SecureCookie,
		ScanStateTTL:   config.Duration(cfg.Console.ScanStateTTL),
		RateLimit:      cfg.Console.RateLimit,
		RateLimitBurst: cfg.Console.RateLimitBurst,
		AllowedOrigins: cfg.Console.AllowedOrigins,
	}, apiClient, store, authService, accessEngine, activeFeed, logger)

	if sdListeners.HTTP != nil {
		consoleServer.SetListener(sdListeners.HTTP)
	}

	if err := consoleServer.Start(); err != nil {
		return fmt.Errorf("failed to start console server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().
		Str("console", consoleAddr).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("PlayDesk startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading access policy...")
		_ = systemd.NotifyReloading()
		if err := accessEngine.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload access policy")
		}
		_ = systemd.NotifyReady()
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := consoleServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping console server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("PlayDesk stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(memory.Options{Size: cfg.MemorySize}), nil
	case "redis":
		store, err := redis.Open(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func newAPIClient(cfg config.APIConfig, logger zerolog.Logger) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Options{
		BaseURL:         cfg.BaseURL,
		Timeout:         config.Duration(cfg.Timeout),
		RetryMax:        cfg.RetryMax,
		RetryWaitMin:    config.Duration(cfg.RetryWaitMin),
		RetryWaitMax:    config.Duration(cfg.RetryWaitMax),
		BranchCacheSize: cfg.BranchCacheSize,
		BranchCacheTTL:  config.Duration(cfg.BranchCacheTTL),
		Logger:          logger,
	})
}
