package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duskbot/vocalcore/internal/cache"
	"github.com/duskbot/vocalcore/internal/config"
	"github.com/duskbot/vocalcore/internal/dashboard"
	"github.com/duskbot/vocalcore/internal/httpapi"
	"github.com/duskbot/vocalcore/internal/logging"
	"github.com/duskbot/vocalcore/internal/playback"
	"github.com/duskbot/vocalcore/pkg/deps"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vocalcore",
	Short: "vocalcore is a dual-deck voice-chat music playback core",
	Long:  "vocalcore coordinates a dual-deck mixer sidecar for gapless, crossfaded voice-chat playback.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() {
	_ = godotenv.Load()
	cfg = config.Load()
	logger = logging.Setup(cfg.Environment)
}

func runServe(cmd *cobra.Command, args []string) error {
	loadConfig()
	logger.Info().Msg("vocalcore starting")

	checker := deps.NewChecker(cfg.MixerBinaryPath)
	if err := checker.CheckAndLog(logger); err != nil {
		return fmt.Errorf("dependency preflight: %w", err)
	}

	persist := playback.NewJSONFileStore(cfg.QueuePersistencePath)
	statsStore := playback.NewStatsStore(cfg.StatsPersistencePath)
	statsTracker, err := playback.NewStatsTracker(statsStore)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}

	var sink playback.EventSink = playback.NewMemoryBus()
	var dashboardSink *dashboard.NATSSink
	if cfg.NATSURL != "" {
		dashboardSink = dashboard.NewNATSSink(dashboard.Config{URL: cfg.NATSURL}, logger)
		sink = dashboardSink
	}

	sessionCache := cache.New(cache.Config{RedisAddr: cfg.RedisAddr, DisableOnError: true}, logger)
	defer sessionCache.Close()

	var registry *playback.Registry
	registry = playback.NewRegistry(playback.Deps{
		Logger:  logger,
		Sink:    sink,
		Persist: persist,
		NewMixer: func(guildID string) playback.Mixer {
			return playback.NewMixerController(cfg.MixerBinaryPath, cfg.MixerStartupTimeoutMS, cfg.RestartCooldownMS, logger)
		},
		Stats:                 statsTracker,
		VersionHistoryLen:     cfg.VersionHistoryLen,
		MaxQueueSize:          cfg.MaxQueueSize,
		CrossfadeMS:           int(cfg.CrossfadeMS.Milliseconds()),
		MinCrossfadeMS:        int(cfg.MinCrossfadeMS.Milliseconds()),
		BarrierMinThrottle:    cfg.BarrierMinThrottleMS,
		BarrierTimeout:        cfg.BarrierTimeoutMS,
		CmdTimeout:            cfg.CmdTimeoutMS,
		BufferWait:            cfg.BufferWaitMS,
		SkipLockTTL:           cfg.SkipLockTTLMS,
		MixerStartupTimeout:   cfg.MixerStartupTimeoutMS,
		RestartCooldownBase:   500 * time.Millisecond,
		RestartCooldownStep:   500 * time.Millisecond,
		CrashRecoveryMaxTries: cfg.CrashRecoveryMaxTries,
		PreloadDelay:          cfg.PreloadDelayMS,
		OnDisconnect: func(guildID string) {
			logger.Warn().Str("guild", guildID).Msg("mixer recovery exhausted, disconnecting")
			registry.StopSession(guildID)
		},
	})
	defer registry.Shutdown()

	api := httpapi.NewAPI(registry)
	router := httpapi.SetupRouter(api, cfg.Environment)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	flushTicker := time.NewTicker(30 * time.Second)
	defer flushTicker.Stop()
	go func() {
		for range flushTicker.C {
			if err := statsTracker.Flush(); err != nil {
				logger.Warn().Err(err).Msg("periodic stats flush failed")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := statsTracker.Flush(); err != nil {
		logger.Error().Err(err).Msg("final stats flush failed")
	}
	if dashboardSink != nil {
		dashboardSink.Close()
	}

	logger.Info().Msg("vocalcore stopped")
	return nil
}
