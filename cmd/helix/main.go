package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/cache"
	"github.com/helixchat/helix/internal/common/config"
	"github.com/helixchat/helix/internal/conversation"
	"github.com/helixchat/helix/internal/ratelimit"
	"github.com/helixchat/helix/internal/relay"
	"github.com/helixchat/helix/internal/server"
	"github.com/helixchat/helix/internal/stream"
	"github.com/helixchat/helix/internal/upstream"
	"github.com/helixchat/helix/pkg/helper"
	"github.com/helixchat/helix/pkg/logger"
	"github.com/helixchat/helix/pkg/metrics"
	"github.com/helixchat/helix/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of helix",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("helix version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "helix",
		Short: "Helix streaming inference gateway",
		Long:  `Helix relays chat requests to an inference engine over SSE with admission control, caching and stream tracking`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "configs/helix.yaml", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() {
	cfg, err := config.LoadConfig(helper.GetCfgPath(configPath))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("starting helix",
		zap.String("version", version.Get()),
		zap.Int("port", cfg.Server.Port))

	if cfg.Server.PID != "" {
		pidPath := helper.GetPIDPath(cfg.Server.PID)
		if err := helper.WritePID(pidPath); err != nil {
			zlog.Fatal("failed to write PID file",
				zap.String("path", pidPath),
				zap.Error(err))
		}
		defer func() {
			if err := helper.RemovePID(pidPath); err != nil {
				zlog.Warn("failed to remove PID file",
					zap.String("path", pidPath),
					zap.Error(err))
			}
		}()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zlog.Warn("counter store unreachable at startup, continuing in degraded mode",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
	}
	cancelPing()

	db, err := conversation.NewDatabase(&cfg.Database)
	if err != nil {
		zlog.Fatal("failed to initialize conversation store", zap.Error(err))
	}
	defer db.Close()

	var (
		m        *metrics.Metrics
		stats    cache.StatsRecorder
		observer relay.Observer
	)
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
		stats = m
		observer = m
	}

	coord := cache.NewCoordinator(zlog, rdb, stats, cfg.Cache.Enabled)
	limiter := ratelimit.NewLimiter(zlog, rdb)
	if m != nil {
		limiter = limiter.WithStats(m)
	}

	registry := stream.NewRegistry(zlog, rdb, cfg.Stream.SessionTTL, cfg.Stream.SweepInterval)
	registry.StartSweeper()
	defer registry.Stop()

	uc := upstream.NewClient(zlog, cfg.Upstream)
	policy := upstream.PolicyFromConfig(cfg.Upstream.MaxRetries, cfg.Upstream.RetryBaseWait, cfg.Upstream.RetryMaxWait)
	rly := relay.New(zlog, db, coord, registry, uc, policy, observer, cfg.Upstream.Model, cfg.Upstream.Provider)

	srv := server.NewServer(zlog, cfg, rly, db, coord, registry, limiter, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		zlog.Fatal("http server failed", zap.Error(err))
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
