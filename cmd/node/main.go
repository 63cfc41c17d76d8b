package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leninjo/pairrelay/internal/backplane"
	"github.com/leninjo/pairrelay/internal/backplane/memory"
	"github.com/leninjo/pairrelay/internal/backplane/redis"
	"github.com/leninjo/pairrelay/internal/config"
	"github.com/leninjo/pairrelay/internal/logging"
	"github.com/leninjo/pairrelay/internal/registry"
	"github.com/leninjo/pairrelay/internal/server"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bp := openBackplane(ctx, logger, cfg.Backplane)
	defer bp.Close()

	reg := registry.New()
	srv := server.NewNodeServer(cfg, logger, reg, bp)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

// openBackplane never fails: an unreachable Redis is logged and the relay
// subscriber reports its own failure when the server starts it.
func openBackplane(ctx context.Context, log *zap.Logger, cfg config.BackplaneConfig) backplane.Backplane {
	if cfg.Driver == config.DriverMemory {
		log.Info("using in-process backplane; cross-instance relay disabled")
		return memory.New()
	}

	bp := redis.New(redis.Config{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		Channel:  cfg.Channel,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bp.Ping(pingCtx); err != nil {
		log.Error("redis backplane unreachable", zap.String("address", cfg.Address), zap.Error(err))
	} else {
		log.Info("redis backplane connected", zap.String("address", cfg.Address), zap.String("channel", bp.Channel()))
	}
	return bp
}
