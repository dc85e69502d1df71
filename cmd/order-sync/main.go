package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"order-sync/internal/common/config"
	"order-sync/internal/common/logger"
	"order-sync/internal/domain"
	"order-sync/internal/microservices/agent"
	"order-sync/internal/microservices/notificator"
	"order-sync/internal/microservices/relay"
)

func main() {
	mode := flag.String("mode", "", "sync-agent | feed-relay | notification-subscriber")
	cfgPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml, then environment only)")
	port := flag.Int("port", 0, "sync-agent: http port, overrides config")
	userID := flag.String("user-id", "", "notification-subscriber: watch this user's orders")
	restaurantID := flag.String("restaurant-id", "", "notification-subscriber: watch this restaurant's orders")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}
	logger.SetEnv(cfg.Log.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "sync-agent":
		lg := logger.New("sync-agent")
		defer lg.Sync()
		lg.Info("service_started", zap.Int("port", cfg.HTTP.Port), zap.String("gateway", cfg.Gateway.Kind))
		if err := agent.Run(ctx, cfg, lg); err != nil {
			lg.Error("fatal", err)
			lg.Sync()
			os.Exit(1)
		}
	case "feed-relay":
		lg := logger.New("feed-relay")
		defer lg.Sync()
		lg.Info("service_started", zap.String("exchange", cfg.Rabbit.Exchange))
		if err := relay.Run(ctx, cfg, lg); err != nil {
			lg.Error("fatal", err)
			lg.Sync()
			os.Exit(1)
		}
	case "notification-subscriber":
		scope := domain.ByUser(*userID)
		if scope.IsNone() {
			scope = domain.ByRestaurant(*restaurantID)
		}
		if scope.IsNone() {
			fmt.Fprintln(os.Stderr, "--user-id or --restaurant-id is required for notification-subscriber")
			os.Exit(2)
		}
		lg := logger.New("notification-subscriber")
		defer lg.Sync()
		lg.Info("service_started", zap.Stringer("scope", scope))
		if err := notificator.Run(ctx, cfg, scope, lg); err != nil {
			lg.Error("fatal", err)
			lg.Sync()
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: sync-agent | feed-relay | notification-subscriber")
		os.Exit(2)
	}
}

// loadConfig reads an explicit path, else the first config file found, else
// runs on defaults and the environment alone.
func loadConfig(path string) (config.App, error) {
	if path != "" {
		return config.Load(path)
	}
	found, err := config.FindConfig()
	if errors.Is(err, fs.ErrNotExist) {
		return config.FromEnv(), nil
	}
	if err != nil {
		return config.App{}, err
	}
	return config.Load(found)
}
