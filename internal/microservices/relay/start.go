// Package relay turns row changes on the orders table into change feed messages.
package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"order-sync/internal/common/config"
	"order-sync/internal/common/logger"
	"order-sync/internal/connections/database"
	"order-sync/internal/connections/rabbitmq"
	"order-sync/internal/feed"
	"order-sync/internal/gateway/pggateway"
	"order-sync/internal/microservices/relay/repository"
	"order-sync/internal/microservices/relay/service"
)

// Run installs the trigger and relays notifications until ctx ends. Broken
// broker or database connections are re-established with backoff.
func Run(ctx context.Context, cfg config.App, log *logger.Logger) error {
	if err := cfg.ValidateRelay(); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.New(pool)
	if err := repo.InstallSchema(ctx); err != nil {
		return err
	}
	log.Info("schema_installed")

	rows := pggateway.New(pool)
	backoff := feed.BackoffFrom(cfg.Sync.Backoff)
	failures := 0
	for {
		started := time.Now()
		err := relayOnce(ctx, cfg, repo, rows, log)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > backoff.Max {
			failures = 0
		}
		failures++
		delay := backoff.Delay(failures)
		log.Error("relay_interrupted", err, zap.Int("attempt", failures), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func relayOnce(ctx context.Context, cfg config.App, repo repository.RelayRepositoryInterface, rows service.OrderReader, log *logger.Logger) error {
	dctx, cancel := context.WithTimeout(ctx, cfg.Sync.OpenTimeout)
	client, err := rabbitmq.Dial(dctx, rabbitmq.ConfigFrom(cfg.Rabbit), true)
	cancel()
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer client.Close()
	if err := client.DeclareTopic(cfg.Rabbit.Exchange); err != nil {
		return fmt.Errorf("declare %s: %w", cfg.Rabbit.Exchange, err)
	}

	svc := service.New(client, rows, cfg.Rabbit.Exchange, log)
	log.Info("relay_listening", zap.String("channel", repository.Channel), zap.String("exchange", cfg.Rabbit.Exchange))
	return repo.Listen(ctx, svc.Handle)
}
