// Package notificator tails the change feed of one scope and prints every change.
package notificator

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"order-sync/internal/common/config"
	"order-sync/internal/common/logger"
	"order-sync/internal/connections/rabbitmq"
	"order-sync/internal/domain"
	"order-sync/internal/feed"
	"order-sync/internal/feed/amqpfeed"
	"order-sync/internal/microservices/notificator/service"
)

// Run subscribes to scope's feed and blocks until ctx ends.
func Run(ctx context.Context, cfg config.App, scope domain.Scope, log *logger.Logger) error {
	if scope.IsNone() {
		return fmt.Errorf("a user or restaurant id is required")
	}
	if cfg.Rabbit.Host == "" || cfg.Rabbit.User == "" {
		return fmt.Errorf("rabbitmq config incomplete")
	}
	transport := amqpfeed.New(amqpfeed.Config{
		Broker:   rabbitmq.ConfigFrom(cfg.Rabbit),
		Exchange: cfg.Rabbit.Exchange,
		Prefetch: cfg.Rabbit.Prefetch,
	}, log)
	svc := service.NewNotificatorService(os.Stdout, log)
	backoff := feed.BackoffFrom(cfg.Sync.Backoff)
	failed := make(chan struct{}, 1)

	sub, err := feed.Open(ctx, transport, scope, svc.Notify, feed.Options{
		Backoff:     backoff,
		OpenTimeout: cfg.Sync.OpenTimeout,
		Logger:      log,
		OnState: func(s feed.State) {
			log.Info("feed_state", zap.Stringer("state", s))
			if s == feed.StateFailed {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	// A tail has nobody to press retry, so a feed that gave up is reopened after a pause.
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-failed:
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff.Max):
				sub.Reopen()
			}
		}
	}
}
