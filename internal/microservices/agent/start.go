// Package agent is the sync-agent mode: it keeps live order views in sync and
// serves them over HTTP and WebSocket.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-sync/internal/auth"
	"order-sync/internal/common/config"
	"order-sync/internal/common/httpx"
	"order-sync/internal/common/logger"
	"order-sync/internal/common/metrics"
	"order-sync/internal/connections/database"
	"order-sync/internal/connections/rabbitmq"
	"order-sync/internal/feed"
	"order-sync/internal/feed/amqpfeed"
	"order-sync/internal/gateway"
	"order-sync/internal/gateway/httpgateway"
	"order-sync/internal/gateway/pggateway"
	"order-sync/internal/microservices/agent/handler"
	"order-sync/internal/ordersync"
)

const identityCheckInterval = 30 * time.Second

// Run blocks until ctx ends or the HTTP server fails.
func Run(ctx context.Context, cfg config.App, log *logger.Logger) error {
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	creds, tokens, err := newCredentials(cfg.Auth)
	if err != nil {
		return err
	}
	gw, closeGW, err := newGateway(ctx, cfg, creds, log)
	if err != nil {
		return err
	}
	defer closeGW()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(registry)

	transport := amqpfeed.New(amqpfeed.Config{
		Broker:   rabbitmq.ConfigFrom(cfg.Rabbit),
		Exchange: cfg.Rabbit.Exchange,
		Prefetch: cfg.Rabbit.Prefetch,
	}, log)

	m, err := ordersync.NewManager(ctx, ordersync.Config{
		Gateway:      gw,
		Transport:    transport,
		Credentials:  creds,
		PollInterval: cfg.Sync.PollInterval,
		FetchTimeout: cfg.Sync.FetchTimeout,
		OpenTimeout:  cfg.Sync.OpenTimeout,
		QueueSize:    cfg.Sync.QueueSize,
		Backoff:      feed.BackoffFrom(cfg.Sync.Backoff),
		Logger:       log,
		Metrics:      mtr,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	if tokens != nil {
		tokens.OnChange(func() { m.IdentityChanged(ctx) })
	}

	self, err := m.Register(ctx, ordersync.Params{
		OnHealth: func(h ordersync.Health) { log.Info("sync_health_changed", zap.String("health", string(h))) },
	})
	if err != nil {
		return err
	}
	log.Info("agent_started", zap.Stringer("scope", self.Scope()), zap.String("gateway", cfg.Gateway.Kind))

	deps := handler.Deps{Sync: m, Gateway: gw, Self: self, Gatherer: registry, Logger: log}
	if tokens != nil {
		deps.Tokens = tokens
	}
	srv := httpx.New(fmt.Sprintf(":%d", cfg.HTTP.Port), handler.Router(handler.New(deps)), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		watchIdentity(gctx, creds, m, identityCheckInterval)
		return nil
	})
	return g.Wait()
}

// newCredentials returns the token provider as well when one is configured, so
// that sign-in and sign-out can be wired to it.
func newCredentials(a config.Auth) (auth.Provider, *auth.JWTProvider, error) {
	if a.JWTSecret == "" {
		id := auth.Identity{UserID: a.UserID, RestaurantID: a.RestaurantID, Role: auth.Role(a.Role)}
		return auth.NewStatic(id, a.Token), nil, nil
	}
	p := auth.NewJWTProvider(a.JWTSecret)
	if a.Token != "" {
		if err := p.SetToken(a.Token); err != nil {
			return nil, nil, fmt.Errorf("auth.token: %w", err)
		}
	}
	return p, p, nil
}

func newGateway(ctx context.Context, cfg config.App, creds auth.Provider, log *logger.Logger) (gateway.Gateway, func(), error) {
	switch cfg.Gateway.Kind {
	case "http":
		return httpgateway.New(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, creds), func() {}, nil
	default:
		pool, err := database.Connect(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		return pggateway.New(pool), pool.Close, nil
	}
}

// watchIdentity notices identities that lapse without a sign-out, such as an
// expired token, and re-resolves registrations when it does.
func watchIdentity(ctx context.Context, creds auth.Provider, m *ordersync.Manager, every time.Duration) {
	signedIn := func() bool {
		_, err := creds.Identity(ctx)
		return err == nil
	}
	last := signedIn()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if now := signedIn(); now != last {
				last = now
				m.IdentityChanged(ctx)
			}
		}
	}
}
