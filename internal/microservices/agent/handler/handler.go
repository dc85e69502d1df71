package handler

import (
	"github.com/prometheus/client_golang/prometheus"

	"order-sync/internal/common/logger"
	"order-sync/internal/gateway"
	"order-sync/internal/ordersync"
)

// TokenSetter is the sign-in hook. Only token based credentials have one.
type TokenSetter interface {
	SetToken(token string) error
}

type Deps struct {
	Sync    *ordersync.Manager
	Gateway gateway.Gateway
	// Self follows the agent's own identity and is the default scope for reads.
	Self     *ordersync.Registration
	Gatherer prometheus.Gatherer
	Tokens   TokenSetter
	Logger   *logger.Logger
}

type Handler struct {
	OrderHandler   *OrderHandler
	SyncHandler    *SyncHandler
	StreamHandler  *StreamHandler
	SessionHandler *SessionHandler
	gatherer       prometheus.Gatherer
	log            *logger.Logger
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.NewRegistry()
	}
	return &Handler{
		OrderHandler:   NewOrderHandler(d.Sync, d.Gateway, d.Self),
		SyncHandler:    NewSyncHandler(d.Sync, d.Self),
		StreamHandler:  NewStreamHandler(d.Sync, d.Logger),
		SessionHandler: NewSessionHandler(d.Tokens),
		gatherer:       d.Gatherer,
		log:            d.Logger,
	}
}
