// Package service renders change events for people watching a scope from a terminal.
package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/domain"
)

type NotificatorService struct {
	log *logger.Logger

	mu  sync.Mutex
	out io.Writer
}

func NewNotificatorService(out io.Writer, log *logger.Logger) *NotificatorService {
	return &NotificatorService{out: out, log: log}
}

// Notify prints one line per change and logs it. It is a feed.Handler.
func (ns *NotificatorService) Notify(_ context.Context, ev domain.ChangeEvent) error {
	line := Describe(ev)
	ns.log.Info("order_change_received",
		zap.String("operation", string(ev.Operation)),
		zap.String("order_id", ev.OrderID),
	)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	_, err := fmt.Fprintln(ns.out, line)
	return err
}

// Describe is the one-line form, e.g. "UPDATE order 42: preparing -> ready".
func Describe(ev domain.ChangeEvent) string {
	switch {
	case ev.Operation == domain.OpDelete:
		return fmt.Sprintf("DELETE order %s", ev.OrderID)
	case ev.New == nil:
		return fmt.Sprintf("%s order %s", ev.Operation, ev.OrderID)
	case ev.Old != nil && ev.Old.Status != "" && ev.Old.Status != ev.New.Status:
		return fmt.Sprintf("%s order %s: %s -> %s", ev.Operation, ev.OrderID, ev.Old.Status, ev.New.Status)
	default:
		return fmt.Sprintf("%s order %s: %s", ev.Operation, ev.OrderID, ev.New.Status)
	}
}
