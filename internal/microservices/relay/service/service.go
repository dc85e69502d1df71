package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/connections/rabbitmq"
	"order-sync/internal/domain"
	"order-sync/internal/feed"
	"order-sync/internal/feed/amqpfeed"
	"order-sync/internal/gateway"
)

type Publisher interface {
	Publish(ctx context.Context, p rabbitmq.Publishing) error
}

// OrderReader reads back rows whose notification was too large to carry them.
type OrderReader interface {
	FetchOrder(ctx context.Context, id string) (domain.Order, error)
}

type RelayServiceInterface interface {
	Handle(ctx context.Context, payload string) error
}

type RelayService struct {
	pub      Publisher
	rows     OrderReader
	exchange string
	log      *logger.Logger
}

func New(pub Publisher, rows OrderReader, exchange string, log *logger.Logger) *RelayService {
	return &RelayService{pub: pub, rows: rows, exchange: exchange, log: log}
}

type notification struct {
	feed.Message
	Truncated bool `json:"truncated,omitempty"`
}

// Handle republishes one trigger notification under every scope key the row
// belongs to. Payloads that cannot be decoded are logged and skipped; only
// broker and database failures are returned.
func (s *RelayService) Handle(ctx context.Context, payload string) error {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		s.log.Warn("notification_dropped", zap.Error(err))
		return nil
	}
	ev, err := feed.Decode(n.Message)
	if err != nil {
		s.log.Warn("notification_dropped", zap.Error(err))
		return nil
	}

	if n.Truncated && ev.Operation != domain.OpDelete {
		full, err := s.rows.FetchOrder(ctx, ev.OrderID)
		if errors.Is(err, gateway.ErrNotFound) {
			s.log.Debug("notification_row_gone", zap.String("order_id", ev.OrderID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read back order %s: %w", ev.OrderID, err)
		}
		if n.New, err = json.Marshal(full); err != nil {
			return err
		}
		ev.New = &full
	}

	body, err := json.Marshal(n.Message)
	if err != nil {
		return err
	}
	msgID := uuid.NewString()
	for _, key := range RoutingKeys(ev) {
		err := s.pub.Publish(ctx, rabbitmq.Publishing{
			Exchange:    s.exchange,
			Key:         key,
			Body:        body,
			ContentType: "application/json",
			MessageID:   msgID,
			Persistent:  true,
			Headers:     amqp.Table{"event_type": string(ev.Operation), "order_id": ev.OrderID},
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", key, err)
		}
	}
	s.log.Debug("change_relayed", zap.String("order_id", ev.OrderID), zap.String("event_type", string(ev.Operation)))
	return nil
}

// RoutingKeys lists the scope keys of both row images, so an order that moves
// to another user or restaurant also reaches the scope it left.
func RoutingKeys(ev domain.ChangeEvent) []string {
	var keys []string
	seen := map[string]bool{}
	add := func(s domain.Scope) {
		k := amqpfeed.RoutingKey(s)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, row := range []*domain.Order{ev.New, ev.Old} {
		if row == nil {
			continue
		}
		add(domain.ByUser(row.UserID))
		add(domain.ByRestaurant(row.RestaurantID))
	}
	return keys
}
