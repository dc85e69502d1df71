package handler

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"order-sync/internal/common/logger"
	"order-sync/internal/domain"
	"order-sync/internal/ordersync"
	"order-sync/internal/reconcile"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamMessage is everything the server pushes on /ws/orders.
type streamMessage struct {
	Type    string           `json:"type"`
	Scope   string           `json:"scope,omitempty"`
	OrderID string           `json:"order_id,omitempty"`
	Order   *domain.Order    `json:"order,omitempty"`
	Orders  []domain.Order   `json:"orders,omitempty"`
	Deleted bool             `json:"deleted,omitempty"`
	Health  ordersync.Health `json:"health,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type StreamHandler struct {
	sync *ordersync.Manager
	log  *logger.Logger
}

func NewStreamHandler(m *ordersync.Manager, log *logger.Logger) *StreamHandler {
	return &StreamHandler{sync: m, log: log}
}

// Watch holds one registration per connection. The first message is the scope's
// snapshot, then one order_changed per changed order and a health message
// whenever the sync health moves. A sign-in or sign-out that moves the
// connection to another scope sends a new snapshot. Clients too slow to keep up are disconnected
// and expected to reconnect for a fresh snapshot.
func (h *StreamHandler) Watch(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("ws_upgrade_failed", err)
		return
	}
	cl := &client{
		ws:      ws,
		log:     h.log.With(zap.String("conn_id", uuid.NewString())),
		out:     make(chan streamMessage, sendBuffer),
		done:    make(chan struct{}),
		lagging: make(chan struct{}),
	}

	reg, err := h.sync.Register(c.Request.Context(), ordersync.Params{
		UserID:       c.Query("user_id"),
		RestaurantID: c.Query("restaurant_id"),
		OnUpdate:     cl.changed,
		OnHealth:     cl.healthChanged,
		OnScope:      cl.rescoped,
	})
	if err != nil {
		cl.log.Error("ws_register_failed", err)
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteJSON(streamMessage{Type: "error", Error: err.Error()})
		_ = ws.Close()
		return
	}
	cl.log.Info("ws_connected", zap.Stringer("scope", reg.Scope()))

	cl.wg.Add(1)
	go cl.writeLoop(reg)
	cl.readLoop()

	cl.stop()
	reg.Close()
	cl.log.Info("ws_disconnected")
}

type client struct {
	ws  *websocket.Conn
	log *logger.Logger

	out     chan streamMessage
	done    chan struct{}
	lagging chan struct{}
	// primed is set right before the snapshot is read. Earlier changes are
	// already in the snapshot and are not queued.
	primed atomic.Bool

	stopOnce sync.Once
	lagOnce  sync.Once
	wg       sync.WaitGroup
}

// send never blocks: it runs on the session's engine goroutine.
func (cl *client) send(m streamMessage) {
	if !cl.primed.Load() {
		return
	}
	select {
	case <-cl.done:
		return
	default:
	}
	select {
	case cl.out <- m:
	default:
		cl.lagOnce.Do(func() { close(cl.lagging) })
	}
}

func (cl *client) changed(ch reconcile.Change) {
	m := streamMessage{Type: "order_changed", OrderID: ch.OrderID, Deleted: ch.Deleted}
	if !ch.Deleted {
		o := ch.Order
		m.Order = &o
	}
	cl.send(m)
}

func (cl *client) rescoped(scope domain.Scope, orders []domain.Order) {
	cl.send(streamMessage{Type: "snapshot", Scope: scope.String(), Orders: nonNil(orders)})
}

func (cl *client) healthChanged(h ordersync.Health) {
	cl.send(streamMessage{Type: "health", Health: h})
}

// readLoop only services control frames. It returns when the peer goes away or
// the writer closes the connection.
func (cl *client) readLoop() {
	cl.ws.SetReadLimit(maxMessageSize)
	_ = cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	cl.ws.SetPongHandler(func(string) error {
		return cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.log.Warn("ws_read_failed", zap.Error(err))
			}
			return
		}
	}
}

func (cl *client) writeLoop(reg *ordersync.Registration) {
	defer cl.wg.Done()
	defer cl.ws.Close()

	select {
	case <-reg.Ready():
	case <-cl.done:
		return
	}
	cl.primed.Store(true)
	snapshot := streamMessage{
		Type:   "snapshot",
		Scope:  reg.Scope().String(),
		Orders: nonNil(reg.Orders()),
		Health: reg.Health(),
	}
	if err := cl.write(snapshot); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case m := <-cl.out:
			if err := cl.write(m); err != nil {
				cl.log.Warn("ws_write_failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = cl.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.lagging:
			cl.log.Warn("ws_client_lagging", zap.Int("buffer", sendBuffer))
			cl.closeWith(websocket.CloseTryAgainLater, "client too slow")
			return
		case <-cl.done:
			cl.closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (cl *client) write(m streamMessage) error {
	_ = cl.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.ws.WriteJSON(m)
}

func (cl *client) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = cl.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (cl *client) stop() {
	cl.stopOnce.Do(func() { close(cl.done) })
	cl.wg.Wait()
}
