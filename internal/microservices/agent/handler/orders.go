package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"order-sync/internal/domain"
	"order-sync/internal/gateway"
	"order-sync/internal/ordersync"
)

type OrderHandler struct {
	sync *ordersync.Manager
	gw   gateway.Gateway
	self *ordersync.Registration
}

func NewOrderHandler(m *ordersync.Manager, gw gateway.Gateway, self *ordersync.Registration) *OrderHandler {
	return &OrderHandler{sync: m, gw: gw, self: self}
}

// List serves the live view when some registration watches the scope and
// falls back to a direct fetch otherwise.
func (h *OrderHandler) List(c *gin.Context) {
	scope := h.scopeFor(c)
	if scope.IsNone() {
		writeProblem(c, http.StatusBadRequest, "missing_scope", "user_id or restaurant_id is required while no identity is signed in")
		return
	}
	if snap, ok := h.sync.View(scope); ok {
		writeJSON(c, http.StatusOK, gin.H{
			"scope": scope.String(), "source": "live", "version": snap.Version(), "orders": nonNil(snap.Orders()),
		})
		return
	}
	orders, err := h.gw.FetchOrders(c.Request.Context(), scope)
	if err != nil {
		writeProblem(c, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"scope": scope.String(), "source": "fetch", "orders": nonNil(orders)})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if h.self != nil {
		if o, ok := h.self.Order(id); ok {
			writeJSON(c, http.StatusOK, gin.H{"source": "live", "order": o})
			return
		}
	}
	o, err := h.sync.Refresh(c.Request.Context(), id)
	if err != nil {
		gatewayProblem(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"source": "fetch", "order": o})
}

func (h *OrderHandler) Patch(c *gin.Context) {
	var p gateway.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		writeProblem(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		writeProblem(c, http.StatusBadRequest, "invalid_patch", err.Error())
		return
	}
	o, err := h.sync.Mutate(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		gatewayProblem(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": o})
}

func (h *OrderHandler) scopeFor(c *gin.Context) domain.Scope {
	switch {
	case c.Query("user_id") != "":
		return domain.ByUser(c.Query("user_id"))
	case c.Query("restaurant_id") != "":
		return domain.ByRestaurant(c.Query("restaurant_id"))
	case h.self != nil:
		return h.self.Scope()
	default:
		return domain.Scope{}
	}
}

func gatewayProblem(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeProblem(c, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, gateway.ErrEmptyPatch):
		writeProblem(c, http.StatusBadRequest, "invalid_patch", err.Error())
	default:
		writeProblem(c, http.StatusBadGateway, "upstream_error", err.Error())
	}
}

func nonNil(orders []domain.Order) []domain.Order {
	if orders == nil {
		return []domain.Order{}
	}
	return orders
}
