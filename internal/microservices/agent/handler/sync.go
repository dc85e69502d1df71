package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"order-sync/internal/ordersync"
)

type SyncHandler struct {
	sync *ordersync.Manager
	self *ordersync.Registration
}

func NewSyncHandler(m *ordersync.Manager, self *ordersync.Registration) *SyncHandler {
	return &SyncHandler{sync: m, self: self}
}

func (h *SyncHandler) Health(c *gin.Context) {
	resp := gin.H{"health": ordersync.HealthIdle, "scope": "none", "sessions": h.sync.Status()}
	if h.self != nil {
		resp["health"] = h.self.Health()
		resp["scope"] = h.self.Scope().String()
	}
	writeJSON(c, http.StatusOK, resp)
}

// Reopen retries feeds that gave up. Clients call it when they come back to the foreground.
func (h *SyncHandler) Reopen(c *gin.Context) {
	h.sync.Reopen()
	c.Status(http.StatusAccepted)
}
