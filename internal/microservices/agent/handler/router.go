package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func Router(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(h))

	v1 := r.Group("/api/v1")
	v1.GET("/orders", h.OrderHandler.List)
	v1.GET("/orders/:id", h.OrderHandler.Get)
	v1.PATCH("/orders/:id", h.OrderHandler.Patch)
	v1.GET("/sync/health", h.SyncHandler.Health)
	v1.POST("/sync/reopen", h.SyncHandler.Reopen)
	v1.PUT("/session", h.SessionHandler.SignIn)
	v1.DELETE("/session", h.SessionHandler.SignOut)

	r.GET("/ws/orders", h.StreamHandler.Watch)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	return r
}

func requestLog(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
