package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

// writeProblem is the one error shape (RFC 7807 Problem+JSON, simplified).
func writeProblem(c *gin.Context, code int, typ, detail string) {
	c.AbortWithStatusJSON(code, gin.H{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}
