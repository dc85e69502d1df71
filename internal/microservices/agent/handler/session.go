package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	tokens TokenSetter
}

func NewSessionHandler(t TokenSetter) *SessionHandler {
	return &SessionHandler{tokens: t}
}

type signInRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *SessionHandler) SignIn(c *gin.Context) {
	if h.tokens == nil {
		writeProblem(c, http.StatusNotImplemented, "static_identity", "the agent runs with a fixed identity")
		return
	}
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeProblem(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := h.tokens.SetToken(req.Token); err != nil {
		writeProblem(c, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) SignOut(c *gin.Context) {
	if h.tokens == nil {
		writeProblem(c, http.StatusNotImplemented, "static_identity", "the agent runs with a fixed identity")
		return
	}
	_ = h.tokens.SetToken("")
	c.Status(http.StatusNoContent)
}
