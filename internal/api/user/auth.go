package user

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/auth"
	"github.com/olytrack/olytrack/internal/util"
)

func (h *Handler) getAuthStatus(c *gin.Context) {
	util.Success(c, gin.H{
		"local_auth_enabled":  h.cfg.Auth.Local.Enabled,
		"github_auth_enabled": h.github != nil && h.github.Enabled(),
		"platforms":           h.enabledPlatforms(),
	}, "ok")
}

// localRegister creates an account, links any judge usernames sent along and
// returns a token, so the client is signed in right away.
func (h *Handler) localRegister(c *gin.Context) {
	var reg auth.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	session, err := h.accounts.Register(c.Request.Context(), reg)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Created(c, session, "User registered")
}

func (h *Handler) localLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	session, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, session, "Login successful")
}
