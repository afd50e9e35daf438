package user

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/api"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/util"
)

func (h *Handler) getUserProfile(c *gin.Context) {
	user, err := database.GetUserByID(h.db, api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, user, "ok")
}

func (h *Handler) updateUserProfile(c *gin.Context) {
	user, err := database.GetUserByID(h.db, api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	var reqBody struct {
		Nickname string `json:"nickname" binding:"required"`
	}
	if err := c.ShouldBindJSON(&reqBody); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	user.Nickname = strings.TrimSpace(reqBody.Nickname)
	if err := database.UpdateUser(h.db, user); err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, user, "Profile updated")
}
