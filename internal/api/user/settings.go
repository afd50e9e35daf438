package user

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/api"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/util"
	"gorm.io/gorm"
)

func (h *Handler) getPlatforms(c *gin.Context) {
	usernames, err := database.GetPlatformUsernames(h.db, api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, gin.H{"usernames": usernames, "enabled": h.enabledPlatforms()}, "ok")
}

// updatePlatforms replaces the given platform usernames; an empty value unlinks the platform.
func (h *Handler) updatePlatforms(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	platforms := make([]string, 0, len(req))
	for platform := range req {
		if !judge.Known(platform) {
			util.Error(c, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", platform))
			return
		}
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	userID := api.UserID(c)
	var current models.StringMap
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, platform := range platforms {
			var err error
			current, err = database.SetPlatformUsername(tx, userID, platform, strings.TrimSpace(req[platform]))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		util.Fail(c, err)
		return
	}
	if current == nil {
		current = models.StringMap{}
	}
	util.Success(c, gin.H{"usernames": current}, "Platforms updated")
}

func (h *Handler) getProblemStatuses(c *gin.Context) {
	statuses, err := database.ListProblemStatuses(h.db, api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	if statuses == nil {
		statuses = []models.ProblemStatus{}
	}
	util.Success(c, statuses, "ok")
}
