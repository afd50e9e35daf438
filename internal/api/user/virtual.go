package user

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/api"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
)

func (h *Handler) getVirtualOverview(c *gin.Context) {
	overview, err := h.virtual.Overview(c.Request.Context(), api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, overview, "ok")
}

func (h *Handler) getVirtualHistory(c *gin.Context) {
	history, err := h.virtual.History(c.Request.Context(), api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, history, "ok")
}

func (h *Handler) getVirtualDetail(c *gin.Context) {
	detail, err := h.virtual.Detail(c.Request.Context(), api.UserID(c), c.Param("slug"))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, detail, "ok")
}

func (h *Handler) startVirtual(c *gin.Context) {
	var req struct {
		ContestName  string  `json:"contest_name" binding:"required"`
		ContestStage *string `json:"contest_stage"`
		Autosync     bool    `json:"autosync"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	ref := models.ContestRef{Name: strings.TrimSpace(req.ContestName)}
	if req.ContestStage != nil {
		ref.Stage = strings.TrimSpace(*req.ContestStage)
	}

	active, err := h.virtual.Start(c.Request.Context(), api.UserID(c), ref, req.Autosync)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, active, "Virtual contest started")
}

func (h *Handler) endVirtual(c *gin.Context) {
	result, err := h.virtual.End(c.Request.Context(), api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	msg := "Virtual contest ended"
	switch {
	case result.AlreadyEnded:
		msg = "Virtual contest already ended"
	case result.SyncError != "":
		msg = "Virtual contest ended, sync failed: " + result.SyncError
	}
	util.Success(c, result, msg)
}

func (h *Handler) resyncVirtual(c *gin.Context) {
	report, err := h.virtual.Resync(c.Request.Context(), api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, report, "Virtual contest synced")
}

func (h *Handler) confirmVirtual(c *gin.Context) {
	done, err := h.virtual.Confirm(c.Request.Context(), api.UserID(c))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, done, "Virtual contest saved")
}

func (h *Handler) submitVirtual(c *gin.Context) {
	var req struct {
		Scores     []float64 `json:"scores" binding:"required"`
		TotalScore *float64  `json:"total_score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	done, err := h.virtual.Submit(c.Request.Context(), api.UserID(c), req.Scores, req.TotalScore)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, done, "Virtual contest saved")
}
