package user

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/api"
	"github.com/olytrack/olytrack/internal/practice"
	"github.com/olytrack/olytrack/internal/util"
)

func (h *Handler) syncPractice(c *gin.Context) {
	result, err := h.practice.SyncProfile(c.Request.Context(), api.UserID(c), c.Param("platform"))
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, result, "Profile synced")
}

// getProblems lists the catalog problems of ?sources=IOI,APIO grouped by source
// and year, each with the caller's status.
func (h *Handler) getProblems(c *gin.Context) {
	sources := strings.Split(c.Query("sources"), ",")
	checklist, err := h.practice.Checklist(c.Request.Context(), api.UserID(c), sources)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, checklist, "ok")
}

func (h *Handler) setProblemStatus(c *gin.Context) {
	var req practice.StatusChange
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	status, err := h.practice.SetStatus(c.Request.Context(), api.UserID(c), req)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, status, "Status updated")
}

func (h *Handler) getProblemNote(c *gin.Context) {
	var key practice.ProblemKey
	if err := c.ShouldBindQuery(&key); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	note, err := h.practice.Note(c.Request.Context(), api.UserID(c), key)
	if err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, gin.H{"note": note}, "ok")
}

func (h *Handler) saveProblemNote(c *gin.Context) {
	var req struct {
		practice.ProblemKey
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	if err := h.practice.SaveNote(c.Request.Context(), api.UserID(c), req.ProblemKey, req.Note); err != nil {
		util.Fail(c, err)
		return
	}
	util.Success(c, gin.H{"note": req.Note}, "Note saved")
}
