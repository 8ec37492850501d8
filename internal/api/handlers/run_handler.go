package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type RunHandler struct {
	service *service.DecisionService
}

func NewRunHandler(service *service.DecisionService) *RunHandler {
	return &RunHandler{service: service}
}

// StartRun accepts a run request and returns the new run id.
func (h *RunHandler) StartRun(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	req.Trigger = "api"

	runID, err := h.service.StartRun(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "failed to start run", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": domain.RunPending})
}

func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*domain.DecisionRun{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to fetch run", err)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (h *RunHandler) GetForecast(c *gin.Context) {
	forecasts, err := h.service.GetForecast(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to fetch forecasts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"forecasts": forecasts})
}

func (h *RunHandler) GetPolicy(c *gin.Context) {
	policies, err := h.service.GetPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to fetch policies", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

func (h *RunHandler) GetAllocation(c *gin.Context) {
	alloc, err := h.service.GetAllocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to fetch allocation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allocation":         alloc,
		"solver_status_text": domain.SolverStatusLabel(alloc.Status),
	})
}

func (h *RunHandler) GetSnapshot(c *gin.Context) {
	snap, err := h.service.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to fetch snapshot", err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *RunHandler) CancelRun(c *gin.Context) {
	runID := c.Param("id")
	if err := h.service.CancelRun(c.Request.Context(), runID); err != nil {
		h.fail(c, "failed to cancel run", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "cancelled": true})
}

func (h *RunHandler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg(message)
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrResultUnavailable):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotTerminal),
		errors.Is(err, domain.ErrRunTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
