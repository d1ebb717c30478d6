package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

type StageTrackingHandler struct {
	stages    *services.StageTrackerService
	lifecycle *services.StageLifecycle
	log       *logger.Logger
}

func NewStageTrackingHandler(stages *services.StageTrackerService, lifecycle *services.StageLifecycle, log *logger.Logger) *StageTrackingHandler {
	return &StageTrackingHandler{stages: stages, lifecycle: lifecycle, log: logger.OrNop(log)}
}

// EnterStage handles POST /requests/:request_id/stages/:code/enter
func (h *StageTrackingHandler) EnterStage(c *gin.Context) {
	var req db.EnterStageRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracking, err := h.lifecycle.OnStageEnter(c.Request.Context(), c.Param("request_id"), c.Param("code"), req.AssignedTo, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, tracking)
}

// ExitStage handles POST /requests/:request_id/stages/:code/exit
func (h *StageTrackingHandler) ExitStage(c *gin.Context) {
	var req db.ExitStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracking, err := h.lifecycle.OnStageExit(c.Request.Context(), c.Param("request_id"), c.Param("code"), req.CompletedBy, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// ListRequestTrackings handles GET /requests/:request_id/trackings?open=true
func (h *StageTrackingHandler) ListRequestTrackings(c *gin.Context) {
	requestID := c.Param("request_id")

	var trackings []db.StageTracking
	var err error
	if boolQuery(c, "open") {
		trackings, err = h.stages.ListOpenForRequest(c.Request.Context(), requestID)
	} else {
		trackings, err = h.stages.ListForRequest(c.Request.Context(), requestID)
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trackings": trackings, "total": len(trackings)})
}

// GetTracking handles GET /trackings/:id
func (h *StageTrackingHandler) GetTracking(c *gin.Context) {
	tracking, err := h.stages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// CloseTracking handles POST /trackings/:id/close
func (h *StageTrackingHandler) CloseTracking(c *gin.Context) {
	var req db.CloseTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracking, err := h.stages.Close(c.Request.Context(), c.Param("id"), req.CompletedBy, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// ReassignTracking handles PATCH /trackings/:id/assignee
func (h *StageTrackingHandler) ReassignTracking(c *gin.Context) {
	var req db.ReassignTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracking, err := h.stages.Reassign(c.Request.Context(), c.Param("id"), req.AssignedTo)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// ListDelayed handles GET /trackings/delayed
func (h *StageTrackingHandler) ListDelayed(c *gin.Context) {
	trackings, err := h.stages.ListAllDelayed(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trackings": trackings, "total": len(trackings)})
}

// ListAtRisk handles GET /trackings/at-risk
func (h *StageTrackingHandler) ListAtRisk(c *gin.Context) {
	trackings, err := h.stages.ListAtRisk(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trackings": trackings, "total": len(trackings)})
}
