package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

type SubStageTrackingHandler struct {
	subStages *services.SubStageTrackerService
	log       *logger.Logger
}

func NewSubStageTrackingHandler(subStages *services.SubStageTrackerService, log *logger.Logger) *SubStageTrackingHandler {
	return &SubStageTrackingHandler{subStages: subStages, log: logger.OrNop(log)}
}

// OpenSubStage handles POST /requests/:request_id/sub-stages/:sub_code/open
func (h *SubStageTrackingHandler) OpenSubStage(c *gin.Context) {
	var req db.OpenSubStageRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracking, err := h.subStages.Open(c.Request.Context(), c.Param("request_id"), c.Param("sub_code"),
		req.StageCode, req.AssignedTo, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, tracking)
}

// CompleteSubStage handles POST /requests/:request_id/sub-stages/:sub_code/complete
func (h *SubStageTrackingHandler) CompleteSubStage(c *gin.Context) {
	var req db.CompleteSubStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracking, err := h.subStages.Complete(c.Request.Context(), c.Param("request_id"), c.Param("sub_code"),
		req.CompletedBy, req.Notes, req.ActionPayload)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// ListRequestSubStages handles GET /requests/:request_id/sub-stages?open=true
func (h *SubStageTrackingHandler) ListRequestSubStages(c *gin.Context) {
	requestID := c.Param("request_id")

	var trackings []db.SubStageTracking
	var err error
	if boolQuery(c, "open") {
		trackings, err = h.subStages.ListOpenForRequest(c.Request.Context(), requestID)
	} else {
		trackings, err = h.subStages.ListForRequest(c.Request.Context(), requestID)
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sub_stages": trackings, "total": len(trackings)})
}

// ListDelayed handles GET /sub-stages/delayed
func (h *SubStageTrackingHandler) ListDelayed(c *gin.Context) {
	trackings, err := h.subStages.ListAllDelayed(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sub_stages": trackings, "total": len(trackings)})
}
