package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

type EscalationHandler struct {
	logs    *services.EscalationLogService
	scanner *services.DelayScanner
	log     *logger.Logger
}

func NewEscalationHandler(logs *services.EscalationLogService, scanner *services.DelayScanner, log *logger.Logger) *EscalationHandler {
	return &EscalationHandler{logs: logs, scanner: scanner, log: logger.OrNop(log)}
}

const maxEscalationPageSize = 500

// ListEscalations handles GET /escalations?request_id=&stage_code=&page=&limit=
func (h *EscalationHandler) ListEscalations(c *gin.Context) {
	page := 1
	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxEscalationPageSize)
		}
	}

	entries, total, err := h.logs.ListEscalations(c.Request.Context(), db.EscalationLogFilter{
		RequestID: c.Query("request_id"),
		StageCode: c.Query("stage_code"),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escalations": entries,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"has_more":    page*limit < total,
	})
}

// RunScan handles POST /escalations/scan
func (h *EscalationHandler) RunScan(c *gin.Context) {
	result, err := h.scanner.RunDelayScan(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.Info("delay scan triggered over http", "actor", c.GetString("user_id"), "escalated", result.Escalated)
	c.JSON(http.StatusOK, result)
}
