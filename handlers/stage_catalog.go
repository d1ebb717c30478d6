package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

type StageCatalogHandler struct {
	catalog *services.StageCatalogService
	log     *logger.Logger
}

func NewStageCatalogHandler(catalog *services.StageCatalogService, log *logger.Logger) *StageCatalogHandler {
	return &StageCatalogHandler{catalog: catalog, log: logger.OrNop(log)}
}

// ListStages handles GET /stages?include_inactive=true
func (h *StageCatalogHandler) ListStages(c *gin.Context) {
	stages, err := h.catalog.ListStages(c.Request.Context(), boolQuery(c, "include_inactive"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages, "total": len(stages)})
}

// GetStage handles GET /stages/:code
func (h *StageCatalogHandler) GetStage(c *gin.Context) {
	stage, err := h.catalog.GetStage(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

// ListSubStages handles GET /stages/:code/sub-stages
func (h *StageCatalogHandler) ListSubStages(c *gin.Context) {
	subs, err := h.catalog.ListSubStages(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sub_stages": subs, "total": len(subs)})
}

// UpsertStage handles PUT /stages/:code
func (h *StageCatalogHandler) UpsertStage(c *gin.Context) {
	var req db.UpsertStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	stage, err := h.catalog.UpsertStage(c.Request.Context(), db.StageDefinition{
		Code:                 c.Param("code"),
		Label:                req.Label,
		Position:             req.Position,
		ExpectedDurationDays: req.ExpectedDurationDays,
		WarningThresholdDays: req.WarningThresholdDays,
		EscalationLevel1Days: req.EscalationLevel1Days,
		EscalationLevel2Days: req.EscalationLevel2Days,
		IsActive:             active,
		Description:          req.Description,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

// SetStageActive handles PATCH /stages/:code/active
func (h *StageCatalogHandler) SetStageActive(c *gin.Context) {
	var req db.SetStageActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stage, err := h.catalog.SetActive(c.Request.Context(), c.Param("code"), *req.IsActive)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stage)
}

// UpsertSubStage handles PUT /stages/:code/sub-stages/:sub_code
func (h *StageCatalogHandler) UpsertSubStage(c *gin.Context) {
	var req db.UpsertSubStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.catalog.UpsertSubStage(c.Request.Context(), db.SubStageDefinition{
		Code:                 c.Param("sub_code"),
		StageCode:            c.Param("code"),
		Label:                req.Label,
		Position:             req.Position,
		ExpectedDurationDays: req.ExpectedDurationDays,
		Description:          req.Description,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// SeedDefaults handles POST /stages/seed
func (h *StageCatalogHandler) SeedDefaults(c *gin.Context) {
	result, err := h.catalog.InitializeDefaults(c.Request.Context(), db.DefaultStageCatalog())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
