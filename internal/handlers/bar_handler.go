package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/internal/models"
	"github.com/crawlpilot/beercrawl/internal/repositories"
)

// BarHandler manages the venue registry.
type BarHandler struct {
	bars   repositories.IBarRepository
	logger *zap.Logger
}

func NewBarHandler(bars repositories.IBarRepository, logger *zap.Logger) *BarHandler {
	return &BarHandler{bars: bars, logger: logger}
}

type createBarRequest struct {
	Name         string  `json:"name" binding:"required"`
	Address      string  `json:"address" binding:"required"`
	Area         string  `json:"area" binding:"required"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	OwnerContact string  `json:"owner_contact"`
	Capacity     int     `json:"capacity"`
}

// Create registers a new venue.
func (h *BarHandler) Create(c *gin.Context) {
	var req createBarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = 50
	}
	bar := &models.Bar{
		Name:         req.Name,
		Address:      req.Address,
		Area:         normalizeArea(req.Area),
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		OwnerContact: req.OwnerContact,
		Capacity:     capacity,
		IsActive:     true,
	}
	if err := h.bars.Create(c.Request.Context(), bar); err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("bar registered", zap.Uint("bar_id", bar.ID), zap.String("area", bar.Area))
	c.JSON(http.StatusCreated, gin.H{"bar": bar})
}

// List returns active venues, optionally filtered by ?area=.
func (h *BarHandler) List(c *gin.Context) {
	area := c.Query("area")

	var (
		bars []*models.Bar
		err  error
	)
	if area != "" {
		bars, err = h.bars.FindActiveByArea(c.Request.Context(), normalizeArea(area))
	} else {
		bars, err = h.bars.ListActive(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars})
}

func normalizeArea(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
