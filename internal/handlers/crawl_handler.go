package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/internal/services"
)

// CrawlHandler exposes signup, matching and group lifecycle over HTTP.
type CrawlHandler struct {
	matcher *services.MatcherService
	crawl   *services.CrawlService
	logger  *zap.Logger
}

func NewCrawlHandler(matcher *services.MatcherService, crawl *services.CrawlService, logger *zap.Logger) *CrawlHandler {
	return &CrawlHandler{matcher: matcher, crawl: crawl, logger: logger}
}

// Signup registers or updates a user's crawl preferences.
func (h *CrawlHandler) Signup(c *gin.Context) {
	var req services.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, created, err := h.matcher.Signup(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"user": user, "created": created})
}

type findGroupRequest struct {
	WhatsAppNumber string `json:"whatsapp_number" binding:"required"`
}

// FindGroup matches a signed-up user into a forming group, creating one
// when none has room.
func (h *CrawlHandler) FindGroup(c *gin.Context) {
	var req findGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.matcher.FindGroup(c.Request.Context(), req.WhatsAppNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StartCrawl activates a forming group at its first bar.
func (h *CrawlHandler) StartCrawl(c *gin.Context) {
	groupID, ok := h.groupID(c)
	if !ok {
		return
	}
	result, err := h.crawl.Start(c.Request.Context(), groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// NextBar moves an active group to the next bar in its area.
func (h *CrawlHandler) NextBar(c *gin.Context) {
	groupID, ok := h.groupID(c)
	if !ok {
		return
	}
	result, err := h.crawl.NextBar(c.Request.Context(), groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EndCrawl winds a group down: forming groups cancel, active groups
// complete, terminal groups are a no-op.
func (h *CrawlHandler) EndCrawl(c *gin.Context) {
	groupID, ok := h.groupID(c)
	if !ok {
		return
	}
	group, err := h.crawl.End(c.Request.Context(), groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// GroupStatus returns a group with its current session and member count.
func (h *CrawlHandler) GroupStatus(c *gin.Context) {
	groupID, ok := h.groupID(c)
	if !ok {
		return
	}
	result, err := h.crawl.GroupStatus(c.Request.Context(), groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListGroups returns groups, optionally filtered by ?status=.
func (h *CrawlHandler) ListGroups(c *gin.Context) {
	groups, err := h.crawl.ListGroups(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *CrawlHandler) groupID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return 0, false
	}
	return uint(id), true
}
