package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/middlewares"
	"github.com/crawlpilot/beercrawl/internal/services"
)

// AdminHandler serves the operator surface: login and the bot response
// template registry.
type AdminHandler struct {
	responses *services.ResponseService
	tokens    *middlewares.TokenManager
	cfg       config.AdminConfig
	logger    *zap.Logger
}

func NewAdminHandler(responses *services.ResponseService, tokens *middlewares.TokenManager, cfg config.AdminConfig, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{responses: responses, tokens: tokens, cfg: cfg, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks credentials against the configured bcrypt hash and
// issues a JWT.
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Username != h.cfg.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)) != nil {
		h.logger.Warn("failed admin login", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.GenerateToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// GetResponses returns the effective template set.
func (h *AdminHandler) GetResponses(c *gin.Context) {
	responses, err := h.responses.All(c.Request.Context())
	if err != nil {
		h.logger.Warn("serving default templates, registry unavailable", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"responses": responses})
}

type updateResponsesRequest struct {
	Responses map[string]string `json:"responses" binding:"required"`
}

// UpdateResponses replaces the stored template overrides.
func (h *AdminHandler) UpdateResponses(c *gin.Context) {
	var req updateResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.responses.Save(c.Request.Context(), req.Responses); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
