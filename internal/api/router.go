package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/crawlpilot/beercrawl/internal/handlers"
	"github.com/crawlpilot/beercrawl/internal/middlewares"
	"github.com/crawlpilot/beercrawl/pkg/logger"
)

// NewEngine builds the gin engine with the shared middleware chain.
func NewEngine(mode string, log *logger.Logger) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(middlewares.Recovery(log))
	r.Use(middlewares.RequestLogger(log))
	r.Use(cors.Default())
	return r
}

// RegisterRoutes registers all API routes
func RegisterRoutes(
	r *gin.Engine,
	crawlHandler *handlers.CrawlHandler,
	barHandler *handlers.BarHandler,
	webhookHandler *handlers.WebhookHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	tokens *middlewares.TokenManager,
) {
	r.GET("/health", healthHandler.Check)

	r.GET("/webhook/whatsapp", webhookHandler.Verify)
	r.POST("/webhook/whatsapp", middlewares.MaxConcurrency(64), webhookHandler.Receive)

	api := r.Group("/api/beer-crawl")
	{
		api.POST("/signup", crawlHandler.Signup)
		api.POST("/find-group", crawlHandler.FindGroup)

		groups := api.Group("/groups")
		{
			groups.GET("", crawlHandler.ListGroups)
			groups.POST("/:id/start", crawlHandler.StartCrawl)
			groups.POST("/:id/next-bar", crawlHandler.NextBar)
			groups.POST("/:id/end", crawlHandler.EndCrawl)
			groups.GET("/:id/status", crawlHandler.GroupStatus)
		}

		bars := api.Group("/bars")
		{
			bars.GET("", barHandler.List)
			bars.POST("", barHandler.Create)
		}
	}

	admin := r.Group("/api/admin")
	{
		admin.POST("/login", adminHandler.Login)

		protected := admin.Group("/")
		protected.Use(middlewares.AuthMiddleware(tokens))
		{
			protected.GET("/responses", adminHandler.GetResponses)
			protected.PUT("/responses", adminHandler.UpdateResponses)
		}
	}
}
