package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/writeflow/writeflow-backend/internal/handlers"
	"github.com/writeflow/writeflow-backend/internal/middleware"
)

type RouterConfig struct {
	Identity       *middleware.IdentityMiddleware
	ArticleHandler *handlers.ArticleHandler
	JobHandler     *handlers.JobHandler
	AllowOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.Identity.Resolve())
	{
		api.POST("/articles", cfg.ArticleHandler.CreateArticle)
		api.GET("/articles/:id", cfg.ArticleHandler.GetArticle)
		api.POST("/articles/:id/generate", cfg.ArticleHandler.StartGeneration)
		api.POST("/articles/:id/fixes", cfg.ArticleHandler.ApplyFix)
		api.POST("/articles/:id/vibe-edit", cfg.ArticleHandler.VibeEdit)
		api.POST("/articles/:id/audit", cfg.ArticleHandler.Audit)
		api.POST("/articles/:id/audit/apply", cfg.ArticleHandler.ApplyAudit)
		api.POST("/articles/:id/competitors", cfg.ArticleHandler.AnalyzeCompetitors)

		api.GET("/jobs/:id", cfg.JobHandler.GetJob)
	}

	return router
}
