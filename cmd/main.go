package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/writeflow/writeflow-backend/internal/db"
	"github.com/writeflow/writeflow-backend/internal/handlers"
	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/middleware"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/server"
	"github.com/writeflow/writeflow-backend/internal/services"
	"github.com/writeflow/writeflow-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	cookieSecure := utils.GetEnvAsBool("COOKIE_SECURE", false, log)
	workerEnabled := utils.GetEnvAsBool("ARTICLE_WORKER_ENABLED", true, log)
	allowOrigins := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	articleRepo := repos.NewArticleRepo(thePG, log)
	sectionRepo := repos.NewSectionRepo(thePG, log)
	jobRepo := repos.NewJobRepo(thePG, log)
	auditReportRepo := repos.NewAuditReportRepo(thePG, log)
	knowledgeItemRepo := repos.NewKnowledgeItemRepo(thePG, log)
	referenceRepo := repos.NewReferenceRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	aiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	sectionGen := services.NewSectionGenerator(log, aiClient)
	pageFetcher := services.NewPageFetcher(log, nil)
	articleService := services.NewArticleService(thePG, log, articleRepo, sectionRepo)
	pipelineService := services.NewPipelineService(thePG, log, articleRepo, sectionRepo, jobRepo, referenceRepo, sectionGen)
	editorService := services.NewEditorService(thePG, log, articleRepo, aiClient)
	enrichmentService := services.NewEnrichmentService(thePG, log, articleRepo, auditReportRepo, knowledgeItemRepo, referenceRepo, aiClient, pageFetcher)

	if workerEnabled {
		pipelineService.StartWorker(context.Background())
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	articleHandler := handlers.NewArticleHandler(articleService, pipelineService, editorService, enrichmentService)
	jobHandler := handlers.NewJobHandler(pipelineService)

	// Middleware
	identity := middleware.NewIdentityMiddleware(log, jwtSecretKey, cookieSecure)

	// Router
	log.Info("Setting up router from main...")
	var origins []string
	if allowOrigins != "" {
		origins = strings.Split(allowOrigins, ",")
	}
	router := server.NewRouter(server.RouterConfig{
		Identity:       identity,
		ArticleHandler: articleHandler,
		JobHandler:     jobHandler,
		AllowOrigins:   origins,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
