package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/writeflow/writeflow-backend/internal/markdown"
	"github.com/writeflow/writeflow-backend/internal/services"
)

type ArticleHandler struct {
	articles   services.ArticleService
	pipeline   services.PipelineService
	editor     services.EditorService
	enrichment services.EnrichmentService
}

func NewArticleHandler(
	articles services.ArticleService,
	pipeline services.PipelineService,
	editor services.EditorService,
	enrichment services.EnrichmentService,
) *ArticleHandler {
	return &ArticleHandler{
		articles:   articles,
		pipeline:   pipeline,
		editor:     editor,
		enrichment: enrichment,
	}
}

func parseArticleID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_article_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /api/articles
func (h *ArticleHandler) CreateArticle(c *gin.Context) {
	var input services.CreateArticleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	article, err := h.articles.Create(c.Request.Context(), input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"article": article})
}

// GET /api/articles/:id
func (h *ArticleHandler) GetArticle(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	article, sections, err := h.articles.Get(c.Request.Context(), articleID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"article": article, "sections": sections})
}

// POST /api/articles/:id/generate
func (h *ArticleHandler) StartGeneration(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	var body struct {
		ResetSections *bool `json:"resetSections"`
		AutoStart     *bool `json:"autoStart"`
	}
	// Body is optional; both flags default to true.
	_ = c.ShouldBindJSON(&body)
	opts := services.StartOptions{ResetSections: true, AutoStart: true}
	if body.ResetSections != nil {
		opts.ResetSections = *body.ResetSections
	}
	if body.AutoStart != nil {
		opts.AutoStart = *body.AutoStart
	}

	job, err := h.pipeline.Start(c.Request.Context(), articleID, opts)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobId": job.ID, "articleId": job.ArticleID})
}

// POST /api/articles/:id/fixes
func (h *ArticleHandler) ApplyFix(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	var body struct {
		Fix string `json:"fix"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	kind, known := markdown.ParseFixKind(body.Fix)
	if !known {
		RespondError(c, http.StatusBadRequest, "unknown_fix", fmt.Errorf("unknown fix %q", body.Fix))
		return
	}
	changed, finalMarkdown, err := h.editor.ApplyStructuralFix(c.Request.Context(), articleID, kind)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"changed": changed, "finalMarkdown": finalMarkdown})
}

// POST /api/articles/:id/vibe-edit
func (h *ArticleHandler) VibeEdit(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	var body struct {
		SectionHeading string `json:"sectionHeading"`
		Instruction    string `json:"instruction"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	revised, err := h.editor.VibeEdit(c.Request.Context(), articleID, body.SectionHeading, body.Instruction)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"revisedContent": revised})
}

// POST /api/articles/:id/audit
func (h *ArticleHandler) Audit(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	result, err := h.enrichment.Audit(c.Request.Context(), articleID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"auditId": result.ReportID, "report": result.Payload})
}

// POST /api/articles/:id/audit/apply
func (h *ArticleHandler) ApplyAudit(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	var body struct {
		AuditID string `json:"auditId"`
	}
	_ = c.ShouldBindJSON(&body)

	reportID := uuid.Nil
	if body.AuditID != "" {
		parsed, err := uuid.Parse(body.AuditID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_audit_id", err)
			return
		}
		reportID = parsed
	}

	revised, err := h.enrichment.AutofixFromAudit(c.Request.Context(), articleID, reportID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"finalMarkdown": revised})
}

// POST /api/articles/:id/competitors
func (h *ArticleHandler) AnalyzeCompetitors(c *gin.Context) {
	articleID, ok := parseArticleID(c)
	if !ok {
		return
	}
	result, err := h.enrichment.CompetitorAnalysis(c.Request.Context(), articleID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"report": result.Report, "analyzedCompetitors": result.FetchedCount})
}
