package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/dberr"
	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/types"
)

const (
	auditDocChars          = 15000
	maxCompetitorFetches   = 5
	competitorFetchTimeout = 10 * time.Second
	competitorFetchWorkers = 3
	referenceSummaryChars  = 400
)

// AuditResult pairs the stored report row with its decoded payload.
type AuditResult struct {
	ReportID uuid.UUID           `json:"report_id"`
	Payload  *types.AuditPayload `json:"payload"`
}

// CompetitorResult is the outcome of a competitor analysis pass.
type CompetitorResult struct {
	Report       string `json:"report"`
	FetchedCount int    `json:"fetched_count"`
}

// competitorAnalysisReply is the model's structured answer: one overall report
// plus per-page takeaways, index-aligned with the prompt's competitor blocks.
type competitorAnalysisReply struct {
	Report      string `json:"report"`
	Competitors []struct {
		Insights []string `json:"insights"`
	} `json:"competitors"`
}

// EnrichmentService runs the post-generation quality passes: audits, audit
// driven rewrites, and competitor page analysis.
type EnrichmentService interface {
	Audit(ctx context.Context, articleID uuid.UUID) (*AuditResult, error)
	// AutofixFromAudit rewrites the full document against an audit report.
	// reportID may be uuid.Nil, meaning the most recent report.
	AutofixFromAudit(ctx context.Context, articleID uuid.UUID, reportID uuid.UUID) (string, error)
	CompetitorAnalysis(ctx context.Context, articleID uuid.UUID) (*CompetitorResult, error)
}

type enrichmentService struct {
	db  *gorm.DB
	log *logger.Logger

	articleRepo   repos.ArticleRepo
	auditRepo     repos.AuditReportRepo
	knowledgeRepo repos.KnowledgeItemRepo
	referenceRepo repos.ReferenceRepo
	ai            AIClient
	fetcher       PageFetcher
}

func NewEnrichmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	articleRepo repos.ArticleRepo,
	auditRepo repos.AuditReportRepo,
	knowledgeRepo repos.KnowledgeItemRepo,
	referenceRepo repos.ReferenceRepo,
	ai AIClient,
	fetcher PageFetcher,
) EnrichmentService {
	return &enrichmentService{
		db:            db,
		log:           baseLog.With("service", "EnrichmentService"),
		articleRepo:   articleRepo,
		auditRepo:     auditRepo,
		knowledgeRepo: knowledgeRepo,
		referenceRepo: referenceRepo,
		ai:            ai,
		fetcher:       fetcher,
	}
}

func (s *enrichmentService) loadFinished(ctx context.Context, articleID uuid.UUID) (*types.Article, string, error) {
	article, err := loadOwnedArticle(ctx, s.articleRepo, nil, articleID)
	if err != nil {
		return nil, "", err
	}
	if article.FinalMarkdown == nil || strings.TrimSpace(*article.FinalMarkdown) == "" {
		return nil, "", apierr.Validation("article_not_generated", fmt.Errorf("article %s has no document yet", articleID))
	}
	return article, *article.FinalMarkdown, nil
}

func (s *enrichmentService) Audit(ctx context.Context, articleID uuid.UUID) (*AuditResult, error) {
	article, doc, err := s.loadFinished(ctx, articleID)
	if err != nil {
		return nil, err
	}

	if runes := []rune(doc); len(runes) > auditDocChars {
		doc = string(runes[:auditDocChars])
	}

	system := "You are a strict editor for Japanese long-form articles. " +
		"Score the document and list concrete problems. Respond as JSON with keys " +
		`"overallScore" (0-100 integer), "issues", "missing", "quickWins" (string arrays).`
	user := fmt.Sprintf("Title: %s\nRequested topic: %s\nTone: %s\nTarget length: %d characters\nMemo: %s\n\nDocument:\n%s",
		article.Title, article.RequestText, article.Tone, article.TargetChars, article.Memo, doc)

	var payload types.AuditPayload
	if err := s.ai.GenerateJSON(ctx, system, user, &payload); err != nil {
		return nil, apierr.GenerationFailed(err)
	}
	if payload.OverallScore < 0 {
		payload.OverallScore = 0
	}
	if payload.OverallScore > 100 {
		payload.OverallScore = 100
	}

	raw, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}

	report := &types.AuditReport{
		ID:        uuid.New(),
		ArticleID: article.ID,
		Report:    datatypes.JSON(raw),
		CreatedAt: time.Now(),
	}
	if _, err := s.auditRepo.Create(ctx, nil, report); err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, err
	}

	// Mirror a summary onto the article for list views. The document body is
	// never touched by an audit.
	summary := map[string]interface{}{
		"overallScore": payload.OverallScore,
		"issueCount":   len(payload.Issues),
		"reportId":     report.ID,
		"auditedAt":    report.CreatedAt,
	}
	summaryRaw, _ := json.Marshal(summary)
	if err := s.articleRepo.UpdateFields(ctx, nil, article.ID, map[string]interface{}{
		"check_results": datatypes.JSON(summaryRaw),
	}); err != nil {
		s.log.Warn("Failed to mirror audit summary", "article_id", article.ID, "error", err)
	}

	s.log.Info("Audit stored", "article_id", article.ID, "report_id", report.ID, "score", payload.OverallScore)
	return &AuditResult{ReportID: report.ID, Payload: &payload}, nil
}

func (s *enrichmentService) AutofixFromAudit(ctx context.Context, articleID uuid.UUID, reportID uuid.UUID) (string, error) {
	article, doc, err := s.loadFinished(ctx, articleID)
	if err != nil {
		return "", err
	}

	var report *types.AuditReport
	if reportID != uuid.Nil {
		report, err = s.auditRepo.GetByID(ctx, nil, reportID)
	} else {
		report, err = s.auditRepo.GetLatestByArticle(ctx, nil, article.ID)
	}
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return "", apierr.StorageBusy(err)
		}
		return "", err
	}
	if report == nil || report.ArticleID != article.ID {
		return "", apierr.NotFound("audit_report_not_found", fmt.Errorf("no audit report for article %s", articleID))
	}

	var payload types.AuditPayload
	if err := json.Unmarshal(report.Report, &payload); err != nil {
		return "", fmt.Errorf("decode audit payload: %w", err)
	}

	system := "You revise a full Japanese article to resolve the problems an editor found. " +
		"Keep the overall structure and headings, fix every listed issue, add what is missing, " +
		"and reply with the complete revised markdown only."
	user := fmt.Sprintf("Issues:\n- %s\n\nMissing:\n- %s\n\nQuick wins:\n- %s\n\nDocument:\n%s",
		strings.Join(payload.Issues, "\n- "),
		strings.Join(payload.Missing, "\n- "),
		strings.Join(payload.QuickWins, "\n- "),
		doc)

	revised, err := s.ai.GenerateText(ctx, system, user)
	if err != nil {
		return "", apierr.GenerationFailed(err)
	}
	revised = strings.TrimSpace(revised)
	if revised == "" {
		return "", apierr.GenerationFailed(fmt.Errorf("empty rewrite: %w", ErrGenerationFailed))
	}

	if err := s.articleRepo.UpdateFields(ctx, nil, article.ID, map[string]interface{}{
		"final_markdown": revised,
	}); err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return "", apierr.StorageBusy(err)
		}
		return "", err
	}

	s.log.Info("Autofix applied", "article_id", article.ID, "report_id", report.ID)
	return revised, nil
}

func (s *enrichmentService) CompetitorAnalysis(ctx context.Context, articleID uuid.UUID) (*CompetitorResult, error) {
	article, err := loadOwnedArticle(ctx, s.articleRepo, nil, articleID)
	if err != nil {
		return nil, err
	}

	var urls []string
	if len(article.CompetitorURLs) > 0 {
		if err := json.Unmarshal(article.CompetitorURLs, &urls); err != nil {
			return nil, fmt.Errorf("decode competitor urls: %w", err)
		}
	}
	if len(urls) == 0 {
		return nil, apierr.Validation("no_competitor_urls", fmt.Errorf("article %s has no competitor URLs", articleID))
	}
	if len(urls) > maxCompetitorFetches {
		urls = urls[:maxCompetitorFetches]
	}

	pages := make([]*FetchedPage, len(urls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(competitorFetchWorkers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, competitorFetchTimeout)
			defer cancel()
			page, err := s.fetcher.Fetch(fetchCtx, u)
			if err != nil {
				// A dead competitor page never fails the whole pass.
				s.log.Warn("Competitor fetch failed", "article_id", articleID, "url", u, "error", err)
				return nil
			}
			mu.Lock()
			pages[i] = page
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fetched []*FetchedPage
	for _, p := range pages {
		if p != nil {
			fetched = append(fetched, p)
		}
	}
	if len(fetched) == 0 {
		return nil, apierr.GenerationFailed(fmt.Errorf("no competitor page could be fetched"))
	}

	var b strings.Builder
	for i, p := range fetched {
		fmt.Fprintf(&b, "### Competitor %d: %s\nURL: %s\nHeadings: %s\nExcerpt: %s\n\n",
			i+1, p.Title, p.URL, strings.Join(p.Headings, " / "), p.Text)
	}

	system := "You compare competitor articles against a planned article. Respond as JSON with " +
		`key "report" (a Japanese markdown analysis of what the competitors cover, where they are weak, ` +
		"and what the planned article should do to outrank them) and key \"competitors\" " +
		`(one entry per competitor in the given order, each {"insights": [2-4 short Japanese takeaways]}).`
	user := fmt.Sprintf("Planned article: %s\nTopic: %s\n\n%s",
		article.Title, article.RequestText, b.String())

	var reply competitorAnalysisReply
	if err := s.ai.GenerateJSON(ctx, system, user, &reply); err != nil {
		return nil, apierr.GenerationFailed(err)
	}
	reportText := strings.TrimSpace(reply.Report)
	if reportText == "" {
		return nil, apierr.GenerationFailed(fmt.Errorf("empty competitor report: %w", ErrGenerationFailed))
	}

	now := time.Now()
	refs := make([]*types.Reference, 0, len(fetched))
	for i, p := range fetched {
		headingsRaw, _ := json.Marshal(p.Headings)
		summary := p.Text
		if runes := []rune(summary); len(runes) > referenceSummaryChars {
			summary = string(runes[:referenceSummaryChars])
		}
		var insightsRaw datatypes.JSON
		if i < len(reply.Competitors) && len(reply.Competitors[i].Insights) > 0 {
			raw, _ := json.Marshal(reply.Competitors[i].Insights)
			insightsRaw = datatypes.JSON(raw)
		}
		refs = append(refs, &types.Reference{
			ID:        uuid.New(),
			ArticleID: article.ID,
			URL:       p.URL,
			Title:     p.Title,
			Summary:   summary,
			Headings:  datatypes.JSON(headingsRaw),
			Insights:  insightsRaw,
			RawText:   p.Text,
			CreatedAt: now,
		})
	}
	if _, err := s.referenceRepo.Create(ctx, nil, refs); err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, err
	}

	if _, err := s.knowledgeRepo.UpsertByKind(ctx, nil, article.ID, types.KnowledgeKindCompetitorReport, reportText); err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, err
	}

	s.log.Info("Competitor analysis stored", "article_id", article.ID, "fetched", len(fetched))
	return &CompetitorResult{Report: reportText, FetchedCount: len(fetched)}, nil
}
