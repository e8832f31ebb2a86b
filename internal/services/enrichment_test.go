package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type enrichmentEnv struct {
	articles  repos.ArticleRepo
	audits    repos.AuditReportRepo
	knowledge repos.KnowledgeItemRepo
	refs      repos.ReferenceRepo
	ai        *fakeAI
	enrich    EnrichmentService
	svc       ArticleService
}

func newEnrichmentEnv(t *testing.T, fetcher PageFetcher) *enrichmentEnv {
	t.Helper()
	gdb := newTestDB(t)
	log := newTestLogger(t)
	articleRepo := repos.NewArticleRepo(gdb, log)
	auditRepo := repos.NewAuditReportRepo(gdb, log)
	knowledgeRepo := repos.NewKnowledgeItemRepo(gdb, log)
	referenceRepo := repos.NewReferenceRepo(gdb, log)
	ai := &fakeAI{}
	if fetcher == nil {
		fetcher = NewPageFetcher(log, nil)
	}
	return &enrichmentEnv{
		articles:  articleRepo,
		audits:    auditRepo,
		knowledge: knowledgeRepo,
		refs:      referenceRepo,
		ai:        ai,
		enrich:    NewEnrichmentService(gdb, log, articleRepo, auditRepo, knowledgeRepo, referenceRepo, ai, fetcher),
		svc:       NewArticleService(gdb, log, articleRepo, repos.NewSectionRepo(gdb, log)),
	}
}

func (e *enrichmentEnv) finishedArticle(t *testing.T, ctx context.Context, doc string, competitorURLs []string) *types.Article {
	t.Helper()
	article, err := e.svc.Create(ctx, CreateArticleInput{
		RequestText:    "中小企業向けの在庫管理の記事",
		CompetitorURLs: competitorURLs,
	})
	if err != nil {
		t.Fatalf("create article: %v", err)
	}
	if doc != "" {
		if err := e.articles.UpdateFields(ctx, nil, article.ID, map[string]interface{}{
			"final_markdown": doc,
			"status":         types.ArticleStatusDone,
		}); err != nil {
			t.Fatalf("store document: %v", err)
		}
	}
	return article
}

func TestEnrichment_AuditStoresReportWithoutTouchingBody(t *testing.T) {
	env := newEnrichmentEnv(t, nil)
	ctx := guestContext(uuid.New().String())
	doc := "# 在庫管理\n\n## 基礎\n\n本文。"
	article := env.finishedArticle(t, ctx, doc, nil)
	env.ai.jsonReply = `{"overallScore":72,"issues":["導入が弱い"],"missing":["FAQ"],"quickWins":["結論を先に"]}`

	result, err := env.enrich.Audit(ctx, article.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if result.Payload.OverallScore != 72 {
		t.Fatalf("expected score 72, got %d", result.Payload.OverallScore)
	}

	stored, err := env.audits.GetByID(ctx, nil, result.ReportID)
	if err != nil || stored == nil {
		t.Fatalf("report not stored: %v", err)
	}
	var payload types.AuditPayload
	if err := json.Unmarshal(stored.Report, &payload); err != nil {
		t.Fatalf("decode stored report: %v", err)
	}
	if len(payload.Issues) != 1 || payload.Issues[0] != "導入が弱い" {
		t.Fatalf("unexpected stored issues: %v", payload.Issues)
	}

	reloaded, _ := env.articles.GetByID(ctx, nil, article.ID)
	if *reloaded.FinalMarkdown != doc {
		t.Fatalf("audit must not modify the document")
	}
	if len(reloaded.CheckResults) == 0 {
		t.Fatalf("audit summary should be mirrored onto the article")
	}
}

func TestEnrichment_AuditPromptCarriesBriefFields(t *testing.T) {
	env := newEnrichmentEnv(t, nil)
	ctx := guestContext(uuid.New().String())
	article, err := env.svc.Create(ctx, CreateArticleInput{
		RequestText: "在庫管理の記事",
		Tone:        "ですます調",
		Memo:        "専門用語は噛み砕いて説明する",
		TargetChars: 4000,
	})
	if err != nil {
		t.Fatalf("create article: %v", err)
	}
	if err := env.articles.UpdateFields(ctx, nil, article.ID, map[string]interface{}{
		"final_markdown": "# 在庫管理\n\n本文。",
		"status":         types.ArticleStatusDone,
	}); err != nil {
		t.Fatalf("store document: %v", err)
	}
	env.ai.jsonReply = `{"overallScore":80,"issues":[],"missing":[],"quickWins":[]}`

	if _, err := env.enrich.Audit(ctx, article.ID); err != nil {
		t.Fatalf("audit: %v", err)
	}
	for _, want := range []string{"ですます調", "専門用語は噛み砕いて説明する", "4000"} {
		if !strings.Contains(env.ai.lastUser, want) {
			t.Fatalf("audit prompt missing %q:\n%s", want, env.ai.lastUser)
		}
	}
}

func TestEnrichment_AutofixRewritesFromLatestReport(t *testing.T) {
	env := newEnrichmentEnv(t, nil)
	ctx := guestContext(uuid.New().String())
	article := env.finishedArticle(t, ctx, "# 在庫管理\n\n## 基礎\n\n古い本文。", nil)
	env.ai.jsonReply = `{"overallScore":50,"issues":["浅い"],"missing":[],"quickWins":[]}`
	if _, err := env.enrich.Audit(ctx, article.ID); err != nil {
		t.Fatalf("audit: %v", err)
	}

	env.ai.textReply = "# 在庫管理\n\n## 基礎\n\n深掘りした新しい本文。"
	revised, err := env.enrich.AutofixFromAudit(ctx, article.ID, uuid.Nil)
	if err != nil {
		t.Fatalf("autofix: %v", err)
	}
	if !strings.Contains(revised, "新しい本文") {
		t.Fatalf("unexpected rewrite: %q", revised)
	}
	if !strings.Contains(env.ai.lastUser, "浅い") {
		t.Fatalf("prompt should carry the audit issues")
	}

	reloaded, _ := env.articles.GetByID(ctx, nil, article.ID)
	if !strings.Contains(*reloaded.FinalMarkdown, "新しい本文") {
		t.Fatalf("rewrite not persisted")
	}
}

func TestEnrichment_AutofixWithoutReportIsNotFound(t *testing.T) {
	env := newEnrichmentEnv(t, nil)
	ctx := guestContext(uuid.New().String())
	article := env.finishedArticle(t, ctx, "# 記事\n\n本文。", nil)

	_, err := env.enrich.AutofixFromAudit(ctx, article.ID, uuid.Nil)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 404 {
		t.Fatalf("expected 404 without a report, got %v", err)
	}
}

func TestEnrichment_CompetitorAnalysisSkipsDeadPages(t *testing.T) {
	okPage := `<html><head><title>競合A</title></head><body>
		<nav>menu</nav>
		<h2>競合の見出し</h2>
		<p>競合記事の本文です。</p>
		<script>ignored()</script>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/dead") {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, okPage)
	}))
	defer srv.Close()

	env := newEnrichmentEnv(t, nil)
	ctx := guestContext(uuid.New().String())
	article := env.finishedArticle(t, ctx, "# 記事\n\n本文。", []string{
		srv.URL + "/alive",
		srv.URL + "/dead",
	})
	env.ai.jsonReply = `{"report":"## 競合分析レポート\n\n競合Aは見出し構成が強い。",` +
		`"competitors":[{"insights":["見出しが具体的","導入が短い"]}]}`

	result, err := env.enrich.CompetitorAnalysis(ctx, article.ID)
	if err != nil {
		t.Fatalf("competitor analysis: %v", err)
	}
	if result.FetchedCount != 1 {
		t.Fatalf("expected 1 fetched page, got %d", result.FetchedCount)
	}
	if !strings.Contains(result.Report, "競合分析レポート") {
		t.Fatalf("unexpected report: %q", result.Report)
	}
	if !strings.Contains(env.ai.lastUser, "競合記事の本文です") {
		t.Fatalf("prompt should carry fetched page text")
	}
	if strings.Contains(env.ai.lastUser, "ignored()") {
		t.Fatalf("script content must be stripped before prompting")
	}

	refs, err := env.refs.GetRecentByArticle(ctx, nil, article.ID, 10)
	if err != nil {
		t.Fatalf("load references: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 stored reference, got %d", len(refs))
	}
	if refs[0].Title != "競合A" {
		t.Fatalf("unexpected reference title %q", refs[0].Title)
	}
	if refs[0].RawText != "" {
		t.Fatalf("read path must not return raw page text")
	}
	var insights []string
	if err := json.Unmarshal(refs[0].Insights, &insights); err != nil {
		t.Fatalf("decode stored insights: %v", err)
	}
	if len(insights) != 2 || insights[0] != "見出しが具体的" {
		t.Fatalf("unexpected stored insights: %v", insights)
	}

	item, err := env.knowledge.GetByArticleAndKind(ctx, nil, article.ID, types.KnowledgeKindCompetitorReport)
	if err != nil || item == nil {
		t.Fatalf("competitor report not stored: %v", err)
	}
	if !strings.Contains(item.Content, "競合分析レポート") {
		t.Fatalf("unexpected stored report: %q", item.Content)
	}
}

func TestEnrichment_CompetitorAnalysisWithoutURLsIsValidation(t *testing.T) {
	env := newEnrichmentEnv(t, nil)
	ctx := guestContext(uuid.New().String())
	article := env.finishedArticle(t, ctx, "", nil)

	_, err := env.enrich.CompetitorAnalysis(ctx, article.ID)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != 400 {
		t.Fatalf("expected validation error without urls, got %v", err)
	}
}
