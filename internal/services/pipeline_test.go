package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/requestdata"
	"github.com/writeflow/writeflow-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(
		&types.Article{},
		&types.ArticleSection{},
		&types.ArticleJob{},
		&types.AuditReport{},
		&types.KnowledgeItem{},
		&types.Reference{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func guestContext(guestID string) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{GuestID: guestID})
}

// fakeGenerator produces a fixed-size outline and deterministic section
// bodies, counting calls so resume behavior is observable.
type fakeGenerator struct {
	sections     int
	sectionCalls int
	failAt       int // 1-based section index that fails once, 0 for never
	failed       bool
}

func (g *fakeGenerator) GenerateOutline(ctx context.Context, article *types.Article) ([]SectionSpec, error) {
	specs := make([]SectionSpec, 0, g.sections)
	for i := 0; i < g.sections; i++ {
		specs = append(specs, SectionSpec{
			Heading:     fmt.Sprintf("見出し%d", i+1),
			TargetChars: 500,
		})
	}
	return specs, nil
}

func (g *fakeGenerator) GenerateSection(ctx context.Context, article *types.Article, spec SectionSpec, priorContext string) (string, string, error) {
	g.sectionCalls++
	if g.failAt > 0 && g.sectionCalls == g.failAt && !g.failed {
		g.failed = true
		return "", "", fmt.Errorf("model returned nothing: %w", ErrGenerationFailed)
	}
	return spec.Heading, fmt.Sprintf("%sの本文です。", spec.Heading), nil
}

type pipelineEnv struct {
	db       *gorm.DB
	articles repos.ArticleRepo
	sections repos.SectionRepo
	jobs     repos.JobRepo
	gen      *fakeGenerator
	pipeline PipelineService
	svc      ArticleService
}

func newPipelineEnv(t *testing.T, sections int) *pipelineEnv {
	t.Helper()
	gdb := newTestDB(t)
	log := newTestLogger(t)
	articleRepo := repos.NewArticleRepo(gdb, log)
	sectionRepo := repos.NewSectionRepo(gdb, log)
	jobRepo := repos.NewJobRepo(gdb, log)
	referenceRepo := repos.NewReferenceRepo(gdb, log)
	gen := &fakeGenerator{sections: sections}
	return &pipelineEnv{
		db:       gdb,
		articles: articleRepo,
		sections: sectionRepo,
		jobs:     jobRepo,
		gen:      gen,
		pipeline: NewPipelineService(gdb, log, articleRepo, sectionRepo, jobRepo, referenceRepo, gen),
		svc:      NewArticleService(gdb, log, articleRepo, sectionRepo),
	}
}

func (e *pipelineEnv) createArticle(t *testing.T, ctx context.Context) *types.Article {
	t.Helper()
	article, err := e.svc.Create(ctx, CreateArticleInput{
		RequestText: "卸売業者向けに、在庫管理システムの選び方を解説する記事",
		TargetChars: 4000,
	})
	if err != nil {
		t.Fatalf("create article: %v", err)
	}
	return article
}

// pollUntilTerminal drives a client-style run: each poll advances at most one
// unit, so a finite bound must be enough for any outline size.
func pollUntilTerminal(t *testing.T, ctx context.Context, p PipelineService, jobID uuid.UUID, maxPolls int) *JobStatusPayload {
	t.Helper()
	var last *JobStatusPayload
	for i := 0; i < maxPolls; i++ {
		payload, err := p.Poll(ctx, jobID)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		last = payload
		if payload.Status == types.JobStatusDone || payload.Status == types.JobStatusError {
			return payload
		}
	}
	t.Fatalf("job not terminal after %d polls, status=%s step=%s cursor=%d", maxPolls, last.Status, last.Step, last.Cursor)
	return nil
}

func TestPipeline_PollDrivesJobToCompletion(t *testing.T) {
	env := newPipelineEnv(t, 4)
	ctx := guestContext(uuid.New().String())

	article := env.createArticle(t, ctx)
	job, err := env.pipeline.Start(ctx, article.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Status != types.JobStatusQueued || job.Step != types.JobStepInit {
		t.Fatalf("new job should be queued/init, got %s/%s", job.Status, job.Step)
	}

	// Outline, one poll per section, one assembling poll: N+2 for N sections.
	final := pollUntilTerminal(t, ctx, env.pipeline, job.ID, 6)
	if final.Status != types.JobStatusDone {
		t.Fatalf("expected done, got %s (error=%q)", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", final.Progress)
	}
	if len(final.Sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(final.Sections))
	}
	for i, sec := range final.Sections {
		if sec.Index != i {
			t.Fatalf("section indices not dense: position %d has index %d", i, sec.Index)
		}
	}
	if final.Article.FinalMarkdown == nil || *final.Article.FinalMarkdown == "" {
		t.Fatalf("expected assembled document on the article")
	}
	if final.Article.Status != types.ArticleStatusDone {
		t.Fatalf("expected article done, got %s", final.Article.Status)
	}
	if !strings.Contains(*final.Article.FinalMarkdown, "## 見出し1") {
		t.Fatalf("assembled document missing first heading:\n%s", *final.Article.FinalMarkdown)
	}
	if env.gen.sectionCalls != 4 {
		t.Fatalf("expected exactly 4 section generations, got %d", env.gen.sectionCalls)
	}
}

func TestPipeline_ResumesFromCursorAfterRestart(t *testing.T) {
	env := newPipelineEnv(t, 5)
	ctx := guestContext(uuid.New().String())

	article := env.createArticle(t, ctx)
	job, err := env.pipeline.Start(ctx, article.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Outline plus two sections, then drop the service on the floor.
	for i := 0; i < 3; i++ {
		if _, err := env.pipeline.Poll(ctx, job.ID); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	mid, err := env.jobs.GetByID(ctx, nil, job.ID)
	if err != nil || mid == nil {
		t.Fatalf("load mid-run job: %v", err)
	}
	if mid.Cursor != 2 {
		t.Fatalf("expected cursor 2 after two section polls, got %d", mid.Cursor)
	}

	// A fresh service over the same store continues from the cursor without
	// regenerating finished sections.
	log := newTestLogger(t)
	restarted := NewPipelineService(env.db, log, env.articles, env.sections, env.jobs,
		repos.NewReferenceRepo(env.db, log), env.gen)

	final := pollUntilTerminal(t, ctx, restarted, job.ID, 20)
	if final.Status != types.JobStatusDone {
		t.Fatalf("expected done after restart, got %s (error=%q)", final.Status, final.Error)
	}
	if len(final.Sections) != 5 {
		t.Fatalf("expected 5 sections, got %d", len(final.Sections))
	}
	if env.gen.sectionCalls != 5 {
		t.Fatalf("finished sections were regenerated: %d calls for 5 sections", env.gen.sectionCalls)
	}
}

func TestPipeline_ShorterRerunDropsStaleTailSections(t *testing.T) {
	env := newPipelineEnv(t, 5)
	ctx := guestContext(uuid.New().String())

	article := env.createArticle(t, ctx)
	job, err := env.pipeline.Start(ctx, article.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if final := pollUntilTerminal(t, ctx, env.pipeline, job.ID, 10); final.Status != types.JobStatusDone {
		t.Fatalf("first run: expected done, got %s (error=%q)", final.Status, final.Error)
	}

	// Rerun over the same store without a reset, with a shorter outline. The
	// upsert only overwrites [0, 3), so rows 3 and 4 from the first run are
	// still in the table when assembly starts.
	log := newTestLogger(t)
	shorter := &fakeGenerator{sections: 3}
	rerun := NewPipelineService(env.db, log, env.articles, env.sections, env.jobs,
		repos.NewReferenceRepo(env.db, log), shorter)

	job2, err := rerun.Start(ctx, article.ID, StartOptions{ResetSections: false})
	if err != nil {
		t.Fatalf("rerun start: %v", err)
	}
	final := pollUntilTerminal(t, ctx, rerun, job2.ID, 10)
	if final.Status != types.JobStatusDone {
		t.Fatalf("rerun: expected done, got %s (error=%q)", final.Status, final.Error)
	}

	if len(final.Sections) != 3 {
		t.Fatalf("expected 3 sections after shorter rerun, got %d", len(final.Sections))
	}
	doc := *final.Article.FinalMarkdown
	if strings.Contains(doc, "見出し4") || strings.Contains(doc, "見出し5") {
		t.Fatalf("tail sections from the first run leaked into the document:\n%s", doc)
	}
	stored, err := env.sections.GetByArticleID(ctx, nil, article.ID)
	if err != nil {
		t.Fatalf("load sections: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected stale tail rows deleted, got %d stored sections", len(stored))
	}
}

func TestPipeline_TransientGenerationFailureRetries(t *testing.T) {
	env := newPipelineEnv(t, 3)
	env.gen.failAt = 2 // second generation call fails once
	ctx := guestContext(uuid.New().String())

	article := env.createArticle(t, ctx)
	job, err := env.pipeline.Start(ctx, article.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	final := pollUntilTerminal(t, ctx, env.pipeline, job.ID, 20)
	if final.Status != types.JobStatusDone {
		t.Fatalf("one transient failure should not fail the job, got %s (error=%q)", final.Status, final.Error)
	}
	if len(final.Sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(final.Sections))
	}
}

func TestPipeline_OwnershipHidesForeignJobs(t *testing.T) {
	env := newPipelineEnv(t, 3)
	owner := guestContext(uuid.New().String())
	stranger := guestContext(uuid.New().String())

	article := env.createArticle(t, owner)
	job, err := env.pipeline.Start(owner, article.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := env.pipeline.Poll(stranger, job.ID); err == nil {
		t.Fatalf("stranger poll should fail")
	} else {
		var ae *apierr.Error
		if !errors.As(err, &ae) || ae.Status != 404 {
			t.Fatalf("stranger poll should read as not found, got %v", err)
		}
	}

	if _, err := env.pipeline.Start(stranger, article.ID, StartOptions{}); err == nil {
		t.Fatalf("stranger start should fail")
	} else {
		var ae *apierr.Error
		if !errors.As(err, &ae) || ae.Status != 404 {
			t.Fatalf("stranger start should read as not found, got %v", err)
		}
	}
}

func TestPipeline_RegenerateResetsSections(t *testing.T) {
	env := newPipelineEnv(t, 3)
	ctx := guestContext(uuid.New().String())

	article := env.createArticle(t, ctx)
	job, err := env.pipeline.Start(ctx, article.ID, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pollUntilTerminal(t, ctx, env.pipeline, job.ID, 20)

	job2, err := env.pipeline.Start(ctx, article.ID, StartOptions{ResetSections: true})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	sections, err := env.sections.GetByArticleID(ctx, nil, article.ID)
	if err != nil {
		t.Fatalf("load sections: %v", err)
	}
	if len(sections) != 0 {
		t.Fatalf("regeneration should clear stored sections, found %d", len(sections))
	}
	reloaded, err := env.articles.GetByID(ctx, nil, article.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload article: %v", err)
	}
	if reloaded.FinalMarkdown != nil {
		t.Fatalf("regeneration should clear the assembled document")
	}
	if reloaded.Status != types.ArticleStatusRunning {
		t.Fatalf("expected article running after regenerate, got %s", reloaded.Status)
	}

	final := pollUntilTerminal(t, ctx, env.pipeline, job2.ID, 20)
	if final.Status != types.JobStatusDone {
		t.Fatalf("regenerated run should finish, got %s (error=%q)", final.Status, final.Error)
	}
}
