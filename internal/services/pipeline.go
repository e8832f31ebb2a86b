package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/dberr"
	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/markdown"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/requestdata"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type StartOptions struct {
	ResetSections bool
	AutoStart     bool
}

// JobStatusPayload is the poll response: job state plus the article, its
// sections, and the newest references (raw page text excluded).
type JobStatusPayload struct {
	JobID      uuid.UUID               `json:"job_id"`
	Status     string                  `json:"status"`
	Step       string                  `json:"step"`
	Progress   int                     `json:"progress"`
	Cursor     int                     `json:"cursor"`
	Error      string                  `json:"error,omitempty"`
	Article    *types.Article          `json:"article"`
	Sections   []*types.ArticleSection `json:"sections"`
	References []*types.Reference      `json:"references,omitempty"`
}

type PipelineService interface {
	// Start creates a fresh job for the article, optionally resetting stored
	// sections for a full regeneration. Requires the caller to own the article.
	Start(ctx context.Context, articleID uuid.UUID, opts StartOptions) (*types.ArticleJob, error)
	// Poll returns job state; if the job is runnable and unclaimed it performs
	// one bounded Advance inline first (the client-driven progress path).
	Poll(ctx context.Context, jobID uuid.UUID) (*JobStatusPayload, error)
	// StartWorker runs the background claim loop until ctx is done.
	StartWorker(ctx context.Context)
}

type pipelineService struct {
	db  *gorm.DB
	log *logger.Logger

	articleRepo   repos.ArticleRepo
	sectionRepo   repos.SectionRepo
	jobRepo       repos.JobRepo
	referenceRepo repos.ReferenceRepo

	gen SectionGenerator

	retryPolicy dberr.RetryPolicy
	// Bounded retries for ErrGenerationFailed before the job goes to error.
	maxGenAttempts int
	staleRunning   time.Duration
	maxClaims      int

	mu       sync.Mutex
	jobLocks map[uuid.UUID]*sync.Mutex
}

func NewPipelineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	articleRepo repos.ArticleRepo,
	sectionRepo repos.SectionRepo,
	jobRepo repos.JobRepo,
	referenceRepo repos.ReferenceRepo,
	gen SectionGenerator,
) PipelineService {
	return &pipelineService{
		db:             db,
		log:            baseLog.With("service", "PipelineService"),
		articleRepo:    articleRepo,
		sectionRepo:    sectionRepo,
		jobRepo:        jobRepo,
		referenceRepo:  referenceRepo,
		gen:            gen,
		retryPolicy:    dberr.RetryPolicy{},
		maxGenAttempts: 3,
		staleRunning:   2 * time.Minute,
		maxClaims:      5,
		jobLocks:       map[uuid.UUID]*sync.Mutex{},
	}
}

// jobLock serializes Advance per job; the conditional cursor write in the
// repo is the cross-process guard, this is the in-process one.
func (s *pipelineService) jobLock(jobID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.jobLocks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.jobLocks[jobID] = l
	}
	return l
}

func (s *pipelineService) releaseJobLock(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobLocks, jobID)
}

func (s *pipelineService) Start(ctx context.Context, articleID uuid.UUID, opts StartOptions) (*types.ArticleJob, error) {
	article, err := loadOwnedArticle(ctx, s.articleRepo, nil, articleID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &types.ArticleJob{
		ID:        uuid.New(),
		ArticleID: article.ID,
		Status:    types.JobStatusQueued,
		Step:      types.JobStepInit,
		Progress:  0,
		Cursor:    0,
		AutoStart: opts.AutoStart,
		Meta:      datatypes.JSON([]byte(`{}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.ResetSections {
			if err := s.sectionRepo.DeleteByArticleID(ctx, tx, article.ID); err != nil {
				return fmt.Errorf("reset sections: %w", err)
			}
			if err := s.articleRepo.UpdateFields(ctx, tx, article.ID, map[string]interface{}{
				"final_markdown": nil,
				"check_results":  nil,
				"status":         types.ArticleStatusRunning,
			}); err != nil {
				return fmt.Errorf("reset article: %w", err)
			}
		} else {
			if err := s.articleRepo.UpdateFields(ctx, tx, article.ID, map[string]interface{}{
				"status": types.ArticleStatusRunning,
			}); err != nil {
				return fmt.Errorf("mark article running: %w", err)
			}
		}
		if _, err := s.jobRepo.Create(ctx, tx, []*types.ArticleJob{job}); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, err
	}

	s.log.Info("Pipeline started", "article_id", article.ID, "job_id", job.ID, "reset_sections", opts.ResetSections, "auto_start", opts.AutoStart)
	return job, nil
}

func (s *pipelineService) Poll(ctx context.Context, jobID uuid.UUID) (*JobStatusPayload, error) {
	job, article, err := s.loadOwnedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.Terminal() && !s.claimed(job) {
		if err := s.advanceOnce(ctx, job.ID); err != nil {
			if dberr.Classify(err) == dberr.KindRetryable {
				return nil, apierr.StorageBusy(err)
			}
			// Fatal advance errors are already recorded on the job row;
			// fall through and report them in the payload.
			s.log.Warn("Advance during poll failed", "job_id", job.ID, "error", err)
		}
		job, err = s.jobRepo.GetByID(ctx, nil, jobID)
		if err != nil || job == nil {
			return nil, apierr.NotFound("job_not_found", fmt.Errorf("job disappeared during poll"))
		}
		article, err = s.articleRepo.GetByID(ctx, nil, job.ArticleID)
		if err != nil || article == nil {
			return nil, apierr.NotFound("job_not_found", fmt.Errorf("article disappeared during poll"))
		}
	}

	sections, err := s.sectionRepo.GetByArticleID(ctx, nil, job.ArticleID)
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, err
	}
	references, err := s.referenceRepo.GetRecentByArticle(ctx, nil, job.ArticleID, 6)
	if err != nil {
		s.log.Warn("Loading references failed", "article_id", job.ArticleID, "error", err)
		references = nil
	}

	return &JobStatusPayload{
		JobID:      job.ID,
		Status:     job.Status,
		Step:       job.Step,
		Progress:   job.Progress,
		Cursor:     job.Cursor,
		Error:      job.Error,
		Article:    article,
		Sections:   sections,
		References: references,
	}, nil
}

// claimed reports whether a live worker currently holds the job.
func (s *pipelineService) claimed(job *types.ArticleJob) bool {
	if job.LockedAt == nil {
		return false
	}
	if job.HeartbeatAt == nil {
		return false
	}
	return time.Since(*job.HeartbeatAt) < s.staleRunning
}

func (s *pipelineService) loadOwnedJob(ctx context.Context, jobID uuid.UUID) (*types.ArticleJob, *types.Article, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, nil, apierr.NotFound("job_not_found", fmt.Errorf("no caller identity"))
	}
	if jobID == uuid.Nil {
		return nil, nil, apierr.Validation("invalid_job_id", fmt.Errorf("missing job id"))
	}
	job, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, nil, apierr.StorageBusy(err)
		}
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", jobID))
	}
	article, err := s.articleRepo.GetByID(ctx, nil, job.ArticleID)
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, nil, apierr.StorageBusy(err)
		}
		return nil, nil, err
	}
	// Ownership mismatch reads the same as a missing job.
	if article == nil || !article.OwnedBy(rd.UserID, rd.GuestID) {
		return nil, nil, apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", jobID))
	}
	return job, article, nil
}

// advanceOnce performs one bounded unit of work: compute the outline, produce
// one section, or assemble. The cursor is the sole resume checkpoint; calling
// this any number of times never duplicates or skips an index.
func (s *pipelineService) advanceOnce(ctx context.Context, jobID uuid.UUID) error {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.jobRepo.GetByID(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.Terminal() {
		return nil
	}

	switch job.Step {
	case types.JobStepInit:
		return s.stepInit(ctx, job)
	case types.JobStepSections:
		return s.stepSections(ctx, job)
	case types.JobStepAssemble:
		return s.stepAssemble(ctx, job)
	case types.JobStepDone:
		return nil
	default:
		return s.failJob(ctx, job, job.Step, fmt.Errorf("unknown step %q", job.Step))
	}
}

func (s *pipelineService) stepInit(ctx context.Context, job *types.ArticleJob) error {
	article, err := s.articleRepo.GetByID(ctx, nil, job.ArticleID)
	if err != nil {
		return err
	}
	if article == nil {
		return s.failJob(ctx, job, types.JobStepInit, fmt.Errorf("article %s missing", job.ArticleID))
	}

	specs, err := s.generateWithRetries(ctx, job, func() (any, error) {
		return s.gen.GenerateOutline(ctx, article)
	})
	if err != nil {
		return s.failJob(ctx, job, types.JobStepInit, err)
	}

	metaBytes, err := json.Marshal(OutlineMeta{Sections: specs.([]SectionSpec)})
	if err != nil {
		return s.failJob(ctx, job, types.JobStepInit, fmt.Errorf("marshal outline: %w", err))
	}

	now := time.Now()
	err = dberr.WithRetry(ctx, s.log, s.retryPolicy, func() error {
		return s.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status":       types.JobStatusRunning,
			"step":         types.JobStepSections,
			"cursor":       0,
			"progress":     5,
			"meta":         datatypes.JSON(metaBytes),
			"heartbeat_at": now,
		})
	})
	if err != nil {
		return err
	}
	s.log.Info("Outline ready", "job_id", job.ID, "sections", len(specs.([]SectionSpec)))
	return nil
}

func (s *pipelineService) stepSections(ctx context.Context, job *types.ArticleJob) error {
	var meta OutlineMeta
	if err := json.Unmarshal(job.Meta, &meta); err != nil || len(meta.Sections) == 0 {
		return s.failJob(ctx, job, types.JobStepSections, fmt.Errorf("job meta has no outline"))
	}
	n := len(meta.Sections)

	if job.Cursor >= n {
		if err := dberr.WithRetry(ctx, s.log, s.retryPolicy, func() error {
			return s.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
				"step":     types.JobStepAssemble,
				"progress": 100,
			})
		}); err != nil {
			return err
		}
		// Assemble in the same unit of work; the last section's advance plus
		// one more call is all a full run ever needs.
		job.Step = types.JobStepAssemble
		return s.stepAssemble(ctx, job)
	}

	article, err := s.articleRepo.GetByID(ctx, nil, job.ArticleID)
	if err != nil {
		return err
	}
	if article == nil {
		return s.failJob(ctx, job, types.JobStepSections, fmt.Errorf("article %s missing", job.ArticleID))
	}

	prior, err := s.priorContext(ctx, job.ArticleID)
	if err != nil {
		return err
	}

	spec := meta.Sections[job.Cursor]
	result, err := s.generateWithRetries(ctx, job, func() (any, error) {
		heading, body, genErr := s.gen.GenerateSection(ctx, article, spec, prior)
		if genErr != nil {
			return nil, genErr
		}
		return &types.ArticleSection{
			ArticleID: job.ArticleID,
			Index:     job.Cursor,
			Heading:   heading,
			Body:      body,
			Status:    types.SectionStatusDone,
		}, nil
	})
	if err != nil {
		return s.failJob(ctx, job, types.JobStepSections, err)
	}
	section := result.(*types.ArticleSection)

	// Persist only after the model call returned; no locks are held across it.
	if err := dberr.WithRetry(ctx, s.log, s.retryPolicy, func() error {
		return s.sectionRepo.Upsert(ctx, nil, section)
	}); err != nil {
		if dberr.IsDuplicateKey(err) {
			s.log.Warn("Section already written at index, continuing", "job_id", job.ID, "index", job.Cursor)
		} else {
			return err
		}
	}

	progress := int(math.Round(100 * float64(job.Cursor+1) / float64(n)))
	advanced, err := s.jobRepo.AdvanceCursor(ctx, nil, job.ID, job.Cursor, progress)
	if err != nil {
		return err
	}
	if !advanced {
		// Somebody else moved the cursor; the stored section is identical by
		// construction, so just let the next call pick up the fresh state.
		s.log.Warn("Stale cursor, skipping advance", "job_id", job.ID, "cursor", job.Cursor)
		return nil
	}

	s.log.Info("Section generated", "job_id", job.ID, "index", job.Cursor, "heading", section.Heading, "progress", progress)
	return nil
}

func (s *pipelineService) stepAssemble(ctx context.Context, job *types.ArticleJob) error {
	var meta OutlineMeta
	if err := json.Unmarshal(job.Meta, &meta); err != nil || len(meta.Sections) == 0 {
		return s.failJob(ctx, job, types.JobStepAssemble, fmt.Errorf("job meta has no outline"))
	}

	// Only [0, n) belongs to this job's document. A rerun without a reset can
	// sit on top of tail rows from an earlier, longer outline; drop them so
	// they never get concatenated in.
	if err := dberr.WithRetry(ctx, s.log, s.retryPolicy, func() error {
		return s.sectionRepo.DeleteFromIndex(ctx, nil, job.ArticleID, len(meta.Sections))
	}); err != nil {
		return err
	}

	sections, err := s.sectionRepo.GetByArticleID(ctx, nil, job.ArticleID)
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		return s.failJob(ctx, job, types.JobStepAssemble, fmt.Errorf("no sections to assemble"))
	}

	final := markdown.Assemble(sections)
	now := time.Now()
	err = dberr.WithRetry(ctx, s.log, s.retryPolicy, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.articleRepo.UpdateFields(ctx, tx, job.ArticleID, map[string]interface{}{
				"final_markdown": final,
				"status":         types.ArticleStatusDone,
			}); err != nil {
				return err
			}
			return s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
				"status":       types.JobStatusDone,
				"step":         types.JobStepDone,
				"progress":     100,
				"locked_at":    nil,
				"heartbeat_at": now,
			})
		})
	})
	if err != nil {
		return err
	}

	s.releaseJobLock(job.ID)
	s.log.Info("Article assembled", "job_id", job.ID, "article_id", job.ArticleID, "sections", len(sections))
	return nil
}

// priorContext gives the generator the tail of what exists so far: the
// heading list plus the last stored body.
func (s *pipelineService) priorContext(ctx context.Context, articleID uuid.UUID) (string, error) {
	sections, err := s.sectionRepo.GetByArticleID(ctx, nil, articleID)
	if err != nil {
		return "", err
	}
	if len(sections) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&sb, "- %s\n", sec.Heading)
	}
	last := sections[len(sections)-1]
	sb.WriteString("\n")
	sb.WriteString(last.Body)
	return sb.String(), nil
}

// generateWithRetries retries ErrGenerationFailed a bounded number of times;
// other errors surface immediately.
func (s *pipelineService) generateWithRetries(ctx context.Context, job *types.ArticleJob, gen func() (any, error)) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxGenAttempts; attempt++ {
		out, err := gen()
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrGenerationFailed) {
			return nil, err
		}
		lastErr = err
		s.log.Warn("Generation failed, retrying",
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", s.maxGenAttempts,
			"error", err,
		)
	}
	return nil, lastErr
}

func (s *pipelineService) failJob(ctx context.Context, job *types.ArticleJob, step string, cause error) error {
	now := time.Now()
	msg := cause.Error()
	if uErr := s.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":       types.JobStatusError,
		"step":         step,
		"error":        msg,
		"locked_at":    nil,
		"heartbeat_at": now,
	}); uErr != nil {
		s.log.Error("Failed to record job error", "job_id", job.ID, "error", uErr)
	}
	if uErr := s.articleRepo.UpdateFields(ctx, nil, job.ArticleID, map[string]interface{}{
		"status": types.ArticleStatusError,
	}); uErr != nil {
		s.log.Error("Failed to record article error", "article_id", job.ArticleID, "error", uErr)
	}
	s.releaseJobLock(job.ID)
	s.log.Error("Pipeline job failed", "job_id", job.ID, "step", step, "error", msg)
	return cause
}

func (s *pipelineService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := s.jobRepo.ClaimNextRunnable(ctx, nil, s.staleRunning)
				if err != nil {
					s.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if job == nil {
					continue
				}
				s.processClaimed(ctx, job)
			}
		}
	}()
}

// processClaimed drives a claimed job to a terminal state, one bounded
// Advance at a time. A crash between steps loses at most one section's
// generation; the cursor restarts the rest.
func (s *pipelineService) processClaimed(ctx context.Context, job *types.ArticleJob) {
	if job.Attempts > s.maxClaims {
		_ = s.failJob(ctx, job, job.Step, fmt.Errorf("job reclaimed %d times without finishing", job.Attempts))
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		current, err := s.jobRepo.GetByID(ctx, nil, job.ID)
		if err != nil || current == nil || current.Terminal() {
			return
		}
		if err := s.advanceOnce(ctx, job.ID); err != nil {
			if dberr.Classify(err) == dberr.KindRetryable {
				// Leave the job running at its cursor; a later claim retries
				// the same position.
				s.log.Warn("Advance hit transient storage error, releasing claim", "job_id", job.ID, "error", err)
				return
			}
			return
		}
		if err := s.jobRepo.Heartbeat(ctx, nil, job.ID); err != nil {
			s.log.Warn("Heartbeat failed", "job_id", job.ID, "error", err)
		}
	}
}
