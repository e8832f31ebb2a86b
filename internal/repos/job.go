package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type JobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.ArticleJob) ([]*types.ArticleJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ArticleJob, error)
	GetLatestByArticle(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) (*types.ArticleJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// AdvanceCursor moves cursor from expected to expected+1 only if nobody got
	// there first. Returns false on a stale cursor; callers refetch and go on.
	AdvanceCursor(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected int, progress int) (bool, error)
	// ClaimNextRunnable picks one queued job (or a running job whose heartbeat
	// went stale) and marks it running via a conditional update, so two workers
	// racing on the same row cannot both win.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.ArticleJob, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.ArticleJob) ([]*types.ArticleJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.ArticleJob{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ArticleJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.ArticleJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) GetLatestByArticle(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) (*types.ArticleJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if articleID == uuid.Nil {
		return nil, nil
	}
	var job types.ArticleJob
	err := transaction.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ArticleJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRepo) AdvanceCursor(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected int, progress int) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&types.ArticleJob{}).
		Where("id = ? AND cursor = ?", id, expected).
		Updates(map[string]interface{}{
			"cursor":       expected + 1,
			"progress":     progress,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.ArticleJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var job types.ArticleJob
	err := transaction.WithContext(ctx).
		Where(`
			(status = ? AND auto_start = ?)
			OR (
				status = ?
				AND heartbeat_at IS NOT NULL
				AND heartbeat_at < ?
			)
		`, types.JobStatusQueued, true, types.JobStatusRunning, staleCutoff).
		Order("created_at ASC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}

	// Optimistic claim: updated_at acts as the row version.
	res := transaction.WithContext(ctx).
		Model(&types.ArticleJob{}).
		Where("id = ? AND updated_at = ?", job.ID, job.UpdatedAt).
		Updates(map[string]interface{}{
			"status":       types.JobStatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Another worker won the row; let the next tick look again.
		return nil, nil
	}

	job.Status = types.JobStatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	return &job, nil
}

func (r *jobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ArticleJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
