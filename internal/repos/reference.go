package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type ReferenceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, refs []*types.Reference) ([]*types.Reference, error)
	// GetRecentByArticle returns the newest references without raw_text; the
	// extracted page text never leaves the store through a read path.
	GetRecentByArticle(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, limit int) ([]*types.Reference, error)
}

type referenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReferenceRepo(db *gorm.DB, baseLog *logger.Logger) ReferenceRepo {
	return &referenceRepo{
		db:  db,
		log: baseLog.With("repo", "ReferenceRepo"),
	}
}

func (r *referenceRepo) Create(ctx context.Context, tx *gorm.DB, refs []*types.Reference) ([]*types.Reference, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(refs) == 0 {
		return []*types.Reference{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *referenceRepo) GetRecentByArticle(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, limit int) ([]*types.Reference, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Reference
	if articleID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 6
	}
	if err := transaction.WithContext(ctx).
		Omit("raw_text").
		Where("article_id = ?", articleID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
