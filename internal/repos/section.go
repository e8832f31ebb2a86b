package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type SectionRepo interface {
	// Upsert writes one section keyed by (article_id, idx). Re-running the same
	// cursor position overwrites in place rather than duplicating.
	Upsert(ctx context.Context, tx *gorm.DB, section *types.ArticleSection) error
	GetByArticleID(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) ([]*types.ArticleSection, error)
	DeleteByArticleID(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) error
	// DeleteFromIndex removes sections with idx >= fromIdx. A rerun whose
	// outline is shorter than the previous one leaves tail rows behind that
	// the upsert never touches.
	DeleteFromIndex(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, fromIdx int) error
}

type sectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSectionRepo(db *gorm.DB, baseLog *logger.Logger) SectionRepo {
	return &sectionRepo{
		db:  db,
		log: baseLog.With("repo", "SectionRepo"),
	}
}

func (r *sectionRepo) Upsert(ctx context.Context, tx *gorm.DB, section *types.ArticleSection) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if section == nil || section.ArticleID == uuid.Nil {
		return nil
	}
	now := time.Now()
	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "article_id"}, {Name: "idx"}},
			DoUpdates: clause.AssignmentColumns([]string{"heading", "body", "status", "updated_at"}),
		}).
		Create(section).Error
}

func (r *sectionRepo) GetByArticleID(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) ([]*types.ArticleSection, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ArticleSection
	if articleID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("idx ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sectionRepo) DeleteByArticleID(ctx context.Context, tx *gorm.DB, articleID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if articleID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("article_id = ?", articleID).
		Delete(&types.ArticleSection{}).Error
}

func (r *sectionRepo) DeleteFromIndex(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, fromIdx int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if articleID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("article_id = ? AND idx >= ?", articleID, fromIdx).
		Delete(&types.ArticleSection{}).Error
}
