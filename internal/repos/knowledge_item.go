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

type KnowledgeItemRepo interface {
	GetByArticleAndKind(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, kind string) (*types.KnowledgeItem, error)
	// UpsertByKind keeps at most one current item per kind per article:
	// update the existing row if there is one, otherwise create.
	UpsertByKind(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, kind string, content string) (*types.KnowledgeItem, error)
}

type knowledgeItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKnowledgeItemRepo(db *gorm.DB, baseLog *logger.Logger) KnowledgeItemRepo {
	return &knowledgeItemRepo{
		db:  db,
		log: baseLog.With("repo", "KnowledgeItemRepo"),
	}
}

func (r *knowledgeItemRepo) GetByArticleAndKind(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, kind string) (*types.KnowledgeItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if articleID == uuid.Nil || kind == "" {
		return nil, nil
	}
	var item types.KnowledgeItem
	err := transaction.WithContext(ctx).
		Where("article_id = ? AND kind = ?", articleID, kind).
		Order("created_at DESC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *knowledgeItemRepo) UpsertByKind(ctx context.Context, tx *gorm.DB, articleID uuid.UUID, kind string, content string) (*types.KnowledgeItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	existing, err := r.GetByArticleAndKind(ctx, transaction, articleID, kind)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if existing != nil {
		if err := transaction.WithContext(ctx).
			Model(&types.KnowledgeItem{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"content":    content,
				"updated_at": now,
			}).Error; err != nil {
			return nil, err
		}
		existing.Content = content
		existing.UpdatedAt = now
		return existing, nil
	}
	item := &types.KnowledgeItem{
		ID:        uuid.New(),
		ArticleID: articleID,
		Kind:      kind,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := transaction.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}
