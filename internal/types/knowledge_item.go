package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	KnowledgeKindCompetitorReport = "competitor_report"
	KnowledgeKindNoteArticle      = "note_article"
)

// KnowledgeItem is a typed, article-scoped side artifact. At most one current
// item per kind per article, enforced by find-then-upsert rather than a DB
// constraint.
type KnowledgeItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ArticleID uuid.UUID `gorm:"type:uuid;not null;index" json:"article_id"`
	Kind      string    `gorm:"column:kind;not null;index" json:"kind"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (KnowledgeItem) TableName() string { return "knowledge_item" }
