package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SectionStatusDone  = "done"
	SectionStatusError = "error"
)

// ArticleSection is one ordered chunk of an article's body. Indices are dense
// per article; the unique index backs the idempotent resume upsert.
type ArticleSection struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ArticleID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_article_section_ord,priority:1" json:"article_id"`
	Index     int       `gorm:"column:idx;not null;uniqueIndex:idx_article_section_ord,priority:2" json:"index"`
	Heading   string    `gorm:"not null" json:"heading"`
	Body      string    `gorm:"type:text" json:"body"`
	Status    string    `gorm:"column:status;not null;default:done" json:"status"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ArticleSection) TableName() string { return "article_section" }
