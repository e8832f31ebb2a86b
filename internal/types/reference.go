package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Reference is one fetched competitor page. RawText is kept for prompting but
// never returned by read APIs; read paths serve the capped summary fields.
type Reference struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ArticleID uuid.UUID      `gorm:"type:uuid;not null;index" json:"article_id"`
	URL       string         `gorm:"column:url;not null" json:"url"`
	Title     string         `gorm:"column:title" json:"title"`
	Summary   string         `gorm:"column:summary;type:text" json:"summary"`
	Headings  datatypes.JSON `gorm:"column:headings" json:"headings,omitempty"`
	Insights  datatypes.JSON `gorm:"column:insights" json:"insights,omitempty"`
	RawText   string         `gorm:"column:raw_text;type:text" json:"-"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Reference) TableName() string { return "reference" }
