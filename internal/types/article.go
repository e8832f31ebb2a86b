package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ArticleStatusQueued  = "queued"
	ArticleStatusRunning = "running"
	ArticleStatusDone    = "done"
	ArticleStatusError   = "error"

	ArticleModeStandard           = "standard"
	ArticleModeComparisonResearch = "comparison_research"
)

// Article is the user-requested document. Exactly one of UserID / GuestID is
// set; the pair is the ownership key for every pipeline operation.
type Article struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	GuestID        *string        `gorm:"index" json:"guest_id,omitempty"`
	Title          string         `gorm:"not null" json:"title"`
	RequestText    string         `gorm:"column:request_text;type:text" json:"request_text"`
	Tone           string         `gorm:"column:tone" json:"tone,omitempty"`
	Memo           string         `gorm:"column:memo;type:text" json:"memo,omitempty"`
	TargetChars    int            `gorm:"column:target_chars;not null;default:3000" json:"target_chars"`
	Mode           string         `gorm:"column:mode;not null;default:standard" json:"mode"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	FinalMarkdown  *string        `gorm:"column:final_markdown;type:text" json:"final_markdown,omitempty"`
	CheckResults   datatypes.JSON `gorm:"column:check_results" json:"check_results,omitempty"`
	CompetitorURLs datatypes.JSON `gorm:"column:competitor_urls" json:"competitor_urls,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Article) TableName() string { return "article" }

// OwnedBy reports whether the caller identity matches the article owner. A
// third party (or an article with neither owner field) never matches.
func (a *Article) OwnedBy(userID uuid.UUID, guestID string) bool {
	if a == nil {
		return false
	}
	if a.UserID != nil && *a.UserID != uuid.Nil {
		return userID != uuid.Nil && *a.UserID == userID
	}
	if a.GuestID != nil && *a.GuestID != "" {
		return guestID != "" && *a.GuestID == guestID
	}
	return false
}
