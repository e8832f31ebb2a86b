package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditReport is an append-only structured quality report for an article.
// The autofix step reads the most recent one.
type AuditReport struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ArticleID uuid.UUID      `gorm:"type:uuid;not null;index" json:"article_id"`
	Report    datatypes.JSON `gorm:"column:report" json:"report"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (AuditReport) TableName() string { return "audit_report" }

// AuditPayload is the JSON shape stored in AuditReport.Report.
type AuditPayload struct {
	OverallScore int      `json:"overallScore"`
	Issues       []string `json:"issues"`
	Missing      []string `json:"missing"`
	QuickWins    []string `json:"quickWins"`
}
