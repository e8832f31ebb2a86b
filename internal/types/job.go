package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusError   = "error"

	JobStepInit     = "init"
	JobStepSections = "sections"
	JobStepAssemble = "assemble"
	JobStepDone     = "done"
)

// ArticleJob is one resumable execution of the generation pipeline. Cursor is
// the index of the next section to produce and the sole resume checkpoint;
// Meta holds the persisted outline once the init step has run. A job is
// immutable history once Status is done or error.
type ArticleJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ArticleID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"article_id"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Step        string         `gorm:"column:step;not null" json:"step"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Cursor      int            `gorm:"column:cursor;not null;default:0" json:"cursor"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	AutoStart   bool           `gorm:"column:auto_start;not null;default:true" json:"auto_start"`
	Meta        datatypes.JSON `gorm:"column:meta" json:"meta,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (ArticleJob) TableName() string { return "article_job" }

func (j *ArticleJob) Terminal() bool {
	return j != nil && (j.Status == JobStatusDone || j.Status == JobStatusError)
}
