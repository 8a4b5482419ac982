package store

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a generation task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// GenerationTask is one book-generation request and its lifecycle record.
// TaskID and UserID are immutable after creation; StartedAt and CompletedAt
// are stamped once by UpdateStatus and never reset.
type GenerationTask struct {
	ID          uint                        `gorm:"primaryKey" json:"-"`
	TaskID      string                      `gorm:"type:varchar(36);uniqueIndex;not null" json:"task_id"`
	UserID      int64                       `gorm:"not null;index" json:"user_id"`
	Pages       datatypes.JSONSlice[string] `gorm:"not null" json:"pages"`
	Title       string                      `gorm:"not null" json:"title"`
	SourceBase  string                      `json:"source_base"`
	IsPublic    bool                        `gorm:"not null;default:false;index" json:"is_public"`
	Description string                      `json:"description"`
	Status      Status                      `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Message     string                      `json:"message"`
	Filename    string                      `json:"filename,omitempty"`
	FilePath    string                      `json:"-"`
	FileSize    int64                       `json:"file_size,omitempty"`
	CreatedAt   time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	StartedAt   *time.Time                  `json:"started_at,omitempty"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
}

func (GenerationTask) TableName() string { return "generation_tasks" }
