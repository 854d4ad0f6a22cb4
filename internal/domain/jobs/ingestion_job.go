package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusQueued     = "queued"
	StatusExtracting = "extracting"
	StatusEmbedding  = "embedding"
	StatusPersisting = "persisting"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

type JobLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// IngestionJob tracks one price-book import. Logs are append-only.
type IngestionJob struct {
	ID             uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Status         string                      `gorm:"column:status;not null;index" json:"status"`
	Year           int                         `gorm:"column:year;not null;index" json:"year"`
	Concurrency    int                         `gorm:"column:concurrency;not null" json:"concurrency"`
	DocumentSHA256 string                      `gorm:"column:document_sha256" json:"document_sha256,omitempty"`
	TotalItems     int                         `gorm:"column:total_items;not null;default:0" json:"total_items"`
	ProcessedItems int                         `gorm:"column:processed_items;not null;default:0" json:"processed_items"`
	SkippedItems   int                         `gorm:"column:skipped_items;not null;default:0" json:"skipped_items"`
	DroppedItems   int                         `gorm:"column:dropped_items;not null;default:0" json:"dropped_items"`
	FlaggedItems   int                         `gorm:"column:flagged_items;not null;default:0" json:"flagged_items"`
	Error          string                      `gorm:"column:error" json:"error,omitempty"`
	Logs           datatypes.JSONSlice[JobLog] `gorm:"column:logs;type:jsonb" json:"logs"`
	CreatedAt      time.Time                   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null;autoUpdateTime" json:"updated_at"`
	FinishedAt     *time.Time                  `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (IngestionJob) TableName() string { return "ingestion_job" }

func (j *IngestionJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// Clone returns a copy that shares no slices with j.
func (j *IngestionJob) Clone() *IngestionJob {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Logs = append(datatypes.JSONSlice[JobLog](nil), j.Logs...)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
