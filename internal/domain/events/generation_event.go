package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Type string

const (
	DecompositionStart Type = "decomposition_start"
	ChapterStart       Type = "chapter_start"
	ItemResolving      Type = "item_resolving"
	ItemResolved       Type = "item_resolved"
	ValidationStart    Type = "validation_start"
	Complete           Type = "complete"
	Error              Type = "error"

	JobProgress  Type = "job_progress"
	JobCompleted Type = "job_completed"
	JobFailed    Type = "job_failed"
)

// IsTerminal reports whether typ ends a budget run or an ingestion job.
func IsTerminal(typ Type) bool {
	switch typ {
	case Complete, Error, JobCompleted, JobFailed:
		return true
	}
	return false
}

// GenerationEvent is one append-only progress record within a scope.
// Seq is strictly increasing per scope and is the SSE event id.
type GenerationEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ScopeID   string         `gorm:"column:scope_id;not null;uniqueIndex:idx_event_scope_seq" json:"scope_id"`
	Seq       int64          `gorm:"column:seq;not null;uniqueIndex:idx_event_scope_seq" json:"seq"`
	Type      Type           `gorm:"column:type;not null" json:"type"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	Timestamp time.Time      `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

func (GenerationEvent) TableName() string { return "generation_event" }

func (e *GenerationEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
