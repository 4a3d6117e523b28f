// Package domain contains the job history models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one line of a job's history feed: a saved document, a recorded
// payment, a sent notification.
type Entry struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	JobID       *snowflake.ID     `gorm:"index" json:"job_id,omitempty"`
	EntryType   string            `gorm:"type:text;not null;index" json:"entry_type"`
	Title       string            `gorm:"type:text;not null" json:"title"`
	Description string            `gorm:"type:text" json:"description"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "history_entries" }

var ErrInvalidEntryType = errors.New("invalid_entry_type")

type ListFilter struct {
	JobID     *snowflake.ID
	EntryType string
	StartAt   *time.Time
	EndAt     *time.Time
	Limit     int
}

// Service is the fire-and-forget history sink. Record failures are logged
// by the implementation and must never block the primary operation.
type Service interface {
	Record(ctx context.Context, jobID *snowflake.ID, entryType, title, description string, meta map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
}
