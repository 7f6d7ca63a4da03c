package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Task is a durable, retryable unit of background work.
type Task struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Kind        enums.TaskKind   `gorm:"column:kind;not null;index"`
	Payload     datatypes.JSON   `gorm:"column:payload;not null"`
	Status      enums.TaskStatus `gorm:"column:status;type:task_status;not null;default:'queued';index:ix_tasks_due,priority:1"`
	RunAt       time.Time        `gorm:"column:run_at;not null;index:ix_tasks_due,priority:2"`
	Attempts    int              `gorm:"column:attempts;not null;default:0"`
	MaxAttempts int              `gorm:"column:max_attempts;not null"`
	DedupeKey   *string          `gorm:"column:dedupe_key;uniqueIndex"`
	LockedAt    *time.Time       `gorm:"column:locked_at"`
	LockedBy    *string          `gorm:"column:locked_by"`
	LastError   *string          `gorm:"column:last_error"`
	CompletedAt *time.Time       `gorm:"column:completed_at"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}
