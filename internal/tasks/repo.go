package tasks

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

// Repository persists queue rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, task *models.Task) error
	FindByDedupeKey(ctx context.Context, key string) (*models.Task, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ClaimDue(ctx context.Context, now time.Time, limit int, workerID string) ([]models.Task, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id uuid.UUID, lastErr string) error
	ReclaimStale(ctx context.Context, lockedBefore time.Time) (int64, []models.Task, error)
	ListByStatus(ctx context.Context, status enums.TaskStatus, limit int) ([]models.Task, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *repository) FindByDedupeKey(ctx context.Context, key string) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimDue locks due queued rows with SKIP LOCKED so concurrent workers never
// claim the same task, then marks them running and bumps the attempt counter.
func (r *repository) ClaimDue(ctx context.Context, now time.Time, limit int, workerID string) ([]models.Task, error) {
	var claimed []models.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_at <= ?", enums.TaskStatusQueued, now).
			Order("run_at ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
			claimed[i].Status = enums.TaskStatusRunning
			claimed[i].Attempts++
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &workerID
		}
		return tx.Model(&models.Task{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     enums.TaskStatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"locked_by":  workerID,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repository) MarkSucceeded(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.TaskStatusSucceeded,
			"completed_at": at,
			"locked_at":    nil,
			"locked_by":    nil,
			"last_error":   nil,
		}).Error
}

func (r *repository) Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.TaskStatusQueued,
			"run_at":     runAt,
			"locked_at":  nil,
			"locked_by":  nil,
			"last_error": truncate(lastErr),
		}).Error
}

func (r *repository) MarkDead(ctx context.Context, id uuid.UUID, lastErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.TaskStatusDead,
			"locked_at":  nil,
			"locked_by":  nil,
			"last_error": truncate(lastErr),
		}).Error
}

// AbandonedError is recorded on a task whose worker stopped during its final attempt.
const AbandonedError = "worker stopped during the final attempt"

// ReclaimStale handles running rows whose worker stopped heartbeating. Rows with
// attempts left are requeued. Rows on their final attempt are dead-lettered and
// returned so the caller can run their dead hooks.
func (r *repository) ReclaimStale(ctx context.Context, lockedBefore time.Time) (int64, []models.Task, error) {
	var (
		requeued  int64
		exhausted []models.Task
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND locked_at < ? AND attempts >= max_attempts", enums.TaskStatusRunning, lockedBefore).
			Find(&exhausted).Error; err != nil {
			return err
		}
		if len(exhausted) > 0 {
			ids := make([]uuid.UUID, 0, len(exhausted))
			for i := range exhausted {
				ids = append(ids, exhausted[i].ID)
				msg := AbandonedError
				exhausted[i].Status = enums.TaskStatusDead
				exhausted[i].LockedAt = nil
				exhausted[i].LockedBy = nil
				exhausted[i].LastError = &msg
			}
			if err := tx.Model(&models.Task{}).
				Where("id IN ?", ids).
				Updates(map[string]any{
					"status":     enums.TaskStatusDead,
					"locked_at":  nil,
					"locked_by":  nil,
					"last_error": AbandonedError,
				}).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&models.Task{}).
			Where("status = ? AND locked_at < ? AND attempts < max_attempts", enums.TaskStatusRunning, lockedBefore).
			Updates(map[string]any{
				"status":    enums.TaskStatusQueued,
				"locked_at": nil,
				"locked_by": nil,
			})
		requeued = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, nil, err
	}
	return requeued, exhausted, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.TaskStatus, limit int) ([]models.Task, error) {
	var out []models.Task
	query := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return out, query.Find(&out).Error
}

const maxErrorLength = 1024

// truncate cuts msg to maxErrorLength bytes without splitting a rune.
func truncate(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
