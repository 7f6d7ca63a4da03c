// Package tasks is a durable retry queue backed by the tasks table.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

// EnqueueOptions tunes a single task.
type EnqueueOptions struct {
	RunAt       time.Time
	MaxAttempts int
	// DedupeKey makes Enqueue return the existing task instead of adding another.
	DedupeKey string
}

// Queue writes tasks inside the caller's transaction so they commit with the
// state change that requires them.
type Queue struct {
	repo        Repository
	maxAttempts int
	now         func() time.Time
}

func NewQueue(repo Repository, maxAttempts int) (*Queue, error) {
	if repo == nil {
		return nil, fmt.Errorf("task repository required")
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	return &Queue{repo: repo, maxAttempts: maxAttempts, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Enqueue adds a task. Payload is marshalled to JSON.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, kind enums.TaskKind, payload any, opts EnqueueOptions) (*models.Task, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task kind is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal task payload")
	}
	repo := q.repo.WithTx(tx)

	if opts.DedupeKey != "" {
		existing, err := repo.FindByDedupeKey(ctx, opts.DedupeKey)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup task dedupe key")
		}
		if existing != nil {
			return existing, nil
		}
	}

	task := &models.Task{
		Kind:        kind,
		Payload:     datatypes.JSON(body),
		Status:      enums.TaskStatusQueued,
		RunAt:       opts.RunAt,
		MaxAttempts: opts.MaxAttempts,
	}
	if task.RunAt.IsZero() {
		task.RunAt = q.now()
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = q.maxAttempts
	}
	if opts.DedupeKey != "" {
		key := opts.DedupeKey
		task.DedupeKey = &key
	}
	if err := repo.Insert(ctx, task); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert task")
	}
	return task, nil
}

// Decode unmarshals a task payload.
func Decode[T any](task models.Task) (T, error) {
	var out T
	if err := json.Unmarshal(task.Payload, &out); err != nil {
		return out, Permanent(fmt.Errorf("decode %s payload: %w", task.Kind, err))
	}
	return out, nil
}
