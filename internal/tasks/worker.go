package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/metrics"
)

// HandlerFunc executes one task attempt.
type HandlerFunc func(ctx context.Context, task models.Task) error

// DeadFunc runs once a task has exhausted its attempts or failed permanently.
type DeadFunc func(ctx context.Context, task models.Task, cause error) error

// Registration binds a task kind to its handler and retry policy.
type Registration struct {
	Kind    enums.TaskKind
	Handle  HandlerFunc
	Backoff Backoff
	OnDead  DeadFunc
}

type WorkerParams struct {
	Repo     Repository
	Logger   *logger.Logger
	Metrics  *metrics.TaskMetrics
	Config   config.TasksConfig
	WorkerID string
}

// Worker polls due tasks and runs them on a bounded pool.
type Worker struct {
	repo     Repository
	logg     *logger.Logger
	metrics  *metrics.TaskMetrics
	cfg      config.TasksConfig
	workerID string
	now      func() time.Time

	mu       sync.RWMutex
	handlers map[enums.TaskKind]Registration
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Repo == nil {
		return nil, errors.New("task repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	workerID := params.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return &Worker{
		repo:     params.Repo,
		logg:     params.Logger,
		metrics:  params.Metrics,
		cfg:      cfg,
		workerID: workerID,
		now:      func() time.Time { return time.Now().UTC() },
		handlers: make(map[enums.TaskKind]Registration),
	}, nil
}

// Register adds a handler. Kinds without a backoff use DefaultBackoff.
func (w *Worker) Register(reg Registration) error {
	if reg.Kind == "" || reg.Handle == nil {
		return errors.New("task kind and handler are required")
	}
	if reg.Backoff == nil {
		reg.Backoff = DefaultBackoff
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[reg.Kind]; exists {
		return fmt.Errorf("task kind %s already registered", reg.Kind)
	}
	w.handlers[reg.Kind] = reg
	return nil
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	w.logg.Info(w.logg.WithField(ctx, "worker_id", w.workerID), "task worker started")

	for {
		processed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logg.Error(ctx, "task batch failed", err)
		}
		if processed >= w.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "task worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce reclaims stale tasks, claims a batch and processes it. It returns the
// number of tasks claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.now()
	var result error
	if w.cfg.VisibilityTimeout > 0 {
		reclaimed, exhausted, err := w.repo.ReclaimStale(ctx, now.Add(-w.cfg.VisibilityTimeout))
		if err != nil {
			return 0, fmt.Errorf("reclaim stale tasks: %w", err)
		}
		if reclaimed > 0 {
			w.logg.Warn(w.logg.WithField(ctx, "reclaimed", reclaimed), "requeued tasks past visibility timeout")
		}
		for _, task := range exhausted {
			result = multierr.Append(result, w.abandon(ctx, task))
		}
	}

	claimed, err := w.repo.ClaimDue(ctx, now, w.cfg.BatchSize, w.workerID)
	if err != nil {
		return 0, multierr.Append(result, fmt.Errorf("claim tasks: %w", err))
	}
	if len(claimed) == 0 {
		return 0, result
	}

	var (
		g     errgroup.Group
		errMu sync.Mutex
	)
	g.SetLimit(w.cfg.Concurrency)
	for _, task := range claimed {
		g.Go(func() error {
			if err := w.process(ctx, task); err != nil {
				errMu.Lock()
				result = multierr.Append(result, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), result
}

func (w *Worker) process(ctx context.Context, task models.Task) error {
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"task_id":   task.ID.String(),
		"task_kind": task.Kind,
		"attempt":   task.Attempts,
	})

	w.mu.RLock()
	reg, ok := w.handlers[task.Kind]
	w.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("no handler registered for task kind %s", task.Kind)
		w.logg.Error(logCtx, "task dead-lettered", err)
		w.metrics.IncOutcome(string(task.Kind), "dead")
		return w.repo.MarkDead(ctx, task.ID, err.Error())
	}

	start := time.Now()
	err := safeCall(logCtx, reg.Handle, task)
	w.metrics.ObserveDuration(string(task.Kind), time.Since(start))

	if err == nil {
		w.metrics.IncOutcome(string(task.Kind), "succeeded")
		w.logg.Debug(logCtx, "task succeeded")
		return w.repo.MarkSucceeded(ctx, task.ID, w.now())
	}

	if IsPermanent(err) || task.Attempts >= task.MaxAttempts {
		w.metrics.IncOutcome(string(task.Kind), "dead")
		w.logg.Error(logCtx, "task dead-lettered", err)
		if markErr := w.repo.MarkDead(ctx, task.ID, err.Error()); markErr != nil {
			return markErr
		}
		if reg.OnDead != nil {
			if hookErr := reg.OnDead(logCtx, task, err); hookErr != nil {
				w.logg.Error(logCtx, "dead task hook failed", hookErr)
				return hookErr
			}
		}
		return nil
	}

	delay := reg.Backoff(task.Attempts)
	w.metrics.IncOutcome(string(task.Kind), "retried")
	w.logg.Warn(w.logg.WithFields(logCtx, map[string]any{
		"retry_in": delay.String(),
		"error":    err.Error(),
	}), "task failed; retry scheduled")
	return w.repo.Reschedule(ctx, task.ID, w.now().Add(delay), err.Error())
}

// abandon finishes a task the repository dead-lettered because its worker
// stopped during the final attempt.
func (w *Worker) abandon(ctx context.Context, task models.Task) error {
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"task_id":   task.ID.String(),
		"task_kind": task.Kind,
		"attempt":   task.Attempts,
	})
	cause := errors.New(AbandonedError)
	w.metrics.IncOutcome(string(task.Kind), "dead")
	w.logg.Error(logCtx, "task dead-lettered", cause)

	w.mu.RLock()
	reg, ok := w.handlers[task.Kind]
	w.mu.RUnlock()
	if !ok || reg.OnDead == nil {
		return nil
	}
	if err := reg.OnDead(logCtx, task, cause); err != nil {
		w.logg.Error(logCtx, "dead task hook failed", err)
		return err
	}
	return nil
}

func safeCall(ctx context.Context, fn HandlerFunc, task models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return fn(ctx, task)
}
