package tasks

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/metrics"
)

type examplePayload struct {
	OrderID string `json:"order_id"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:tasks_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

func newTestWorker(t *testing.T, conn *gorm.DB, clock *time.Time) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerParams{
		Repo:     NewRepository(conn),
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics:  metrics.NewTaskMetrics(prometheus.NewRegistry()),
		Config:   config.TasksConfig{BatchSize: 10, Concurrency: 1, VisibilityTimeout: 10 * time.Minute},
		WorkerID: "worker-test",
	})
	require.NoError(t, err)
	w.now = func() time.Time { return *clock }
	return w
}

func loadTask(t *testing.T, conn *gorm.DB, id uuid.UUID) models.Task {
	t.Helper()
	var task models.Task
	require.NoError(t, conn.First(&task, "id = ?", id).Error)
	return task
}

func TestEnqueueDedupes(t *testing.T) {
	conn := newTestDB(t)
	q, err := NewQueue(NewRepository(conn), 5)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, conn, enums.TaskShipmentCreate, examplePayload{OrderID: "o-1"}, EnqueueOptions{DedupeKey: "shipment:o-1"})
	require.NoError(t, err)
	again, err := q.Enqueue(ctx, conn, enums.TaskShipmentCreate, examplePayload{OrderID: "o-1"}, EnqueueOptions{DedupeKey: "shipment:o-1"})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 5, first.MaxAttempts)

	decoded, err := Decode[examplePayload](*first)
	require.NoError(t, err)
	require.Equal(t, "o-1", decoded.OrderID)
}

func TestWorkerRunsHandlerAndMarksSucceeded(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	q, _ := NewQueue(NewRepository(conn), 3)
	ctx := context.Background()

	task, err := q.Enqueue(ctx, conn, enums.TaskPayoutTransfer, examplePayload{OrderID: "x"}, EnqueueOptions{RunAt: clock.Add(-time.Second)})
	require.NoError(t, err)

	var seen int
	require.NoError(t, w.Register(Registration{
		Kind: enums.TaskPayoutTransfer,
		Handle: func(ctx context.Context, task models.Task) error {
			seen++
			return nil
		},
	}))

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, seen)

	got := loadTask(t, conn, task.ID)
	require.Equal(t, enums.TaskStatusSucceeded, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.CompletedAt)
}

func TestWorkerReschedulesWithKindBackoffThenDeadLetters(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	q, _ := NewQueue(NewRepository(conn), 2)
	ctx := context.Background()

	task, err := q.Enqueue(ctx, conn, enums.TaskShipmentCreate, examplePayload{}, EnqueueOptions{RunAt: clock.Add(-time.Second)})
	require.NoError(t, err)

	var deadCause error
	require.NoError(t, w.Register(Registration{
		Kind:    enums.TaskShipmentCreate,
		Backoff: Fixed(5 * time.Minute),
		Handle: func(ctx context.Context, task models.Task) error {
			return errors.New("courier unavailable")
		},
		OnDead: func(ctx context.Context, task models.Task, cause error) error {
			deadCause = cause
			return nil
		},
	}))

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	got := loadTask(t, conn, task.ID)
	require.Equal(t, enums.TaskStatusQueued, got.Status)
	require.WithinDuration(t, clock.Add(5*time.Minute), got.RunAt, time.Second)
	require.NotNil(t, got.LastError)

	// Not due yet.
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clock = clock.Add(6 * time.Minute)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	got = loadTask(t, conn, task.ID)
	require.Equal(t, enums.TaskStatusDead, got.Status)
	require.Equal(t, 2, got.Attempts)
	require.EqualError(t, deadCause, "courier unavailable")
}

func TestWorkerPermanentErrorSkipsRetries(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	q, _ := NewQueue(NewRepository(conn), 5)
	ctx := context.Background()

	task, err := q.Enqueue(ctx, conn, enums.TaskPayoutTransfer, examplePayload{}, EnqueueOptions{RunAt: clock.Add(-time.Second)})
	require.NoError(t, err)
	require.NoError(t, w.Register(Registration{
		Kind: enums.TaskPayoutTransfer,
		Handle: func(ctx context.Context, task models.Task) error {
			return Permanent(errors.New("bad payload"))
		},
	}))

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, enums.TaskStatusDead, loadTask(t, conn, task.ID).Status)
}

func TestWorkerDeadLettersUnknownKindAndRecoversPanics(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	q, _ := NewQueue(NewRepository(conn), 1)
	ctx := context.Background()

	unknown, err := q.Enqueue(ctx, conn, enums.TaskKind("mystery"), examplePayload{}, EnqueueOptions{RunAt: clock.Add(-time.Second)})
	require.NoError(t, err)
	panicky, err := q.Enqueue(ctx, conn, enums.TaskShipmentCreate, examplePayload{}, EnqueueOptions{RunAt: clock.Add(-time.Second)})
	require.NoError(t, err)
	require.NoError(t, w.Register(Registration{
		Kind:   enums.TaskShipmentCreate,
		Handle: func(ctx context.Context, task models.Task) error { panic("boom") },
	}))

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, enums.TaskStatusDead, loadTask(t, conn, unknown.ID).Status)
	require.Equal(t, enums.TaskStatusDead, loadTask(t, conn, panicky.ID).Status)
}

func TestWorkerReclaimsStaleRunningTasks(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	ctx := context.Background()

	lockedAt := clock.Add(-time.Hour)
	owner := "gone"
	stale := models.Task{
		Kind:        enums.TaskShipmentCreate,
		Payload:     []byte(`{}`),
		Status:      enums.TaskStatusRunning,
		RunAt:       clock.Add(-time.Hour),
		Attempts:    1,
		MaxAttempts: 5,
		LockedAt:    &lockedAt,
		LockedBy:    &owner,
	}
	require.NoError(t, conn.Create(&stale).Error)
	require.NoError(t, w.Register(Registration{
		Kind:   enums.TaskShipmentCreate,
		Handle: func(ctx context.Context, task models.Task) error { return nil },
	}))

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got := loadTask(t, conn, stale.ID)
	require.Equal(t, enums.TaskStatusSucceeded, got.Status)
	require.Equal(t, 2, got.Attempts)
}

func TestWorkerDeadLettersStaleTaskOnFinalAttempt(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	ctx := context.Background()

	lockedAt := clock.Add(-time.Hour)
	owner := "crashed"
	stale := models.Task{
		Kind:        enums.TaskPayoutTransfer,
		Payload:     []byte(`{}`),
		Status:      enums.TaskStatusRunning,
		RunAt:       clock.Add(-time.Hour),
		Attempts:    3,
		MaxAttempts: 3,
		LockedAt:    &lockedAt,
		LockedBy:    &owner,
	}
	require.NoError(t, conn.Create(&stale).Error)

	handled := 0
	var dead []uuid.UUID
	require.NoError(t, w.Register(Registration{
		Kind:   enums.TaskPayoutTransfer,
		Handle: func(context.Context, models.Task) error { handled++; return nil },
		OnDead: func(_ context.Context, task models.Task, cause error) error {
			dead = append(dead, task.ID)
			require.EqualError(t, cause, AbandonedError)
			return nil
		},
	}))

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, handled, "an exhausted task is not run again")
	require.Equal(t, []uuid.UUID{stale.ID}, dead)

	got := loadTask(t, conn, stale.ID)
	require.Equal(t, enums.TaskStatusDead, got.Status)
	require.Nil(t, got.LockedAt)
	require.NotNil(t, got.LastError)
	require.Equal(t, AbandonedError, *got.LastError)

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, dead, 1, "dead hook runs once")
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	msg := strings.Repeat("a", maxErrorLength-1) + "é" + "tail"
	got := truncate(msg)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, maxErrorLength-1, len(got))
	require.Equal(t, "short", truncate("short"))

	exact := strings.Repeat("ü", maxErrorLength/2+10)
	got = truncate(exact)
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), maxErrorLength)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	conn := newTestDB(t)
	clock := time.Now().UTC()
	w := newTestWorker(t, conn, &clock)
	reg := Registration{Kind: enums.TaskShipmentCreate, Handle: func(context.Context, models.Task) error { return nil }}
	require.NoError(t, w.Register(reg))
	require.Error(t, w.Register(reg))
}

func TestExponentialBackoffIsCapped(t *testing.T) {
	b := Exponential(time.Second, 10*time.Second)
	first := b(1)
	require.GreaterOrEqual(t, first, time.Second)
	require.Less(t, first, 1200*time.Millisecond+time.Millisecond)
	require.GreaterOrEqual(t, b(3), 4*time.Second)
	require.Equal(t, 10*time.Second, b(20))
	require.Equal(t, 5*time.Minute, Fixed(5*time.Minute)(7))
}
