package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

const defaultSweepBatch = 200

type orderExpirer interface {
	ListExpired(ctx context.Context, limit int) ([]uuid.UUID, error)
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
}

type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Orders    orderExpirer
	BatchSize int
}

// NewReservationSweepJob releases stock held by pending orders whose
// reservation window has elapsed.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &reservationSweepJob{logg: params.Logger, orders: params.Orders, batch: batch}, nil
}

type reservationSweepJob struct {
	logg   *logger.Logger
	orders orderExpirer
	batch  int
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	ids, err := j.orders.ListExpired(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list expired orders: %w", err)
	}
	var errs error
	expired := 0
	for _, id := range ids {
		ok, err := j.orders.Expire(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
			continue
		}
		if ok {
			expired++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(ids),
		"expired":    expired,
	}), "reservation sweep complete")
	return errs
}
