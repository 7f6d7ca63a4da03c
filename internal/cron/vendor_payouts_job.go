package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/commerce-engine/internal/payouts"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type payoutRunner interface {
	ProcessPayouts(ctx context.Context, minAmountCents int64) (*payouts.RunSummary, error)
}

type VendorPayoutsJobParams struct {
	Logger         *logger.Logger
	Payouts        payoutRunner
	MinAmountCents int64
	DayOfMonth     int
}

func NewVendorPayoutsJob(params VendorPayoutsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	if params.MinAmountCents <= 0 {
		return nil, fmt.Errorf("minimum payout amount must be positive")
	}
	day := params.DayOfMonth
	if day < 1 || day > 28 {
		return nil, fmt.Errorf("payout day of month must be between 1 and 28")
	}
	return &vendorPayoutsJob{logg: params.Logger, payouts: params.Payouts, min: params.MinAmountCents, day: day}, nil
}

type vendorPayoutsJob struct {
	logg    *logger.Logger
	payouts payoutRunner
	min     int64
	day     int
}

func (j *vendorPayoutsJob) Name() string { return "vendor-payouts" }

// Due runs once on the configured day of the month.
func (j *vendorPayoutsJob) Due(now, lastRun time.Time) bool {
	if now.Day() != j.day {
		return false
	}
	if lastRun.IsZero() {
		return true
	}
	y1, m1, d1 := now.Date()
	y2, m2, d2 := lastRun.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (j *vendorPayoutsJob) Run(ctx context.Context) error {
	summary, err := j.payouts.ProcessPayouts(ctx, j.min)
	if summary != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"considered": summary.Considered,
			"created":    len(summary.Created),
			"skipped":    summary.Skipped,
		}), "vendor payouts processed")
	}
	return err
}
