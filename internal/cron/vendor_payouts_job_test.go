package cron

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/commerce-engine/internal/payouts"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type fakePayouts struct {
	min  int64
	runs int
}

func (f *fakePayouts) ProcessPayouts(_ context.Context, min int64) (*payouts.RunSummary, error) {
	f.runs++
	f.min = min
	return &payouts.RunSummary{Considered: 2, Created: []models.VendorPayout{{}}, Skipped: 1}, nil
}

func newPayoutsJob(t *testing.T, runner payoutRunner) *vendorPayoutsJob {
	t.Helper()
	job, err := NewVendorPayoutsJob(VendorPayoutsJobParams{
		Logger:         logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Payouts:        runner,
		MinAmountCents: 50000,
		DayOfMonth:     1,
	})
	if err != nil {
		t.Fatalf("NewVendorPayoutsJob: %v", err)
	}
	return job.(*vendorPayoutsJob)
}

func TestVendorPayoutsJobRunsWithMinimum(t *testing.T) {
	runner := &fakePayouts{}
	job := newPayoutsJob(t, runner)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.runs != 1 || runner.min != 50000 {
		t.Fatalf("unexpected runs=%d min=%d", runner.runs, runner.min)
	}
}

func TestVendorPayoutsJobDueOncePerMonth(t *testing.T) {
	job := newPayoutsJob(t, &fakePayouts{})
	first := time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC)

	if !job.Due(first, time.Time{}) {
		t.Fatal("expected due on the payout day")
	}
	if job.Due(first.Add(3*time.Hour), first) {
		t.Fatal("should not run twice on the same day")
	}
	if job.Due(first.Add(24*time.Hour), time.Time{}) {
		t.Fatal("should not run on other days")
	}
	if !job.Due(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), first) {
		t.Fatal("expected due the next month")
	}
}

func TestVendorPayoutsJobValidatesDay(t *testing.T) {
	_, err := NewVendorPayoutsJob(VendorPayoutsJobParams{
		Logger:         logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Payouts:        &fakePayouts{},
		MinAmountCents: 1,
		DayOfMonth:     31,
	})
	if err == nil {
		t.Fatal("expected day validation error")
	}
}
