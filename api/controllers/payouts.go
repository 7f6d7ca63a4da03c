package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/api/validators"
	"github.com/angelmondragon/commerce-engine/internal/payouts"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type PayoutService interface {
	ProcessPayouts(ctx context.Context, minAmountCents int64) (*payouts.RunSummary, error)
	Complete(ctx context.Context, payoutID uuid.UUID, externalRef string) error
	Fail(ctx context.Context, payoutID uuid.UUID, reason string) error
	Get(ctx context.Context, payoutID uuid.UUID) (*models.VendorPayout, error)
}

type payoutResponse struct {
	ID                 uuid.UUID          `json:"id"`
	VendorID           uuid.UUID          `json:"vendor_id"`
	AmountCents        int64              `json:"amount_cents"`
	Currency           enums.Currency     `json:"currency"`
	Status             enums.PayoutStatus `json:"status"`
	Method             string             `json:"method"`
	ExternalTransferID *string            `json:"external_transfer_id,omitempty"`
	FailureReason      *string            `json:"failure_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

func newPayoutResponse(p models.VendorPayout) payoutResponse {
	return payoutResponse{
		ID:                 p.ID,
		VendorID:           p.VendorID,
		AmountCents:        p.AmountCents,
		Currency:           p.Currency,
		Status:             p.Status,
		Method:             p.Method,
		ExternalTransferID: p.ExternalTransferID,
		FailureReason:      p.FailureReason,
		CreatedAt:          p.CreatedAt,
	}
}

type runPayoutsRequest struct {
	MinAmountCents int64 `json:"min_amount_cents" validate:"min=0"`
}

type runPayoutsResponse struct {
	Considered int              `json:"considered"`
	Skipped    int              `json:"skipped"`
	Created    []payoutResponse `json:"created"`
	Errors     string           `json:"errors,omitempty"`
}

// RunPayouts triggers a payout run on demand. Without a body the configured
// minimum applies.
func RunPayouts(svc PayoutService, defaultMinCents int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		req := runPayoutsRequest{}
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		minCents := req.MinAmountCents
		if minCents == 0 {
			minCents = defaultMinCents
		}

		summary, err := svc.ProcessPayouts(ctx, minCents)
		if summary == nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := runPayoutsResponse{Considered: summary.Considered, Skipped: summary.Skipped, Created: []payoutResponse{}}
		for _, p := range summary.Created {
			out.Created = append(out.Created, newPayoutResponse(p))
		}
		// Vendors that failed do not undo payouts already reserved for others.
		if err != nil {
			logg.Error(ctx, "payout run finished with errors", err)
			out.Errors = err.Error()
		}
		responses.WriteSuccess(w, out)
	}
}

type completePayoutRequest struct {
	ExternalReference string `json:"external_reference" validate:"required,max=255"`
}

type failPayoutRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// CompletePayout settles a manually transferred payout.
func CompletePayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req completePayoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Complete(ctx, payoutID, strings.TrimSpace(req.ExternalReference)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writePayout(ctx, svc, payoutID, logg, w)
	}
}

// FailPayout marks an open payout failed and reverses its debit.
func FailPayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req failPayoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Fail(ctx, payoutID, validators.SanitizeString(req.Reason, 255)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writePayout(ctx, svc, payoutID, logg, w)
	}
}

func writePayout(ctx context.Context, svc PayoutService, id uuid.UUID, logg *logger.Logger, w http.ResponseWriter) {
	payout, err := svc.Get(ctx, id)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	responses.WriteSuccess(w, newPayoutResponse(*payout))
}
