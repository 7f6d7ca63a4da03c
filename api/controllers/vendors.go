package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/api/validators"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

const (
	defaultEntriesLimit = 50
	maxEntriesLimit     = 200
)

type VendorLedger interface {
	Balance(ctx context.Context, vendorID uuid.UUID) (int64, error)
	Entries(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.VendorLedgerEntry, error)
}

type ledgerEntryResponse struct {
	ID            uuid.UUID             `json:"id"`
	Type          enums.LedgerEntryType `json:"type"`
	AmountCents   int64                 `json:"amount_cents"`
	Currency      enums.Currency        `json:"currency"`
	Informational bool                  `json:"informational"`
	PaymentID     *uuid.UUID            `json:"payment_id,omitempty"`
	PayoutID      *uuid.UUID            `json:"payout_id,omitempty"`
	Memo          *string               `json:"memo,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

type vendorBalanceResponse struct {
	VendorID     uuid.UUID             `json:"vendor_id"`
	BalanceCents int64                 `json:"balance_cents"`
	Entries      []ledgerEntryResponse `json:"entries"`
}

// VendorBalance returns the derived ledger balance with the latest entries.
func VendorBalance(ledger VendorLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if ledger == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor ledger unavailable"))
			return
		}
		vendorID, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultEntriesLimit, 0, maxEntriesLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithVendorID(ctx, vendorID.String())

		balance, err := ledger.Balance(ctx, vendorID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := vendorBalanceResponse{VendorID: vendorID, BalanceCents: balance, Entries: []ledgerEntryResponse{}}
		if limit > 0 {
			entries, err := ledger.Entries(ctx, vendorID, limit)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			for _, e := range entries {
				out.Entries = append(out.Entries, ledgerEntryResponse{
					ID:            e.ID,
					Type:          e.Type,
					AmountCents:   e.AmountCents,
					Currency:      e.Currency,
					Informational: e.Informational,
					PaymentID:     e.PaymentID,
					PayoutID:      e.PayoutID,
					Memo:          e.Memo,
					CreatedAt:     e.CreatedAt,
				})
			}
		}
		responses.WriteSuccess(w, out)
	}
}
