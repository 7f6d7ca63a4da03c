// Package vendorledger records signed vendor earnings. A vendor's balance is
// always the sum of its entries and is never stored.
package vendorledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

// PostInput is one signed ledger amount. Credits are positive, debits negative.
type PostInput struct {
	VendorID     uuid.UUID
	Type         enums.LedgerEntryType
	AmountCents  int64
	Currency     enums.Currency
	ReferenceKey string
	PaymentID    *uuid.UUID
	OrderID      *uuid.UUID
	PayoutID     *uuid.UUID
	Memo         string
}

type Service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("vendor ledger repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// Post appends an entry inside tx. A reference key that was already posted
// returns the existing entry and false.
func (s *Service) Post(ctx context.Context, tx *gorm.DB, input PostInput) (*models.VendorLedgerEntry, bool, error) {
	if err := validate(input); err != nil {
		return nil, false, err
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindByReference(ctx, input.ReferenceKey)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup ledger reference")
	}
	if existing != nil {
		if existing.VendorID != input.VendorID || existing.AmountCents != input.AmountCents {
			return nil, false, pkgerrors.New(pkgerrors.CodeIntegrity, "ledger reference reused with different amount").
				WithDetails(map[string]any{"reference_key": input.ReferenceKey})
		}
		return existing, false, nil
	}

	entry := &models.VendorLedgerEntry{
		VendorID:      input.VendorID,
		Type:          input.Type,
		AmountCents:   input.AmountCents,
		Currency:      input.Currency,
		Informational: input.Type == enums.LedgerCommissionDebit,
		ReferenceKey:  input.ReferenceKey,
		PaymentID:     input.PaymentID,
		OrderID:       input.OrderID,
		PayoutID:      input.PayoutID,
	}
	if memo := strings.TrimSpace(input.Memo); memo != "" {
		entry.Memo = &memo
	}
	if err := repo.Insert(ctx, entry); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
	}

	logCtx := s.logg.WithVendorID(ctx, input.VendorID.String())
	s.logg.Debug(s.logg.WithFields(logCtx, map[string]any{
		"entry_type":    input.Type,
		"amount_cents":  input.AmountCents,
		"reference_key": input.ReferenceKey,
	}), "ledger entry posted")
	return entry, true, nil
}

// Balance is the vendor's payable balance.
func (s *Service) Balance(ctx context.Context, vendorID uuid.UUID) (int64, error) {
	return s.BalanceTx(ctx, nil, vendorID)
}

// BalanceTx reads the balance through tx so it observes uncommitted entries.
func (s *Service) BalanceTx(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (int64, error) {
	if vendorID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	balance, err := s.repo.WithTx(tx).Balance(ctx, vendorID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	return balance, nil
}

// Entries lists the vendor's entries oldest first.
func (s *Service) Entries(ctx context.Context, vendorID uuid.UUID, limit int) ([]models.VendorLedgerEntry, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	return s.repo.List(ctx, vendorID, limit)
}

// EntriesForPayment lists entries posted against a payment.
func (s *Service) EntriesForPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) ([]models.VendorLedgerEntry, error) {
	return s.repo.WithTx(tx).ListByPayment(ctx, paymentID)
}

func validate(input PostInput) error {
	if input.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}
	if strings.TrimSpace(input.ReferenceKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference key is required")
	}
	if !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}
	switch {
	case input.AmountCents == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger amount must be non-zero")
	case input.Type.IsCredit() && input.AmountCents < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s must be positive", input.Type))
	case !input.Type.IsCredit() && input.AmountCents > 0:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s must be negative", input.Type))
	}
	return nil
}

// Reference keys. One per posting so replays collapse onto the same row.

func SaleCreditKey(paymentID, vendorID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", enums.LedgerSaleCredit, paymentID, vendorID)
}

func CommissionKey(paymentID, vendorID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", enums.LedgerCommissionDebit, paymentID, vendorID)
}

// RefundKey includes the provider refund id so each partial refund posts once.
func RefundKey(paymentID, vendorID uuid.UUID, refundID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", enums.LedgerRefundDebit, paymentID, vendorID, refundID)
}

func PayoutDebitKey(payoutID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", enums.LedgerPayoutDebit, payoutID)
}

func PayoutReversalKey(payoutID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", enums.LedgerPayoutDebitReversal, payoutID)
}
