// Package payouts settles vendor balances. The payout_debit is posted in the same
// transaction that creates the payout, so a concurrent run sees the reduced balance.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/internal/tasks"
	"github.com/angelmondragon/commerce-engine/internal/vendorledger"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
	"github.com/angelmondragon/commerce-engine/pkg/outbox/payloads"
)

const (
	MethodStripeConnect = "stripe_connect"
	MethodManual        = "manual"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerService interface {
	Post(ctx context.Context, tx *gorm.DB, input vendorledger.PostInput) (*models.VendorLedgerEntry, bool, error)
	BalanceTx(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (int64, error)
}

type taskQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, kind enums.TaskKind, payload any, opts tasks.EnqueueOptions) (*models.Task, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Transferer moves funds to a connected account and returns the provider transfer id.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

type TransferRequest struct {
	Destination    string
	AmountCents    int64
	Currency       enums.Currency
	Group          string
	IdempotencyKey string
}

// TransferPayload is the payout.transfer task body.
type TransferPayload struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

// RunSummary reports one ProcessPayouts pass.
type RunSummary struct {
	Considered int
	Created    []models.VendorPayout
	Skipped    int
}

type ServiceParams struct {
	Repo       Repository
	TxRunner   txRunner
	Ledger     ledgerService
	Queue      taskQueue
	Outbox     eventEmitter
	Transferer Transferer
	Logger     *logger.Logger
	Currency   enums.Currency
}

type Service struct {
	repo       Repository
	tx         txRunner
	ledger     ledgerService
	queue      taskQueue
	outbox     eventEmitter
	transferer Transferer
	logg       *logger.Logger
	currency   enums.Currency
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("payout repository required")
	case params.TxRunner == nil:
		return nil, errors.New("transaction runner required")
	case params.Ledger == nil:
		return nil, errors.New("vendor ledger required")
	case params.Queue == nil:
		return nil, errors.New("task queue required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case !params.Currency.IsValid():
		return nil, fmt.Errorf("invalid payout currency %q", params.Currency)
	}
	return &Service{
		repo:       params.Repo,
		tx:         params.TxRunner,
		ledger:     params.Ledger,
		queue:      params.Queue,
		outbox:     params.Outbox,
		transferer: params.Transferer,
		logg:       params.Logger,
		currency:   params.Currency,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ProcessPayouts creates a payout for every eligible vendor whose balance is at
// least minAmountCents. A failure for one vendor does not stop the others.
func (s *Service) ProcessPayouts(ctx context.Context, minAmountCents int64) (*RunSummary, error) {
	if minAmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minimum payout amount must be positive")
	}
	vendors, err := s.repo.ListEligibleVendors(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible vendors")
	}

	summary := &RunSummary{Considered: len(vendors)}
	var errs error
	for _, vendor := range vendors {
		payout, err := s.payoutVendor(ctx, vendor.ID, minAmountCents)
		if err != nil {
			s.logg.Error(s.logg.WithVendorID(ctx, vendor.ID.String()), "vendor payout failed", err)
			errs = multierr.Append(errs, fmt.Errorf("vendor %s: %w", vendor.ID, err))
			continue
		}
		if payout == nil {
			summary.Skipped++
			continue
		}
		summary.Created = append(summary.Created, *payout)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"considered": summary.Considered,
		"created":    len(summary.Created),
		"skipped":    summary.Skipped,
	}), "payout run finished")
	return summary, errs
}

func (s *Service) payoutVendor(ctx context.Context, vendorID uuid.UUID, minAmountCents int64) (*models.VendorPayout, error) {
	var created *models.VendorPayout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		vendor, err := repo.LockVendor(ctx, vendorID)
		if err != nil {
			return err
		}
		if vendor == nil || !vendor.PayoutEligible() {
			return nil
		}

		balance, err := s.ledger.BalanceTx(ctx, tx, vendor.ID)
		if err != nil {
			return err
		}
		if balance < minAmountCents {
			return nil
		}

		payout := &models.VendorPayout{
			VendorID:    vendor.ID,
			AmountCents: balance,
			Currency:    s.currency,
			Status:      enums.PayoutStatusPending,
			Method:      MethodManual,
		}
		if vendor.StripeAccountID != nil && strings.TrimSpace(*vendor.StripeAccountID) != "" && s.transferer != nil {
			payout.Method = MethodStripeConnect
		} else {
			now := s.now()
			payout.Status = enums.PayoutStatusProcessing
			payout.ProcessedAt = &now
		}
		if err := repo.Create(ctx, payout); err != nil {
			return err
		}

		if _, _, err := s.ledger.Post(ctx, tx, vendorledger.PostInput{
			VendorID:     vendor.ID,
			Type:         enums.LedgerPayoutDebit,
			AmountCents:  -balance,
			Currency:     payout.Currency,
			ReferenceKey: vendorledger.PayoutDebitKey(payout.ID),
			PayoutID:     &payout.ID,
			Memo:         "payout " + payout.Method,
		}); err != nil {
			return err
		}

		if payout.Method == MethodStripeConnect {
			if _, err := s.queue.Enqueue(ctx, tx, enums.TaskPayoutTransfer, TransferPayload{PayoutID: payout.ID}, tasks.EnqueueOptions{
				DedupeKey: "payout.transfer:" + payout.ID.String(),
			}); err != nil {
				return err
			}
		}

		if err := s.emit(ctx, tx, enums.EventPayoutCreated, payout, ""); err != nil {
			return err
		}
		created = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		s.logg.Info(s.logg.WithFields(s.logg.WithVendorID(ctx, vendorID.String()), map[string]any{
			"payout_id":    created.ID.String(),
			"amount_cents": created.AmountCents,
			"method":       created.Method,
		}), "payout created")
	}
	return created, nil
}

// Registration wires payout.transfer with the default exponential backoff.
func (s *Service) Registration() tasks.Registration {
	return tasks.Registration{
		Kind:   enums.TaskPayoutTransfer,
		Handle: s.HandleTransfer,
		OnDead: s.OnTransferDead,
	}
}

// HandleTransfer is the payout.transfer task handler.
func (s *Service) HandleTransfer(ctx context.Context, task models.Task) error {
	payload, err := tasks.Decode[TransferPayload](task)
	if err != nil {
		return err
	}
	if s.transferer == nil {
		return tasks.Permanent(errors.New("no transfer provider configured"))
	}

	payout, err := s.repo.Find(ctx, payload.PayoutID)
	if err != nil {
		return err
	}
	if payout == nil {
		return tasks.Permanent(fmt.Errorf("payout %s not found", payload.PayoutID))
	}
	if !payout.Status.IsOpen() {
		return nil
	}
	vendor, err := s.repo.FindVendor(ctx, payout.VendorID)
	if err != nil {
		return err
	}
	if vendor == nil || vendor.StripeAccountID == nil {
		return tasks.Permanent(fmt.Errorf("vendor %s has no connected account", payout.VendorID))
	}

	if payout.Status == enums.PayoutStatusPending {
		now := s.now()
		payout.Status = enums.PayoutStatusProcessing
		payout.ProcessedAt = &now
		if err := s.repo.Update(ctx, payout); err != nil {
			return err
		}
	}

	transferID, err := s.transferer.Transfer(ctx, TransferRequest{
		Destination:    *vendor.StripeAccountID,
		AmountCents:    payout.AmountCents,
		Currency:       payout.Currency,
		Group:          payout.ID.String(),
		IdempotencyKey: "payout:" + payout.ID.String(),
	})
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeGatewayRejected {
			return tasks.Permanent(err)
		}
		return err
	}
	return s.Complete(ctx, payout.ID, transferID)
}

// OnTransferDead fails the payout once its transfer task gives up.
func (s *Service) OnTransferDead(ctx context.Context, task models.Task, cause error) error {
	payload, err := tasks.Decode[TransferPayload](task)
	if err != nil {
		return err
	}
	reason := "transfer failed"
	if cause != nil {
		reason = cause.Error()
	}
	return s.Fail(ctx, payload.PayoutID, reason)
}

// Complete settles an open payout. Manual payouts are completed by an operator.
func (s *Service) Complete(ctx context.Context, payoutID uuid.UUID, externalRef string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindForUpdate(ctx, payoutID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout")
		}
		if payout == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		if payout.Status == enums.PayoutStatusCompleted {
			return nil
		}
		if !payout.Status.IsOpen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payout is %s", payout.Status))
		}
		now := s.now()
		payout.Status = enums.PayoutStatusCompleted
		payout.CompletedAt = &now
		if ref := strings.TrimSpace(externalRef); ref != "" {
			payout.ExternalTransferID = &ref
		}
		if err := repo.Update(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
		}
		return s.emit(ctx, tx, enums.EventPayoutCompleted, payout, "")
	})
}

// Fail marks an open payout failed and posts the compensating reversal so the
// balance becomes payable again.
func (s *Service) Fail(ctx context.Context, payoutID uuid.UUID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payout failed"
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindForUpdate(ctx, payoutID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout")
		}
		if payout == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		if payout.Status == enums.PayoutStatusFailed {
			return nil
		}
		if !payout.Status.IsOpen() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payout is %s", payout.Status))
		}
		now := s.now()
		payout.Status = enums.PayoutStatusFailed
		payout.FailedAt = &now
		payout.FailureReason = &reason
		if err := repo.Update(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
		}
		if _, _, err := s.ledger.Post(ctx, tx, vendorledger.PostInput{
			VendorID:     payout.VendorID,
			Type:         enums.LedgerPayoutDebitReversal,
			AmountCents:  payout.AmountCents,
			Currency:     payout.Currency,
			ReferenceKey: vendorledger.PayoutReversalKey(payout.ID),
			PayoutID:     &payout.ID,
			Memo:         reason,
		}); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventPayoutFailed, payout, reason)
	})
	if err == nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payout_id": payoutID.String(),
			"reason":    reason,
		}), "payout failed; balance restored")
	}
	return err
}

// Get returns a payout by id.
func (s *Service) Get(ctx context.Context, payoutID uuid.UUID) (*models.VendorPayout, error) {
	payout, err := s.repo.Find(ctx, payoutID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	if payout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	return payout, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payout *models.VendorPayout, reason string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateVendorPayout,
		AggregateID:   payout.ID,
		Actor:         outbox.ActorSystem,
		Data: payloads.PayoutEvent{
			PayoutID:    payout.ID,
			VendorID:    payout.VendorID,
			AmountCents: payout.AmountCents,
			Currency:    payout.Currency,
			Status:      payout.Status,
			Reason:      reason,
		},
	})
}
