// Package payments drives payment attempts and inbound provider webhooks.
// Webhooks are verified before parsing and deduplicated by (gateway, event_id)
// in the same transaction that applies them.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/breaker"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
	"github.com/angelmondragon/commerce-engine/pkg/outbox/payloads"
)

// ErrInvalidSignature is wrapped by every rejected webhook.
var ErrInvalidSignature = gateways.ErrInvalidSignature

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderLocker interface {
	LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	ReReserveTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type breakerSource interface {
	Get(name string) *breaker.Breaker
}

type replayGuard interface {
	Seen(ctx context.Context, gateway enums.PaymentGateway, eventID string) (bool, error)
	Mark(ctx context.Context, gateway enums.PaymentGateway, eventID string) error
}

type webhookCounter interface {
	Inc(gateway, result string)
}

// Result is what reconciling one event did.
type Result struct {
	Duplicate   bool
	LateCapture bool
	Status      enums.PaymentStatus
}

// Reconciler applies verified outcomes to payments, orders, stock and vendor balances.
type Reconciler interface {
	HandleSuccess(ctx context.Context, tx *gorm.DB, payment *models.Payment, evt *gateways.WebhookEvent) (Result, error)
	HandleFailure(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) (Result, error)
	HandleRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, amountCents int64, refundID string) error
}

type ServiceParams struct {
	Repo       Repository
	TxRunner   txRunner
	Gateways   *gateways.Registry
	Breakers   breakerSource
	Orders     orderLocker
	Reconciler Reconciler
	Outbox     eventEmitter
	Logger     *logger.Logger
	// Guard and Metrics are optional.
	Guard   replayGuard
	Metrics webhookCounter
}

type Service struct {
	repo       Repository
	tx         txRunner
	gateways   *gateways.Registry
	breakers   breakerSource
	orders     orderLocker
	reconciler Reconciler
	outbox     eventEmitter
	logg       *logger.Logger
	guard      replayGuard
	metrics    webhookCounter
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("payment repository required")
	case params.TxRunner == nil:
		return nil, errors.New("transaction runner required")
	case params.Gateways == nil:
		return nil, errors.New("gateway registry required")
	case params.Breakers == nil:
		return nil, errors.New("breaker registry required")
	case params.Orders == nil:
		return nil, errors.New("order service required")
	case params.Reconciler == nil:
		return nil, errors.New("reconciler required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Service{
		repo:       params.Repo,
		tx:         params.TxRunner,
		gateways:   params.Gateways,
		breakers:   params.Breakers,
		orders:     params.Orders,
		reconciler: params.Reconciler,
		outbox:     params.Outbox,
		logg:       params.Logger,
		guard:      params.Guard,
		metrics:    params.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// BreakerName is the breaker guarding calls to gateway.
func BreakerName(gateway enums.PaymentGateway) string {
	return "gateway:" + string(gateway)
}

func (s *Service) call(ctx context.Context, gateway enums.PaymentGateway, fn func(ctx context.Context) error) error {
	err := s.breakers.Get(BreakerName(gateway)).Execute(ctx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, breaker.ErrOpen) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s is unavailable", gateway))
	}
	if pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s call failed", gateway))
	}
	return err
}

// Get returns one payment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

type InitiateInput struct {
	OrderID        uuid.UUID
	Gateway        enums.PaymentGateway
	IdempotencyKey string
	Customer       gateways.Customer
	SourceToken    string
}

type InitiateResult struct {
	PaymentID     uuid.UUID           `json:"payment_id"`
	Status        enums.PaymentStatus `json:"status"`
	TransactionID string              `json:"transaction_id,omitempty"`
	RedirectURL   string              `json:"redirect_url,omitempty"`
	ClientSecret  string              `json:"client_secret,omitempty"`
}

// intentRecord is stored as gateway_response until a webhook replaces it.
type intentRecord struct {
	RedirectURL  string          `json:"redirect_url,omitempty"`
	ClientSecret string          `json:"client_secret,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
}

// Initiate opens a payment attempt for a pending order. A gateway rejection
// fails only this attempt; the reservations stay so the customer can retry.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	gw, err := s.gateways.Get(input.Gateway)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by idempotency key")
		}
		if existing != nil {
			if existing.OrderID != input.OrderID || existing.Gateway != input.Gateway {
				return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused for a different request")
			}
			return replayed(existing), nil
		}
	}

	var payment *models.Payment
	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.orders.LockTx(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if !locked.Status.AcceptsPayment() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", locked.Status)).
				WithDetails(map[string]any{"order_id": locked.ID, "status": locked.Status})
		}
		if locked.Status == enums.OrderStatusPaymentFailed {
			if err := s.orders.ReReserveTx(ctx, tx, locked); err != nil {
				return err
			}
		} else if locked.ReservationExpiresAt.Before(s.now()) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order reservation expired").
				WithDetails(map[string]any{"order_id": locked.ID})
		}
		payment = &models.Payment{
			OrderID:     locked.ID,
			Gateway:     gw.Name(),
			AmountCents: locked.TotalCents,
			Currency:    locked.Currency,
			Status:      enums.PaymentStatusPending,
		}
		if key != "" {
			payment.IdempotencyKey = &key
		}
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())
	intentKey := key
	if intentKey == "" {
		intentKey = "payment:" + payment.ID.String()
	}
	var intent *gateways.IntentResult
	callErr := s.call(ctx, gw.Name(), func(ctx context.Context) error {
		res, err := gw.CreateIntent(ctx, gateways.IntentRequest{
			PaymentID:      payment.ID.String(),
			OrderID:        order.ID.String(),
			AmountCents:    payment.AmountCents,
			Currency:       payment.Currency,
			IdempotencyKey: intentKey,
			Description:    "Order " + order.ID.String(),
			Customer:       input.Customer,
			SourceToken:    input.SourceToken,
		})
		intent = res
		return err
	})
	if callErr != nil {
		s.logg.Warn(s.logg.WithField(ctx, "gateway", gw.Name()), "payment intent failed: "+callErr.Error())
		if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.failTx(ctx, tx, payment, callErr.Error())
		}); err != nil {
			s.logg.Error(ctx, "mark payment failed", err)
		}
		return nil, callErr
	}

	record, _ := json.Marshal(intentRecord{RedirectURL: intent.RedirectURL, ClientSecret: intent.ClientSecret, Response: intent.Raw})
	updates := map[string]any{"gateway_response": datatypes.JSON(record)}
	if intent.ExternalID != "" {
		updates["external_id"] = intent.ExternalID
	}
	if err := s.repo.Update(ctx, payment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment intent")
	}
	s.logg.Info(ctx, "payment initiated")
	return &InitiateResult{
		PaymentID:     payment.ID,
		Status:        payment.Status,
		TransactionID: intent.ExternalID,
		RedirectURL:   intent.RedirectURL,
		ClientSecret:  intent.ClientSecret,
	}, nil
}

func replayed(p *models.Payment) *InitiateResult {
	out := &InitiateResult{PaymentID: p.ID, Status: p.Status}
	if p.ExternalID != nil {
		out.TransactionID = *p.ExternalID
	}
	var record intentRecord
	if len(p.GatewayResponse) > 0 && json.Unmarshal(p.GatewayResponse, &record) == nil {
		out.RedirectURL = record.RedirectURL
		out.ClientSecret = record.ClientSecret
	}
	return out
}

// FailPendingTx fails every pending attempt for orderID, used when the order
// stops accepting payments.
func (s *Service) FailPendingTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (int, error) {
	pending, err := s.repo.WithTx(tx).ListPendingForOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}
	for i := range pending {
		if err := s.failTx(ctx, tx, &pending[i], reason); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (s *Service) failTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) error {
	if !payment.Status.CanTransitionTo(enums.PaymentStatusFailed) {
		return nil
	}
	now := s.now()
	if err := s.repo.WithTx(tx).Update(ctx, payment.ID, map[string]any{
		"status":         enums.PaymentStatusFailed,
		"failure_reason": reason,
		"failed_at":      now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
	}
	payment.Status = enums.PaymentStatusFailed
	payment.FailureReason = &reason
	payment.FailedAt = &now
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.ActorSystem,
		Data: payloads.PaymentStatusEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			Gateway:     payment.Gateway,
			Status:      payment.Status,
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
			Reason:      reason,
		},
	})
}

// WebhookResult is the acknowledgement for one delivery.
type WebhookResult struct {
	Gateway   enums.PaymentGateway `json:"gateway"`
	EventID   string               `json:"event_id,omitempty"`
	PaymentID *uuid.UUID           `json:"payment_id,omitempty"`
	Outcome   gateways.Outcome     `json:"outcome"`
	Status    enums.PaymentStatus  `json:"status,omitempty"`
	Duplicate bool                 `json:"duplicate"`
}

// ProcessWebhook verifies, parses, deduplicates and reconciles one provider
// notification. Unmatched payments return NOT_FOUND so the provider retries.
func (s *Service) ProcessWebhook(ctx context.Context, gateway enums.PaymentGateway, headers http.Header, body []byte) (*WebhookResult, error) {
	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "gateway", gateway)

	// PayPal verifies through its API
	if err := s.call(ctx, gateway, func(ctx context.Context) error {
		err := gw.VerifyWebhook(ctx, headers, body)
		if err != nil && pkgerrors.As(err) == nil {
			err = gateways.SignatureError(gateway, err)
		}
		return err
	}); err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeDependency {
			s.count(gateway, "error")
			s.logg.Error(ctx, "webhook verification unavailable", err)
			return nil, err
		}
		s.count(gateway, "rejected")
		s.logg.Warn(s.logg.WithField(ctx, "event", "webhook.security_violation"), err.Error())
		return nil, err
	}

	evt, err := gw.ParseWebhook(body)
	if err != nil {
		s.count(gateway, "error")
		return nil, err
	}
	result := &WebhookResult{Gateway: gateway, EventID: evt.EventID, Outcome: evt.Outcome}
	if evt.Outcome == gateways.OutcomeIgnored {
		if evt.Reason != "" {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"event_id":    evt.EventID,
				"external_id": evt.ExternalID,
				"reason":      evt.Reason,
			}), "provider reported a retryable payment attempt")
		}
		s.count(gateway, "ignored")
		return result, nil
	}
	if evt.EventID == "" {
		s.count(gateway, "error")
		return nil, gateways.MalformedWebhook(gateway, errors.New("event id missing"))
	}
	ctx = s.logg.WithField(ctx, "event_id", evt.EventID)

	if s.guard != nil {
		seen, err := s.guard.Seen(ctx, gateway, evt.EventID)
		if err != nil {
			s.logg.Warn(ctx, "webhook replay cache unavailable: "+err.Error())
		} else if seen {
			return s.duplicate(ctx, result), nil
		}
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := s.locate(ctx, repo, gateway, evt)
		if err != nil {
			return err
		}
		if payment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no payment matches webhook").
				WithDetails(map[string]any{"gateway": gateway, "event_id": evt.EventID})
		}
		result.PaymentID = &payment.ID
		inserted, err := repo.InsertWebhookEvent(ctx, &models.WebhookEvent{
			Gateway:   gateway,
			EventID:   evt.EventID,
			PaymentID: &payment.ID,
			Outcome:   string(evt.Outcome),
			Payload:   datatypes.JSON(webhookPayload(body)),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		if !inserted {
			result.Duplicate = true
			result.Status = payment.Status
			return nil
		}

		var res Result
		switch evt.Outcome {
		case gateways.OutcomeSucceeded:
			if mismatch := amountMismatch(payment, evt); mismatch != "" {
				s.logg.Error(s.logg.WithPaymentID(ctx, payment.ID.String()), "captured amount does not match payment",
					pkgerrors.New(pkgerrors.CodeIntegrity, mismatch))
				res, err = s.reconciler.HandleFailure(ctx, tx, payment, "amount mismatch")
			} else {
				res, err = s.reconciler.HandleSuccess(ctx, tx, payment, evt)
			}
		case gateways.OutcomeFailed:
			res, err = s.reconciler.HandleFailure(ctx, tx, payment, evt.Reason)
		}
		if err != nil {
			return err
		}
		result.Duplicate = res.Duplicate
		result.Status = res.Status
		return nil
	})
	if err != nil {
		s.count(gateway, "error")
		return nil, err
	}

	if s.guard != nil {
		if err := s.guard.Mark(ctx, gateway, evt.EventID); err != nil {
			s.logg.Warn(ctx, "webhook replay cache mark failed: "+err.Error())
		}
	}
	if result.Duplicate {
		return s.duplicate(ctx, result), nil
	}
	s.count(gateway, "applied")
	s.logg.Info(ctx, "webhook applied")
	return result, nil
}

func (s *Service) duplicate(ctx context.Context, result *WebhookResult) *WebhookResult {
	result.Duplicate = true
	s.count(result.Gateway, "duplicate")
	s.logg.Info(s.logg.WithField(ctx, "event", "webhook.duplicate"), "webhook already applied")
	return result
}

func (s *Service) count(gateway enums.PaymentGateway, result string) {
	if s.metrics != nil {
		s.metrics.Inc(string(gateway), result)
	}
}

// locate finds the payment by provider id, then by our payment id, then by the
// latest attempt for the referenced order.
func (s *Service) locate(ctx context.Context, repo Repository, gateway enums.PaymentGateway, evt *gateways.WebhookEvent) (*models.Payment, error) {
	if evt.ExternalID != "" {
		p, err := repo.FindByExternalIDForUpdate(ctx, gateway, evt.ExternalID)
		if err != nil || p != nil {
			return p, wrapLookup(err)
		}
	}
	if id, err := uuid.Parse(evt.PaymentRef); err == nil {
		p, err := repo.FindForUpdate(ctx, id)
		if err != nil {
			return nil, wrapLookup(err)
		}
		if p != nil && p.Gateway == gateway {
			return p, nil
		}
	}
	if id, err := uuid.Parse(evt.OrderRef); err == nil {
		p, err := repo.FindLatestForOrderForUpdate(ctx, id, gateway)
		return p, wrapLookup(err)
	}
	return nil, nil
}

func wrapLookup(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "locate payment")
}

func amountMismatch(p *models.Payment, evt *gateways.WebhookEvent) string {
	if evt.AmountCents != p.AmountCents {
		return "amount " + strconv.FormatInt(evt.AmountCents, 10) + " != " + strconv.FormatInt(p.AmountCents, 10)
	}
	if evt.Currency != "" && evt.Currency != p.Currency {
		return "currency " + string(evt.Currency) + " != " + string(p.Currency)
	}
	return ""
}

// webhookPayload keeps JSON bodies as-is and wraps form bodies.
func webhookPayload(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return wrapped
}

type RefundInput struct {
	PaymentID uuid.UUID
	// AmountCents zero refunds the remaining balance.
	AmountCents int64
	Reason      string
}

// Refund returns money on a completed payment through its gateway, then applies
// the refund to vendor balances and, when full, to stock. The amount is held on
// the payment row before the gateway call, so overlapping refunds cannot
// together exceed the capture.
func (s *Service) Refund(ctx context.Context, input RefundInput) (*models.Payment, error) {
	payment, err := s.Get(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Get(payment.Gateway)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	held, amount, err := s.holdRefund(ctx, payment.ID, input.AmountCents)
	if err != nil {
		return nil, err
	}

	externalID := ""
	if held.ExternalID != nil {
		externalID = *held.ExternalID
	}
	idem := fmt.Sprintf("refund:%s:%d:%d", held.ID, held.RefundedCents+held.PendingRefundCents, amount)
	var refund *gateways.RefundResult
	if err := s.call(ctx, gw.Name(), func(ctx context.Context) error {
		res, err := gw.Refund(ctx, gateways.RefundRequest{
			ExternalID:     externalID,
			AmountCents:    amount,
			Currency:       held.Currency,
			IdempotencyKey: idem,
			Reason:         input.Reason,
			Stored:         json.RawMessage(held.GatewayResponse),
		})
		refund = res
		return err
	}); err != nil {
		s.logg.Warn(ctx, "gateway refund failed: "+err.Error())
		if releaseErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.releaseHoldTx(ctx, tx, held.ID, amount)
			return err
		}); releaseErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "amount_cents", amount), "release refund hold", releaseErr)
		}
		return nil, err
	}

	var out *models.Payment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.releaseHoldTx(ctx, tx, held.ID, amount)
		if err != nil {
			return err
		}
		if _, err := refundAmount(locked, amount); err != nil {
			return err
		}
		if err := s.reconciler.HandleRefund(ctx, tx, locked, amount, refund.RefundID); err != nil {
			return err
		}
		out = locked
		return nil
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "refund_id", refund.RefundID), "refund accepted by gateway but not recorded", err)
		return nil, err
	}
	s.logg.Info(ctx, "payment refunded")
	return out, nil
}

// holdRefund reserves the refund amount under the payment row lock. The
// returned payment reflects the row before the hold.
func (s *Service) holdRefund(ctx context.Context, id uuid.UUID, requested int64) (*models.Payment, int64, error) {
	var (
		held   *models.Payment
		amount int64
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := lockPayment(ctx, repo, id)
		if err != nil {
			return err
		}
		amount, err = refundAmount(locked, requested)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, id, map[string]any{"pending_refund_cents": locked.PendingRefundCents + amount}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hold refund")
		}
		held = locked
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return held, amount, nil
}

func (s *Service) releaseHoldTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, amount int64) (*models.Payment, error) {
	repo := s.repo.WithTx(tx)
	locked, err := lockPayment(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	pending := locked.PendingRefundCents - amount
	if pending < 0 {
		pending = 0
	}
	if err := repo.Update(ctx, id, map[string]any{"pending_refund_cents": pending}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release refund hold")
	}
	locked.PendingRefundCents = pending
	return locked, nil
}

func lockPayment(ctx context.Context, repo Repository, id uuid.UUID) (*models.Payment, error) {
	locked, err := repo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment")
	}
	if locked == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return locked, nil
}

func refundAmount(p *models.Payment, requested int64) (int64, error) {
	if p.Status != enums.PaymentStatusCompleted {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment is %s", p.Status)).
			WithDetails(map[string]any{"payment_id": p.ID, "status": p.Status})
	}
	if requested < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must not be negative")
	}
	refundable := p.UnheldRefundableCents()
	if requested == 0 {
		requested = refundable
	}
	if requested <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing left to refund").
			WithDetails(map[string]any{"pending_refund_cents": p.PendingRefundCents})
	}
	if requested > refundable {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds refundable amount").
			WithDetails(map[string]any{"requested": requested, "refundable": refundable, "pending_refund_cents": p.PendingRefundCents})
	}
	return requested, nil
}
