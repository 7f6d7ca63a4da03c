// Package reconciler applies verified payment outcomes. Every method runs inside
// the caller's transaction, which also holds the payment row lock, so a
// captured payment deducts stock and credits vendors exactly once.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/internal/inventory"
	"github.com/angelmondragon/commerce-engine/internal/orders"
	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/internal/shipping"
	"github.com/angelmondragon/commerce-engine/internal/splitter"
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
	ReferenceRefund = "refund"
	reasonCaptured  = "payment captured"
	reasonRefunded  = "payment refunded"
)

type orderService interface {
	LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	SetStatusTx(ctx context.Context, tx *gorm.DB, order *models.Order, status enums.OrderStatus) error
	ReleaseReservationsTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) (int, error)
}

type stockLedger interface {
	DeductTx(ctx context.Context, tx *gorm.DB, req inventory.Request) (bool, error)
	AddStockTx(ctx context.Context, tx *gorm.DB, req inventory.Request) (*models.Inventory, error)
}

type ledgerService interface {
	Post(ctx context.Context, tx *gorm.DB, input vendorledger.PostInput) (*models.VendorLedgerEntry, bool, error)
	EntriesForPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) ([]models.VendorLedgerEntry, error)
}

type taskQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, kind enums.TaskKind, payload any, opts tasks.EnqueueOptions) (*models.Task, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type Params struct {
	Payments       payments.Repository
	Orders         orderService
	Inventory      stockLedger
	Ledger         ledgerService
	Vendors        VendorRates
	Queue          taskQueue
	Outbox         eventEmitter
	Logger         *logger.Logger
	CommissionRate decimal.Decimal
}

type Reconciler struct {
	payments  payments.Repository
	orders    orderService
	inventory stockLedger
	ledger    ledgerService
	vendors   VendorRates
	queue     taskQueue
	outbox    eventEmitter
	logg      *logger.Logger
	rate      decimal.Decimal
	now       func() time.Time
}

var _ payments.Reconciler = (*Reconciler)(nil)

func New(params Params) (*Reconciler, error) {
	switch {
	case params.Payments == nil:
		return nil, errors.New("payment repository required")
	case params.Orders == nil:
		return nil, errors.New("order service required")
	case params.Inventory == nil:
		return nil, errors.New("inventory service required")
	case params.Ledger == nil:
		return nil, errors.New("vendor ledger required")
	case params.Vendors == nil:
		return nil, errors.New("vendor rates required")
	case params.Queue == nil:
		return nil, errors.New("task queue required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.CommissionRate.IsNegative() || params.CommissionRate.GreaterThan(decimal.NewFromInt(1)):
		return nil, fmt.Errorf("commission rate %s out of range", params.CommissionRate)
	}
	return &Reconciler{
		payments:  params.Payments,
		orders:    params.Orders,
		inventory: params.Inventory,
		ledger:    params.Ledger,
		vendors:   params.Vendors,
		queue:     params.Queue,
		outbox:    params.Outbox,
		logg:      params.Logger,
		rate:      params.CommissionRate,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// HandleSuccess completes a pending payment: stock leaves the warehouse, each
// vendor is credited its net share and one shipment task is queued per vendor.
func (r *Reconciler) HandleSuccess(ctx context.Context, tx *gorm.DB, payment *models.Payment, evt *gateways.WebhookEvent) (payments.Result, error) {
	ctx = r.logg.WithPaymentID(r.logg.WithOrderID(ctx, payment.OrderID.String()), payment.ID.String())

	switch payment.Status {
	case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded:
		r.logg.Info(r.logg.WithField(ctx, "event", "payment.duplicate_success"), "payment already completed")
		return payments.Result{Duplicate: true, Status: payment.Status}, nil
	case enums.PaymentStatusFailed:
		if err := r.lateCapture(ctx, tx, payment, evt); err != nil {
			return payments.Result{}, err
		}
		return payments.Result{LateCapture: true, Status: payment.Status}, nil
	}

	order, err := r.orders.LockTx(ctx, tx, payment.OrderID)
	if err != nil {
		return payments.Result{}, err
	}
	sold := order.Status == enums.OrderStatusPending
	if err := r.complete(ctx, tx, payment, evt, sold); err != nil {
		return payments.Result{}, err
	}
	if !sold {
		// captured after the order closed: nothing to deduct, money goes back by hand
		if err := r.lateCapture(ctx, tx, payment, evt); err != nil {
			return payments.Result{}, err
		}
		return payments.Result{LateCapture: true, Status: payment.Status}, nil
	}

	for _, item := range order.Items {
		if err := r.deduct(ctx, tx, order, payment, item); err != nil {
			return payments.Result{}, err
		}
	}

	subs := splitter.Split(order.Items)
	if err := r.credit(ctx, tx, order, payment, subs); err != nil {
		return payments.Result{}, err
	}
	if err := r.orders.SetStatusTx(ctx, tx, order, enums.OrderStatusPaid); err != nil {
		return payments.Result{}, err
	}
	for _, sub := range subs {
		if _, err := r.queue.Enqueue(ctx, tx, enums.TaskShipmentCreate,
			shipping.CreatePayload{OrderID: order.ID, VendorID: sub.VendorID},
			tasks.EnqueueOptions{DedupeKey: shipping.DedupeKey(order.ID, sub.VendorID)},
		); err != nil {
			return payments.Result{}, err
		}
	}

	if err := r.emitStatus(ctx, tx, enums.EventPaymentCompleted, payment, ""); err != nil {
		return payments.Result{}, err
	}
	r.logg.Info(r.logg.WithField(ctx, "vendors", len(subs)), "payment reconciled")
	return payments.Result{Status: payment.Status}, nil
}

// complete marks the payment captured. deducted records whether this capture
// takes the order's stock, which decides whether a full refund restocks.
func (r *Reconciler) complete(ctx context.Context, tx *gorm.DB, payment *models.Payment, evt *gateways.WebhookEvent, deducted bool) error {
	now := r.now()
	updates := map[string]any{
		"status":         enums.PaymentStatusCompleted,
		"completed_at":   now,
		"stock_deducted": deducted,
	}
	if len(evt.Raw) > 0 {
		updates["gateway_response"] = datatypes.JSON(evt.Raw)
	}
	if payment.ExternalID == nil && evt.ExternalID != "" {
		updates["external_id"] = evt.ExternalID
		ext := evt.ExternalID
		payment.ExternalID = &ext
	}
	if err := r.payments.WithTx(tx).Update(ctx, payment.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
	}
	payment.Status = enums.PaymentStatusCompleted
	payment.CompletedAt = &now
	payment.StockDeducted = deducted
	if len(evt.Raw) > 0 {
		payment.GatewayResponse = datatypes.JSON(evt.Raw)
	}
	return nil
}

// deduct commits one line's reservation. A line that cannot be deducted does
// not block the capture; it is reported for manual correction.
func (r *Reconciler) deduct(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, item models.OrderItem) error {
	ok, err := r.inventory.DeductTx(ctx, tx, stockRequest(item, orders.ReferenceOrder, order.ID.String(), reasonCaptured))
	problem := ""
	switch {
	case err != nil && pkgerrors.CodeOf(err) == pkgerrors.CodeInsufficientStock:
		problem = "insufficient stock"
	case err != nil:
		return err
	case !ok:
		problem = "inventory not found"
	default:
		return nil
	}

	r.logg.Error(r.logg.WithFields(ctx, map[string]any{
		"event":         "inventory.integrity_violation",
		"order_item_id": item.ID,
		"product_id":    item.ProductID,
		"warehouse_id":  item.WarehouseID,
	}), "deduct failed at capture", pkgerrors.New(pkgerrors.CodeIntegrity, problem))
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInventoryIntegrityViolation,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.ActorSystem,
		Data: payloads.InventoryIntegrityEvent{
			OrderID:     order.ID,
			PaymentID:   payment.ID,
			OrderItemID: item.ID,
			WarehouseID: item.WarehouseID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			Problem:     problem,
		},
	})
}

func (r *Reconciler) credit(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment, subs []splitter.SubOrder) error {
	vendorIDs := make([]uuid.UUID, 0, len(subs))
	for _, sub := range subs {
		vendorIDs = append(vendorIDs, sub.VendorID)
	}
	rates, err := r.vendors.RatesTx(ctx, tx, vendorIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor commission rates")
	}

	for _, s := range splitter.Settle(subs, rates, r.rate) {
		if s.NetCents > 0 {
			if _, _, err := r.ledger.Post(ctx, tx, vendorledger.PostInput{
				VendorID:     s.VendorID,
				Type:         enums.LedgerSaleCredit,
				AmountCents:  s.NetCents,
				Currency:     payment.Currency,
				ReferenceKey: vendorledger.SaleCreditKey(payment.ID, s.VendorID),
				PaymentID:    &payment.ID,
				OrderID:      &order.ID,
			}); err != nil {
				return err
			}
		}
		if s.CommissionCents > 0 {
			if _, _, err := r.ledger.Post(ctx, tx, vendorledger.PostInput{
				VendorID:     s.VendorID,
				Type:         enums.LedgerCommissionDebit,
				AmountCents:  -s.CommissionCents,
				Currency:     payment.Currency,
				ReferenceKey: vendorledger.CommissionKey(payment.ID, s.VendorID),
				PaymentID:    &payment.ID,
				OrderID:      &order.ID,
				Memo:         "commission " + s.CommissionRate.String(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) lateCapture(ctx context.Context, tx *gorm.DB, payment *models.Payment, evt *gateways.WebhookEvent) error {
	external := evt.ExternalID
	if external == "" && payment.ExternalID != nil {
		external = *payment.ExternalID
	}
	r.logg.Warn(r.logg.WithField(ctx, "event", "payment.late_capture"), "capture received for a closed payment, manual refund required")
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentLateCapture,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.WebhookActor(string(payment.Gateway)),
		Data: payloads.LateCaptureEvent{
			PaymentID:   payment.ID,
			OrderID:     payment.OrderID,
			Gateway:     payment.Gateway,
			ExternalID:  external,
			AmountCents: evt.AmountCents,
		},
	})
}

// HandleFailure fails a pending payment and hands the order's reservations back.
// No ledger entries are written.
func (r *Reconciler) HandleFailure(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) (payments.Result, error) {
	ctx = r.logg.WithPaymentID(ctx, payment.ID.String())
	if payment.Status.IsTerminal() {
		r.logg.Info(r.logg.WithField(ctx, "event", "payment.duplicate_failure"), "payment already "+string(payment.Status))
		return payments.Result{Duplicate: true, Status: payment.Status}, nil
	}
	if reason == "" {
		reason = "payment failed"
	}

	order, err := r.orders.LockTx(ctx, tx, payment.OrderID)
	if err != nil {
		return payments.Result{}, err
	}
	now := r.now()
	if err := r.payments.WithTx(tx).Update(ctx, payment.ID, map[string]any{
		"status":         enums.PaymentStatusFailed,
		"failure_reason": reason,
		"failed_at":      now,
	}); err != nil {
		return payments.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
	}
	payment.Status = enums.PaymentStatusFailed
	payment.FailureReason = &reason
	payment.FailedAt = &now

	if order.Status == enums.OrderStatusPending {
		if _, err := r.orders.ReleaseReservationsTx(ctx, tx, order, orders.ReasonPaymentFailed); err != nil {
			return payments.Result{}, err
		}
		if err := r.orders.SetStatusTx(ctx, tx, order, enums.OrderStatusPaymentFailed); err != nil {
			return payments.Result{}, err
		}
	}
	if err := r.emitStatus(ctx, tx, enums.EventPaymentFailed, payment, reason); err != nil {
		return payments.Result{}, err
	}
	r.logg.Info(r.logg.WithField(ctx, "reason", reason), "payment failed")
	return payments.Result{Status: payment.Status}, nil
}

// HandleRefund debits each vendor its proportional net share of amountCents.
// Once a payment whose capture took stock is fully refunded, the order is
// closed and the stock comes back. Late captures never took stock.
func (r *Reconciler) HandleRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, amountCents int64, refundID string) error {
	ctx = r.logg.WithPaymentID(ctx, payment.ID.String())
	if payment.Status != enums.PaymentStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment is %s", payment.Status))
	}
	if amountCents <= 0 || amountCents > payment.RefundableCents() {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount out of range").
			WithDetails(map[string]any{"amount_cents": amountCents, "refundable_cents": payment.RefundableCents()})
	}
	if refundID == "" {
		refundID = fmt.Sprintf("%d-%d", payment.RefundedCents, amountCents)
	}

	entries, err := r.ledger.EntriesForPayment(ctx, tx, payment.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment ledger entries")
	}
	before := payment.RefundedCents
	after := before + amountCents
	for _, entry := range entries {
		if entry.Type != enums.LedgerSaleCredit {
			continue
		}
		share := splitter.Settlement{VendorID: entry.VendorID, NetCents: entry.AmountCents}
		debit := share.NetShare(after, payment.AmountCents) - share.NetShare(before, payment.AmountCents)
		if debit <= 0 {
			continue
		}
		if _, _, err := r.ledger.Post(ctx, tx, vendorledger.PostInput{
			VendorID:     entry.VendorID,
			Type:         enums.LedgerRefundDebit,
			AmountCents:  -debit,
			Currency:     payment.Currency,
			ReferenceKey: vendorledger.RefundKey(payment.ID, entry.VendorID, refundID),
			PaymentID:    &payment.ID,
			OrderID:      &payment.OrderID,
		}); err != nil {
			return err
		}
	}

	full := after >= payment.AmountCents
	updates := map[string]any{"refunded_cents": after}
	now := r.now()
	if full {
		updates["status"] = enums.PaymentStatusRefunded
		updates["refunded_at"] = now
	}
	if err := r.payments.WithTx(tx).Update(ctx, payment.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	payment.RefundedCents = after
	if full {
		payment.Status = enums.PaymentStatusRefunded
		payment.RefundedAt = &now
		if payment.StockDeducted {
			if err := r.restock(ctx, tx, payment, refundID); err != nil {
				return err
			}
		} else {
			r.logg.Info(r.logg.WithField(ctx, "event", "payment.refund_without_stock"), "refunded capture took no stock, order left as is")
		}
	}

	if err := r.emitStatus(ctx, tx, enums.EventPaymentRefunded, payment, ""); err != nil {
		return err
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{"amount_cents": amountCents, "full": full}), "refund applied")
	return nil
}

func (r *Reconciler) restock(ctx context.Context, tx *gorm.DB, payment *models.Payment, refundID string) error {
	order, err := r.orders.LockTx(ctx, tx, payment.OrderID)
	if err != nil {
		return err
	}
	for _, item := range order.Items {
		if _, err := r.inventory.AddStockTx(ctx, tx, stockRequest(item, ReferenceRefund, refundID, reasonRefunded)); err != nil {
			return err
		}
	}
	return r.orders.SetStatusTx(ctx, tx, order, enums.OrderStatusRefunded)
}

func (r *Reconciler) emitStatus(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, reason string) error {
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.WebhookActor(string(payment.Gateway)),
		Data: payloads.PaymentStatusEvent{
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			Gateway:       payment.Gateway,
			Status:        payment.Status,
			AmountCents:   payment.AmountCents,
			RefundedCents: payment.RefundedCents,
			Currency:      payment.Currency,
			Reason:        reason,
		},
	})
}

func stockRequest(item models.OrderItem, refType, refID, reason string) inventory.Request {
	return inventory.Request{
		Key: inventory.Key{
			WarehouseID: item.WarehouseID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
		},
		Quantity:  item.Quantity,
		Reference: inventory.Reference{Type: refType, ID: refID},
		Reason:    reason,
	}
}
