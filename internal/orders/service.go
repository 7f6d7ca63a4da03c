package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/internal/inventory"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
	"github.com/angelmondragon/commerce-engine/pkg/outbox/payloads"
)

// ReferenceOrder tags inventory transactions caused by an order.
const ReferenceOrder = "order"

const (
	ReasonCancelled         = "cancelled"
	ReasonPaymentFailed     = "payment failed"
	ReasonReservationExpiry = "reservation expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockReserver holds and hands back stock for order lines.
type StockReserver interface {
	ReserveTx(ctx context.Context, tx *gorm.DB, req inventory.Request) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, req inventory.Request) (bool, error)
}

// PendingPaymentFailer fails the in-flight payments of an order that stops accepting them.
type PendingPaymentFailer interface {
	FailPendingTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (int, error)
}

type ServiceParams struct {
	Repo           Repository
	TxRunner       txRunner
	Outbox         outboxPublisher
	Inventory      StockReserver
	Logger         *logger.Logger
	ReservationTTL time.Duration
}

// PlaceItem is one requested order line.
type PlaceItem struct {
	VendorID       uuid.UUID
	ProductID      uuid.UUID
	VariantID      *uuid.UUID
	WarehouseID    uuid.UUID
	UnitPriceCents int64
	Quantity       int
}

type PlaceInput struct {
	CustomerID uuid.UUID
	Currency   enums.Currency
	Items      []PlaceItem
}

// Service owns the order lifecycle around inventory reservations.
type Service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	inventory StockReserver
	payments  PendingPaymentFailer
	logg      *logger.Logger
	ttl       time.Duration
	now       func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory reserver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.ReservationTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		repo:      params.Repo,
		tx:        params.TxRunner,
		outbox:    params.Outbox,
		inventory: params.Inventory,
		logg:      params.Logger,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetPaymentFailer installs the hook Cancel and Expire use to fail in-flight payments.
// The payments service depends on orders, so it is wired after construction.
func (s *Service) SetPaymentFailer(p PendingPaymentFailer) {
	s.payments = p
}

// Place creates the order, its items and one reservation per line in a single
// transaction. Any line short of stock rolls the whole order back.
func (s *Service) Place(ctx context.Context, input PlaceInput) (*models.Order, error) {
	if err := validatePlace(input); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                   uuid.New(),
		CustomerID:           input.CustomerID,
		Status:               enums.OrderStatusPending,
		Currency:             input.Currency,
		ReservationExpiresAt: s.now().Add(s.ttl),
	}
	vendors := make([]uuid.UUID, 0, len(input.Items))
	seen := map[uuid.UUID]bool{}
	for _, it := range input.Items {
		item := models.OrderItem{
			VendorID:       it.VendorID,
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			WarehouseID:    it.WarehouseID,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
		}
		order.TotalCents += item.LineTotalCents()
		order.Items = append(order.Items, item)
		if !seen[it.VendorID] {
			seen[it.VendorID] = true
			vendors = append(vendors, it.VendorID)
		}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		for _, item := range order.Items {
			if err := s.inventory.ReserveTx(ctx, tx, reservation(order, item)); err != nil {
				return err
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPlacedEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				VendorIDs:  vendors,
				TotalCents: order.TotalCents,
				Currency:   order.Currency,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order placed")
	return order, nil
}

func validatePlace(input PlaceInput) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Currency))
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	for i, it := range input.Items {
		switch {
		case it.VendorID == uuid.Nil, it.ProductID == uuid.Nil, it.WarehouseID == uuid.Nil:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: vendor, product and warehouse are required", i)).
				WithDetails(map[string]any{"index": i})
		case it.Quantity <= 0:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: quantity must be positive", i)).
				WithDetails(map[string]any{"index": i})
		case it.UnitPriceCents < 0:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d: unit price must not be negative", i)).
				WithDetails(map[string]any{"index": i})
		}
	}
	return nil
}

func reservation(order *models.Order, item models.OrderItem) inventory.Request {
	return inventory.Request{
		Key: inventory.Key{
			WarehouseID: item.WarehouseID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
		},
		Quantity:  item.Quantity,
		Reference: inventory.Reference{Type: ReferenceOrder, ID: order.ID.String()},
	}
}

// Get returns the order with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// LockTx loads the order FOR UPDATE inside tx.
func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindForUpdate(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// SetStatusTx moves the order to status inside tx.
func (s *Service) SetStatusTx(ctx context.Context, tx *gorm.DB, order *models.Order, status enums.OrderStatus) error {
	if err := s.repo.WithTx(tx).UpdateStatus(ctx, order.ID, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order.Status = status
	return nil
}

// ReleaseReservationsTx hands every line's reservation back. Lines whose
// reservation is already gone are skipped by the ledger.
func (s *Service) ReleaseReservationsTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) (int, error) {
	released := 0
	for _, item := range order.Items {
		req := reservation(order, item)
		req.Reason = reason
		ok, err := s.inventory.ReleaseTx(ctx, tx, req)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationReleased,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          payloads.ReservationReleasedEvent{OrderID: order.ID, Reason: reason, Items: released},
	})
	return released, err
}

// ReReserveTx reserves every line again for a payment retry on a
// payment_failed order and restarts the reservation window.
func (s *Service) ReReserveTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.Status != enums.OrderStatusPaymentFailed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status))
	}
	for _, item := range order.Items {
		if err := s.inventory.ReserveTx(ctx, tx, reservation(order, item)); err != nil {
			return err
		}
	}
	expires := s.now().Add(s.ttl)
	repo := s.repo.WithTx(tx)
	if err := repo.ExtendReservation(ctx, order.ID, expires); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extend reservation")
	}
	order.ReservationExpiresAt = expires
	return s.SetStatusTx(ctx, tx, order, enums.OrderStatusPending)
}

// Cancel abandons an unpaid order.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.Status.AcceptsPayment() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s", order.Status)).
				WithDetails(map[string]any{"status": order.Status})
		}
		if err := s.close(ctx, tx, order, enums.OrderStatusCancelled, ReasonCancelled); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, id.String()), "order cancelled")
	return out, nil
}

// Expire closes one pending order whose reservation window elapsed. It reports
// false when the order changed state since it was listed.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending || !order.ReservationExpiresAt.Before(s.now()) {
			return nil
		}
		if err := s.close(ctx, tx, order, enums.OrderStatusExpired, ReasonReservationExpiry); err != nil {
			return err
		}
		expired = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data:          payloads.OrderExpiredEvent{OrderID: order.ID},
		})
	})
	return expired, err
}

// ListExpired returns pending orders whose reservation window ended before now.
func (s *Service) ListExpired(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.repo.ListExpiredPending(ctx, s.now(), limit)
}

func (s *Service) close(ctx context.Context, tx *gorm.DB, order *models.Order, status enums.OrderStatus, reason string) error {
	if order.Status == enums.OrderStatusPending {
		if _, err := s.ReleaseReservationsTx(ctx, tx, order, reason); err != nil {
			return err
		}
	}
	if s.payments != nil {
		if _, err := s.payments.FailPendingTx(ctx, tx, order.ID, reason); err != nil {
			return err
		}
	}
	return s.SetStatusTx(ctx, tx, order, status)
}
