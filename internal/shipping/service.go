// Package shipping books one courier shipment per vendor sub-order of a paid
// order and tracks delivery from courier webhooks.
package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commerce-engine/internal/tasks"
	"github.com/angelmondragon/commerce-engine/pkg/breaker"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
	"github.com/angelmondragon/commerce-engine/pkg/outbox"
	"github.com/angelmondragon/commerce-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/commerce-engine/pkg/security"
)

const (
	SignatureHeader = "X-Courier-Signature"
	RetryDelay      = 5 * time.Minute
)

// CreatePayload is the shipment.create task body.
type CreatePayload struct {
	OrderID  uuid.UUID `json:"order_id"`
	VendorID uuid.UUID `json:"vendor_id"`
}

// DedupeKey keeps one shipment.create task per vendor sub-order.
func DedupeKey(orderID, vendorID uuid.UUID) string {
	return fmt.Sprintf("shipment:%s:%s", orderID, vendorID)
}

// BreakerName is the breaker guarding calls to courier.
func BreakerName(courier string) string {
	return "courier:" + courier
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	SetStatusTx(ctx context.Context, tx *gorm.DB, order *models.Order, status enums.OrderStatus) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo          Repository
	TxRunner      txRunner
	Courier       Courier
	Breaker       *breaker.Breaker
	Orders        orderService
	Outbox        eventEmitter
	Logger        *logger.Logger
	WebhookSecret string
}

type Service struct {
	repo    Repository
	tx      txRunner
	courier Courier
	breaker *breaker.Breaker
	orders  orderService
	outbox  eventEmitter
	logg    *logger.Logger
	secret  string
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("shipment repository required")
	case params.TxRunner == nil:
		return nil, errors.New("transaction runner required")
	case params.Courier == nil:
		return nil, errors.New("courier required")
	case params.Breaker == nil:
		return nil, errors.New("courier breaker required")
	case params.Orders == nil:
		return nil, errors.New("order service required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	return &Service{
		repo:    params.Repo,
		tx:      params.TxRunner,
		courier: params.Courier,
		breaker: params.Breaker,
		orders:  params.Orders,
		outbox:  params.Outbox,
		logg:    params.Logger,
		secret:  params.WebhookSecret,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Registration wires the shipment.create handler with its fixed retry delay.
func (s *Service) Registration() tasks.Registration {
	return tasks.Registration{
		Kind:    enums.TaskShipmentCreate,
		Handle:  s.HandleCreate,
		Backoff: tasks.Fixed(RetryDelay),
		OnDead:  s.OnCreateDead,
	}
}

// HandleCreate books the vendor's parcel. A courier error returns to the queue,
// which retries after RetryDelay.
func (s *Service) HandleCreate(ctx context.Context, task models.Task) error {
	payload, err := tasks.Decode[CreatePayload](task)
	if err != nil {
		return err
	}
	ctx = s.logg.WithVendorID(s.logg.WithOrderID(ctx, payload.OrderID.String()), payload.VendorID.String())

	order, err := s.orders.Get(ctx, payload.OrderID)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			return tasks.Permanent(err)
		}
		return err
	}
	switch order.Status {
	case enums.OrderStatusPaid, enums.OrderStatusFulfilled:
	default:
		s.logg.Warn(ctx, "shipment skipped: order is "+string(order.Status))
		return nil
	}

	shipment, err := s.repo.FindOrCreate(ctx, payload.OrderID, payload.VendorID, s.courier.Name())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	if shipment.TrackingCode != nil {
		return nil
	}

	var booking *Booking
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		booking, err = s.courier.Book(ctx, BookingRequest{
			Invoice:  shipment.ID.String(),
			OrderID:  order.ID.String(),
			VendorID: payload.VendorID.String(),
			Note:     "order " + order.ID.String(),
		})
		return err
	})
	if err != nil {
		msg := err.Error()
		if updateErr := s.repo.Update(ctx, shipment.ID, map[string]any{"last_error": msg}); updateErr != nil {
			s.logg.Error(ctx, "record shipment error", updateErr)
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", task.Attempts), "shipment booking failed: "+msg)
		return err
	}

	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, shipment.ID, map[string]any{
			"tracking_code": booking.TrackingCode,
			"status":        booking.Status,
			"booked_at":     now,
			"last_error":    nil,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store booking")
		}
		shipment.TrackingCode = &booking.TrackingCode
		shipment.Status = booking.Status
		s.logg.Info(s.logg.WithField(ctx, "tracking_code", booking.TrackingCode), "shipment booked")
		return s.emit(ctx, tx, enums.EventShipmentBooked, shipment)
	})
}

// OnCreateDead leaves the shipment pending with the last error for an operator.
func (s *Service) OnCreateDead(ctx context.Context, task models.Task, cause error) error {
	payload, err := tasks.Decode[CreatePayload](task)
	if err != nil {
		return err
	}
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"order_id":  payload.OrderID.String(),
		"vendor_id": payload.VendorID.String(),
	}), "shipment booking gave up", cause)
	return nil
}

// StatusUpdate is the courier webhook body, echoed back as the acknowledgement.
type StatusUpdate struct {
	TrackingCode string `json:"tracking_code"`
	Status       string `json:"status"`
}

// ProcessWebhook verifies the optional signature and applies a status update.
func (s *Service) ProcessWebhook(ctx context.Context, courier string, headers http.Header, body []byte) (*StatusUpdate, error) {
	if courier != s.courier.Name() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported courier %q", courier))
	}
	if s.secret != "" {
		if err := security.VerifySignature(body, headers.Get(SignatureHeader), s.secret); err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"event":   "webhook.security_violation",
				"courier": courier,
			}), "courier webhook signature rejected")
			return nil, pkgerrors.Wrap(pkgerrors.CodeSecurity, err, "courier signature verification failed")
		}
	}
	var update StatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed courier webhook")
	}
	update.TrackingCode = strings.TrimSpace(update.TrackingCode)
	if update.TrackingCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking_code is required")
	}
	status, ok := ParseStatus(update.Status)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown shipment status %q", update.Status))
	}
	if _, err := s.ApplyStatus(ctx, update.TrackingCode, status); err != nil {
		return nil, err
	}
	return &update, nil
}

// ApplyStatus moves a shipment to status. The order is fulfilled once every
// shipment on it is delivered.
func (s *Service) ApplyStatus(ctx context.Context, trackingCode string, status enums.ShipmentStatus) (*models.Shipment, error) {
	var out *models.Shipment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shipment, err := repo.FindByTrackingForUpdate(ctx, s.courier.Name(), trackingCode)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock shipment")
		}
		if shipment == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found").
				WithDetails(map[string]any{"tracking_code": trackingCode})
		}
		out = shipment
		if shipment.Status == status {
			return nil
		}
		if err := repo.Update(ctx, shipment.ID, map[string]any{"status": status}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}
		shipment.Status = status
		if err := s.emit(ctx, tx, enums.EventShipmentStatusChanged, shipment); err != nil {
			return err
		}
		if status == enums.ShipmentStatusDelivered {
			return s.fulfillIfDelivered(ctx, tx, shipment.OrderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"tracking_code": trackingCode,
		"status":        status,
	}), "shipment status applied")
	return out, nil
}

func (s *Service) fulfillIfDelivered(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := s.orders.LockTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusPaid {
		return nil
	}
	shipments, err := s.repo.WithTx(tx).ListForOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipments")
	}
	vendors := make(map[uuid.UUID]struct{}, len(order.Items))
	for _, item := range order.Items {
		vendors[item.VendorID] = struct{}{}
	}
	if len(shipments) < len(vendors) {
		return nil
	}
	for _, sh := range shipments {
		if sh.Status != enums.ShipmentStatusDelivered {
			return nil
		}
	}
	return s.orders.SetStatusTx(ctx, tx, order, enums.OrderStatusFulfilled)
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, shipment *models.Shipment) error {
	tracking := ""
	if shipment.TrackingCode != nil {
		tracking = *shipment.TrackingCode
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Actor:         outbox.ActorSystem,
		Data: payloads.ShipmentEvent{
			ShipmentID:   shipment.ID,
			OrderID:      shipment.OrderID,
			VendorID:     shipment.VendorID,
			Courier:      shipment.Courier,
			TrackingCode: tracking,
			Status:       shipment.Status,
		},
	})
}
