package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/api/validators"
	"github.com/angelmondragon/commerce-engine/internal/orders"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type OrderService interface {
	Place(ctx context.Context, input orders.PlaceInput) (*models.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type placeOrderItem struct {
	VendorID       string `json:"vendor_id" validate:"required,uuid"`
	ProductID      string `json:"product_id" validate:"required,uuid"`
	VariantID      string `json:"variant_id" validate:"omitempty,uuid"`
	WarehouseID    string `json:"warehouse_id" validate:"required,uuid"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"min=0"`
	Quantity       int    `json:"quantity" validate:"required,min=1"`
}

type placeOrderRequest struct {
	CustomerID string           `json:"customer_id" validate:"required,uuid"`
	Currency   string           `json:"currency" validate:"required"`
	Items      []placeOrderItem `json:"items" validate:"required,min=1,max=100,dive"`
}

type orderItemResponse struct {
	ID             uuid.UUID  `json:"id"`
	VendorID       uuid.UUID  `json:"vendor_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	VariantID      *uuid.UUID `json:"variant_id,omitempty"`
	WarehouseID    uuid.UUID  `json:"warehouse_id"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Quantity       int        `json:"quantity"`
}

type orderResponse struct {
	ID                   uuid.UUID           `json:"id"`
	CustomerID           uuid.UUID           `json:"customer_id"`
	Status               enums.OrderStatus   `json:"status"`
	TotalCents           int64               `json:"total_cents"`
	Currency             enums.Currency      `json:"currency"`
	ReservationExpiresAt time.Time           `json:"reservation_expires_at"`
	Items                []orderItemResponse `json:"items,omitempty"`
}

func newOrderResponse(o *models.Order) orderResponse {
	out := orderResponse{
		ID:                   o.ID,
		CustomerID:           o.CustomerID,
		Status:               o.Status,
		TotalCents:           o.TotalCents,
		Currency:             o.Currency,
		ReservationExpiresAt: o.ReservationExpiresAt,
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, orderItemResponse{
			ID:             it.ID,
			VendorID:       it.VendorID,
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			WarehouseID:    it.WarehouseID,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
		})
	}
	return out
}

// PlaceOrder creates an order and reserves stock for every line.
func PlaceOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		var req placeOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency").WithDetails(map[string]any{"field": "currency"}))
			return
		}

		input := orders.PlaceInput{
			CustomerID: uuid.MustParse(req.CustomerID),
			Currency:   currency,
			Items:      make([]orders.PlaceItem, 0, len(req.Items)),
		}
		for _, it := range req.Items {
			item := orders.PlaceItem{
				VendorID:       uuid.MustParse(it.VendorID),
				ProductID:      uuid.MustParse(it.ProductID),
				WarehouseID:    uuid.MustParse(it.WarehouseID),
				UnitPriceCents: it.UnitPriceCents,
				Quantity:       it.Quantity,
			}
			if it.VariantID != "" {
				variant := uuid.MustParse(it.VariantID)
				item.VariantID = &variant
			}
			input.Items = append(input.Items, item)
		}

		order, err := svc.Place(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// CancelOrder abandons an unpaid order and releases its reservations.
func CancelOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		order, err := svc.Cancel(logg.WithOrderID(ctx, orderID.String()), orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
