package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/api/validators"
	"github.com/angelmondragon/commerce-engine/internal/inventory"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

const operatorActor = "operator"

type StockManager interface {
	AddStock(ctx context.Context, req inventory.Request) (*models.Inventory, error)
	Adjust(ctx context.Context, req inventory.AdjustRequest) (*models.Inventory, error)
}

type inventoryKeyRequest struct {
	WarehouseID string `json:"warehouse_id" validate:"required,uuid"`
	ProductID   string `json:"product_id" validate:"required,uuid"`
	VariantID   string `json:"variant_id" validate:"omitempty,uuid"`
}

func (k inventoryKeyRequest) key() inventory.Key {
	key := inventory.Key{
		WarehouseID: uuid.MustParse(k.WarehouseID),
		ProductID:   uuid.MustParse(k.ProductID),
	}
	if k.VariantID != "" {
		variant := uuid.MustParse(k.VariantID)
		key.VariantID = &variant
	}
	return key
}

type addStockRequest struct {
	inventoryKeyRequest
	Quantity     int    `json:"quantity" validate:"required,min=1"`
	ReorderLevel *int   `json:"reorder_level" validate:"omitempty,min=0"`
	Reference    string `json:"reference"`
	Reason       string `json:"reason"`
}

type adjustStockRequest struct {
	inventoryKeyRequest
	NewQuantity *int   `json:"new_quantity" validate:"required,min=0"`
	Reason      string `json:"reason" validate:"required"`
}

type inventoryResponse struct {
	ID                uuid.UUID  `json:"id"`
	WarehouseID       uuid.UUID  `json:"warehouse_id"`
	ProductID         uuid.UUID  `json:"product_id"`
	VariantID         *uuid.UUID `json:"variant_id,omitempty"`
	Quantity          int        `json:"quantity"`
	ReservedQuantity  int        `json:"reserved_quantity"`
	AvailableQuantity int        `json:"available_quantity"`
	ReorderLevel      int        `json:"reorder_level"`
}

func newInventoryResponse(inv *models.Inventory) inventoryResponse {
	return inventoryResponse{
		ID:                inv.ID,
		WarehouseID:       inv.WarehouseID,
		ProductID:         inv.ProductID,
		VariantID:         inv.VariantID,
		Quantity:          inv.Quantity,
		ReservedQuantity:  inv.ReservedQuantity,
		AvailableQuantity: inv.AvailableQuantity(),
		ReorderLevel:      inv.ReorderLevel,
	}
}

// AddStock records a stock receipt, creating the inventory row when needed.
func AddStock(svc StockManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		var req addStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		inv, err := svc.AddStock(ctx, inventory.Request{
			Key:          req.key(),
			Quantity:     req.Quantity,
			Reference:    inventory.Reference{Type: "stock_receipt", ID: strings.TrimSpace(req.Reference)},
			Actor:        operatorActor,
			Reason:       validators.SanitizeString(req.Reason, 255),
			ReorderLevel: req.ReorderLevel,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryResponse(inv))
	}
}

// AdjustStock sets on-hand stock to an absolute quantity.
func AdjustStock(svc StockManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		var req adjustStockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		inv, err := svc.Adjust(ctx, inventory.AdjustRequest{
			Key:         req.key(),
			NewQuantity: *req.NewQuantity,
			Reason:      validators.SanitizeString(req.Reason, 255),
			Actor:       operatorActor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryResponse(inv))
	}
}
