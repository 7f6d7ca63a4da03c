package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/api/validators"
	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type PaymentInitiator interface {
	Initiate(ctx context.Context, input payments.InitiateInput) (*payments.InitiateResult, error)
}

type PaymentRefunder interface {
	Refund(ctx context.Context, input payments.RefundInput) (*models.Payment, error)
}

type initiatePaymentRequest struct {
	OrderID     string `json:"order_id" validate:"required,uuid"`
	Gateway     string `json:"gateway" validate:"required"`
	SourceToken string `json:"source_token"`
	Customer    *struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email" validate:"omitempty,email"`
		Phone string `json:"phone"`
	} `json:"customer"`
}

// InitiatePayment opens a payment intent for a pending order. The optional
// Idempotency-Key header is forwarded to the service, which replays the
// original attempt for a reused key.
func InitiatePayment(svc PaymentInitiator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var req initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		gateway, err := enums.ParsePaymentGateway(req.Gateway)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown gateway").WithDetails(map[string]any{"field": "gateway"}))
			return
		}

		input := payments.InitiateInput{
			OrderID:        uuid.MustParse(req.OrderID),
			Gateway:        gateway,
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
			SourceToken:    strings.TrimSpace(req.SourceToken),
		}
		if req.Customer != nil {
			input.Customer = gateways.Customer{
				ID:    req.Customer.ID,
				Name:  validators.SanitizeString(req.Customer.Name, 120),
				Email: strings.TrimSpace(req.Customer.Email),
				Phone: strings.TrimSpace(req.Customer.Phone),
			}
		}

		result, err := svc.Initiate(logg.WithOrderID(ctx, req.OrderID), input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
	Reason      string `json:"reason"`
}

type paymentResponse struct {
	ID            uuid.UUID            `json:"id"`
	OrderID       uuid.UUID            `json:"order_id"`
	Gateway       enums.PaymentGateway `json:"gateway"`
	Status        enums.PaymentStatus  `json:"status"`
	AmountCents   int64                `json:"amount_cents"`
	RefundedCents int64                `json:"refunded_cents"`
	Currency      enums.Currency       `json:"currency"`
}

func newPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Gateway:       p.Gateway,
		Status:        p.Status,
		AmountCents:   p.AmountCents,
		RefundedCents: p.RefundedCents,
		Currency:      p.Currency,
	}
}

// RefundPayment refunds part or all of a completed payment. amount_cents 0
// refunds the remaining balance.
func RefundPayment(svc PaymentRefunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payment, err := svc.Refund(logg.WithPaymentID(ctx, paymentID.String()), payments.RefundInput{
			PaymentID:   paymentID,
			AmountCents: req.AmountCents,
			Reason:      validators.SanitizeString(req.Reason, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}
