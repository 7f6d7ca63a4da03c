package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

const maxWebhookBody = 1 << 20

type PaymentWebhookService interface {
	ProcessWebhook(ctx context.Context, gateway enums.PaymentGateway, headers http.Header, body []byte) (*payments.WebhookResult, error)
}

type paymentWebhookResponse struct {
	Success   bool                `json:"success"`
	Duplicate bool                `json:"duplicate,omitempty"`
	Status    enums.PaymentStatus `json:"status,omitempty"`
}

// PaymentWebhook accepts a provider notification. The raw body is handed to
// the service untouched because signatures cover the exact bytes.
func PaymentWebhook(svc PaymentWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		gateway, err := enums.ParsePaymentGateway(chi.URLParam(r, "gateway"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown gateway"))
			return
		}
		body, err := readBody(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ProcessWebhook(ctx, gateway, r.Header, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, paymentWebhookResponse{
			Success:   result.Outcome != gateways.OutcomeFailed && result.Status != enums.PaymentStatusFailed,
			Duplicate: result.Duplicate,
			Status:    result.Status,
		})
	}
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	if len(body) > maxWebhookBody {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large")
	}
	return body, nil
}
