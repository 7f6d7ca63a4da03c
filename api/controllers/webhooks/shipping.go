package webhooks

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/commerce-engine/api/responses"
	"github.com/angelmondragon/commerce-engine/internal/shipping"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type ShippingWebhookService interface {
	ProcessWebhook(ctx context.Context, courier string, headers http.Header, body []byte) (*shipping.StatusUpdate, error)
}

// ShippingWebhook applies a courier status update and echoes it back.
func ShippingWebhook(svc ShippingWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping service unavailable"))
			return
		}
		body, err := readBody(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		courier := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "courier")))
		update, err := svc.ProcessWebhook(logg.WithField(ctx, "courier", courier), courier, r.Header, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, update)
	}
}
