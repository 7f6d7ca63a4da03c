package payouts

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/commerce-engine/pkg/breaker"
)

type stripeTransferAPI interface {
	Transfer(ctx context.Context, destination string, amountCents int64, currency, group, idempotencyKey string) (*stripe.Transfer, error)
}

// StripeConnectTransferer sends payouts to connected accounts through the stripe breaker.
type StripeConnectTransferer struct {
	api     stripeTransferAPI
	breaker *breaker.Breaker
}

func NewStripeConnectTransferer(api stripeTransferAPI, b *breaker.Breaker) *StripeConnectTransferer {
	return &StripeConnectTransferer{api: api, breaker: b}
}

func (t *StripeConnectTransferer) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	var transferID string
	err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		transfer, err := t.api.Transfer(ctx, req.Destination, req.AmountCents, string(req.Currency), req.Group, req.IdempotencyKey)
		if err != nil {
			return err
		}
		transferID = transfer.ID
		return nil
	})
	return transferID, err
}
