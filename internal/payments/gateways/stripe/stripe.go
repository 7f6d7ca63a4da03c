// Package stripe adapts PaymentIntents to the gateway contract.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	stripego "github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgstripe "github.com/angelmondragon/commerce-engine/pkg/stripe"
)

const signatureHeader = "Stripe-Signature"

// MetadataPaymentID and MetadataOrderID are stamped on every intent.
const (
	MetadataPaymentID = "payment_id"
	MetadataOrderID   = "order_id"
)

type api interface {
	CreatePaymentIntent(ctx context.Context, p pkgstripe.IntentParams) (*stripego.PaymentIntent, error)
	Refund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (*stripego.Refund, error)
}

type Gateway struct {
	api    api
	secret string
}

func New(client api, signingSecret string) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	if strings.TrimSpace(signingSecret) == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &Gateway{api: client, secret: signingSecret}, nil
}

func (g *Gateway) Name() enums.PaymentGateway {
	return enums.GatewayStripe
}

func (g *Gateway) CreateIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.IntentResult, error) {
	intent, err := g.api.CreatePaymentIntent(ctx, pkgstripe.IntentParams{
		AmountCents:    req.AmountCents,
		Currency:       string(req.Currency),
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: map[string]string{
			MetadataPaymentID: req.PaymentID,
			MetadataOrderID:   req.OrderID,
		},
	})
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(map[string]any{"id": intent.ID, "status": intent.Status})
	return &gateways.IntentResult{
		ExternalID:   intent.ID,
		ClientSecret: intent.ClientSecret,
		Raw:          raw,
	}, nil
}

// VerifyWebhook checks Stripe-Signature, including its timestamp tolerance.
func (g *Gateway) VerifyWebhook(_ context.Context, headers http.Header, body []byte) error {
	sig := headers.Get(signatureHeader)
	if sig == "" {
		return gateways.SignatureError(g.Name(), errors.New("missing "+signatureHeader))
	}
	if _, err := pkgstripe.ConstructEvent(body, sig, g.secret); err != nil {
		return gateways.SignatureError(g.Name(), err)
	}
	return nil
}

func (g *Gateway) ParseWebhook(body []byte) (*gateways.WebhookEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	evt := &gateways.WebhookEvent{EventID: event.ID, Outcome: gateways.OutcomeIgnored, Raw: body}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return evt, nil
	}
	if event.Data == nil {
		return nil, gateways.MalformedWebhook(g.Name(), errors.New("event data missing"))
	}
	var intent stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}

	evt.ExternalID = intent.ID
	evt.PaymentRef = intent.Metadata[MetadataPaymentID]
	evt.OrderRef = intent.Metadata[MetadataOrderID]
	evt.AmountCents = intent.Amount
	evt.Currency = enums.Currency(strings.ToUpper(string(intent.Currency)))
	raw, _ := json.Marshal(map[string]any{"id": intent.ID, "status": intent.Status, "event_id": event.ID})
	evt.Raw = raw

	switch event.Type {
	case "payment_intent.succeeded":
		evt.Outcome = gateways.OutcomeSucceeded
		if intent.AmountReceived > 0 {
			evt.AmountCents = intent.AmountReceived
		}
	case "payment_intent.payment_failed":
		// the intent returns to requires_payment_method and can still be confirmed
		evt.Outcome = gateways.OutcomeIgnored
		evt.Reason = "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			evt.Reason = intent.LastPaymentError.Msg
		}
	case "payment_intent.canceled":
		evt.Outcome = gateways.OutcomeFailed
		evt.Reason = "canceled"
		if intent.CancellationReason != "" {
			evt.Reason = string(intent.CancellationReason)
		}
	}
	return evt, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateways.RefundRequest) (*gateways.RefundResult, error) {
	refund, err := g.api.Refund(ctx, req.ExternalID, req.AmountCents, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if refund.Status == stripego.RefundStatusFailed || refund.Status == stripego.RefundStatusCanceled {
		return nil, gateways.Rejected(g.Name(), "refund "+string(refund.Status))
	}
	return &gateways.RefundResult{RefundID: refund.ID, Status: string(refund.Status)}, nil
}
