// Package square charges card nonces through the Square Payments API.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/security"
	pkgsquare "github.com/angelmondragon/commerce-engine/pkg/square"
)

const SignatureHeader = "X-Square-Hmacsha256-Signature"

type api interface {
	CreatePayment(ctx context.Context, params pkgsquare.PaymentCreateParams) (*pkgsquare.Payment, error)
	RefundPayment(ctx context.Context, params pkgsquare.RefundParams) (*pkgsquare.Refund, error)
}

type Gateway struct {
	api             api
	signatureKey    string
	notificationURL string
}

func New(client api, signatureKey, notificationURL string) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("square client is required")
	}
	if strings.TrimSpace(signatureKey) == "" {
		return nil, errors.New("square webhook signature key is required")
	}
	if strings.TrimSpace(notificationURL) == "" {
		return nil, errors.New("square notification url is required")
	}
	return &Gateway{api: client, signatureKey: signatureKey, notificationURL: notificationURL}, nil
}

// NewFromClient wires the shared pkg/square client.
func NewFromClient(client *pkgsquare.Client) (*Gateway, error) {
	return New(client, client.SigningSecret(), client.NotificationURL())
}

func (g *Gateway) Name() enums.PaymentGateway {
	return enums.GatewaySquare
}

// CreateIntent charges the SourceToken immediately; the outcome still arrives
// through payment.updated.
func (g *Gateway) CreateIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.IntentResult, error) {
	if strings.TrimSpace(req.SourceToken) == "" {
		return nil, gateways.Rejected(g.Name(), "source token is required")
	}
	payment, err := g.api.CreatePayment(ctx, pkgsquare.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       string(req.Currency),
		SourceID:       req.SourceToken,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.PaymentID,
		ReferenceID:    req.OrderID,
	})
	if err != nil {
		return nil, err
	}
	if payment.Status == "FAILED" || payment.Status == "CANCELED" {
		return nil, gateways.Rejected(g.Name(), "payment "+strings.ToLower(payment.Status))
	}
	raw, _ := json.Marshal(map[string]string{"id": payment.ID, "status": payment.Status})
	return &gateways.IntentResult{ExternalID: payment.ID, Raw: raw}, nil
}

// VerifyWebhook checks the base64 HMAC over notification URL plus body.
func (g *Gateway) VerifyWebhook(_ context.Context, headers http.Header, body []byte) error {
	signed := append([]byte(g.notificationURL), body...)
	if err := security.VerifySignatureBase64(signed, headers.Get(SignatureHeader), g.signatureKey); err != nil {
		return gateways.SignatureError(g.Name(), err)
	}
	return nil
}

type notification struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		ID     string `json:"id"`
		Object struct {
			Payment *paymentObject `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

type paymentObject struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
	Note        string `json:"note"`
	AmountMoney struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"amount_money"`
}

func (g *Gateway) ParseWebhook(body []byte) (*gateways.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	evt := &gateways.WebhookEvent{EventID: n.EventID, Outcome: gateways.OutcomeIgnored, Raw: body}
	if n.Type != "payment.updated" && n.Type != "payment.created" {
		return evt, nil
	}
	p := n.Data.Object.Payment
	if p == nil {
		return nil, gateways.MalformedWebhook(g.Name(), errors.New("payment object missing"))
	}
	evt.ExternalID = p.ID
	evt.PaymentRef = p.Note
	evt.OrderRef = p.ReferenceID
	evt.AmountCents = p.AmountMoney.Amount
	evt.Currency = enums.Currency(strings.ToUpper(p.AmountMoney.Currency))
	switch p.Status {
	case "COMPLETED":
		evt.Outcome = gateways.OutcomeSucceeded
	case "FAILED", "CANCELED":
		evt.Outcome = gateways.OutcomeFailed
		evt.Reason = strings.ToLower(p.Status)
	}
	return evt, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateways.RefundRequest) (*gateways.RefundResult, error) {
	refund, err := g.api.RefundPayment(ctx, pkgsquare.RefundParams{
		PaymentID:      req.ExternalID,
		AmountCents:    req.AmountCents,
		Currency:       string(req.Currency),
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if refund.Status == "REJECTED" || refund.Status == "FAILED" {
		return nil, gateways.Rejected(g.Name(), "refund "+strings.ToLower(refund.Status))
	}
	return &gateways.RefundResult{RefundID: refund.ID, Status: refund.Status}, nil
}
