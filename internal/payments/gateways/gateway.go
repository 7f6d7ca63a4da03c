// Package gateways defines the provider-neutral payment adapter contract.
// Every adapter verifies a webhook before anything parses it.
package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

// ErrInvalidSignature is wrapped by every webhook verification failure.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Outcome is what a webhook means for the payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeIgnored covers provider events that do not move a payment.
	OutcomeIgnored Outcome = "ignored"
)

// Customer is optional contact data some providers require on intent creation.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type IntentRequest struct {
	PaymentID      string
	OrderID        string
	AmountCents    int64
	Currency       enums.Currency
	IdempotencyKey string
	Description    string
	Customer       Customer
	// SourceToken is a client-side card nonce for providers that charge directly.
	SourceToken string
}

type IntentResult struct {
	ExternalID   string
	RedirectURL  string
	ClientSecret string
	Raw          json.RawMessage
}

type RefundRequest struct {
	ExternalID     string
	AmountCents    int64
	Currency       enums.Currency
	IdempotencyKey string
	Reason         string
	// Stored is the last provider payload kept on the payment; some providers
	// need an id from the capture notification to refund.
	Stored json.RawMessage
}

type RefundResult struct {
	RefundID string
	Status   string
}

// WebhookEvent is a verified provider notification reduced to what reconciliation needs.
type WebhookEvent struct {
	EventID     string
	ExternalID  string
	PaymentRef  string
	OrderRef    string
	Outcome     Outcome
	Reason      string
	AmountCents int64
	Currency    enums.Currency
	Raw         json.RawMessage
}

// Gateway is implemented once per provider.
type Gateway interface {
	Name() enums.PaymentGateway
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// SignatureError marks a verification failure as a security violation.
func SignatureError(gateway enums.PaymentGateway, cause error) error {
	err := fmt.Errorf("%s: %w", gateway, ErrInvalidSignature)
	if cause != nil && !errors.Is(cause, ErrInvalidSignature) {
		err = fmt.Errorf("%s: %w: %v", gateway, ErrInvalidSignature, cause)
	}
	return pkgerrors.Wrap(pkgerrors.CodeSecurity, err, "webhook signature verification failed")
}

// Rejected reports a provider refusing a well-formed request.
func Rejected(gateway enums.PaymentGateway, reason string) error {
	return pkgerrors.New(pkgerrors.CodeGatewayRejected, fmt.Sprintf("%s rejected the request: %s", gateway, reason)).
		WithDetails(map[string]any{"gateway": gateway, "reason": reason})
}

// MalformedWebhook reports a verified body that could not be decoded.
func MalformedWebhook(gateway enums.PaymentGateway, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("malformed %s webhook", gateway))
}

// Registry resolves adapters by gateway name.
type Registry struct {
	gateways map[enums.PaymentGateway]Gateway
}

func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[enums.PaymentGateway]Gateway, len(gws))}
	for _, gw := range gws {
		if gw != nil {
			r.gateways[gw.Name()] = gw
		}
	}
	return r
}

// Get returns the adapter or a validation error for unknown and unconfigured gateways.
func (r *Registry) Get(name enums.PaymentGateway) (Gateway, error) {
	if gw, ok := r.gateways[name]; ok {
		return gw, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment gateway %q", name))
}

// Names lists configured gateways in sorted order.
func (r *Registry) Names() []enums.PaymentGateway {
	out := make([]enums.PaymentGateway, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
