package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/commerce-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

func TestNewClientValidatesKeys(t *testing.T) {
	if _, err := NewClient(context.Background(), config.StripeConfig{APIKey: "", WebhookSecret: "whsec"}, nil); !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("expected api key error, got %v", err)
	}
	if _, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1"}, nil); !errors.Is(err, errSecretRequired) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if _, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_live_1", WebhookSecret: "whsec", Env: "test"}, nil); err == nil {
		t.Fatalf("expected live key rejected in test env")
	}
	if _, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec", Env: "staging"}, nil); !errors.Is(err, errInvalidStripeEnv) {
		t.Fatalf("expected env error, got %v", err)
	}
	c, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Environment() != testEnv || c.SigningSecret() != "whsec" {
		t.Fatalf("unexpected client %+v", c)
	}
}

func TestMapStripeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{"card declined", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Code: stripe.ErrorCodeCardDeclined, Msg: "declined"}, pkgerrors.CodeGatewayRejected},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, pkgerrors.CodeDependency},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, pkgerrors.CodeDependency},
		{"bad key", &stripe.Error{HTTPStatusCode: http.StatusUnauthorized}, pkgerrors.CodeUnauthorized},
		{"network", errors.New("dial tcp: timeout"), pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := pkgerrors.CodeOf(mapStripeError(tt.err, "op")); got != tt.want {
			t.Fatalf("%s: expected %s got %s", tt.name, tt.want, got)
		}
	}
}
