package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/internal/shipping"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type stubPaymentWebhooks struct {
	result  *payments.WebhookResult
	err     error
	gateway enums.PaymentGateway
	body    []byte
	headers http.Header
}

func (s *stubPaymentWebhooks) ProcessWebhook(_ context.Context, gateway enums.PaymentGateway, headers http.Header, body []byte) (*payments.WebhookResult, error) {
	s.gateway = gateway
	s.headers = headers
	s.body = body
	return s.result, s.err
}

type stubShippingWebhooks struct {
	courier string
	err     error
}

func (s *stubShippingWebhooks) ProcessWebhook(_ context.Context, courier string, _ http.Header, body []byte) (*shipping.StatusUpdate, error) {
	s.courier = courier
	if s.err != nil {
		return nil, s.err
	}
	var update shipping.StatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "webhooks-test", Output: io.Discard})
}

func servePayment(t *testing.T, svc PaymentWebhookService, gateway, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/webhooks/payment/{gateway}", PaymentWebhook(svc, testLogger()))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/"+gateway, strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeSuccess(t *testing.T, rec *httptest.ResponseRecorder) paymentWebhookResponse {
	t.Helper()
	var out paymentWebhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestPaymentWebhookPassesRawRequest(t *testing.T) {
	svc := &stubPaymentWebhooks{result: &payments.WebhookResult{Outcome: gateways.OutcomeSucceeded, Status: enums.PaymentStatusCompleted}}
	body := `{"id":"evt_1", "spacing":  "kept"}`
	rec := servePayment(t, svc, "Stripe", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.gateway != enums.GatewayStripe {
		t.Fatalf("unexpected gateway %s", svc.gateway)
	}
	if string(svc.body) != body {
		t.Fatalf("body altered: %q", svc.body)
	}
	if svc.headers.Get("Stripe-Signature") == "" {
		t.Fatal("headers not forwarded")
	}
	if out := decodeSuccess(t, rec); !out.Success {
		t.Fatalf("expected success true, got %+v", out)
	}
}

func TestPaymentWebhookOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		result  payments.WebhookResult
		success bool
	}{
		{"failed payment", payments.WebhookResult{Outcome: gateways.OutcomeFailed, Status: enums.PaymentStatusFailed}, false},
		{"late capture", payments.WebhookResult{Outcome: gateways.OutcomeSucceeded, Status: enums.PaymentStatusFailed, Duplicate: true}, false},
		{"replay", payments.WebhookResult{Outcome: gateways.OutcomeSucceeded, Status: enums.PaymentStatusCompleted, Duplicate: true}, true},
		{"ignored", payments.WebhookResult{Outcome: gateways.OutcomeIgnored}, true},
	}
	for _, tt := range tests {
		result := tt.result
		rec := servePayment(t, &stubPaymentWebhooks{result: &result}, "sslcommerz", `{}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", tt.name, rec.Code)
		}
		out := decodeSuccess(t, rec)
		if out.Success != tt.success || out.Duplicate != tt.result.Duplicate {
			t.Fatalf("%s: unexpected response %+v", tt.name, out)
		}
	}
}

func TestPaymentWebhookErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		gateway string
		err     error
		want    int
	}{
		{"signature", "bkash", pkgerrors.New(pkgerrors.CodeSecurity, "bad signature"), http.StatusForbidden},
		{"internal", "bkash", errors.New("db down"), http.StatusInternalServerError},
		{"unmatched payment", "paypal", pkgerrors.New(pkgerrors.CodeNotFound, "no payment"), http.StatusNotFound},
		{"unknown gateway", "venmo", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		svc := &stubPaymentWebhooks{err: tt.err}
		rec := servePayment(t, svc, tt.gateway, `{}`)
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestPaymentWebhookRejectsOversizedBody(t *testing.T) {
	svc := &stubPaymentWebhooks{result: &payments.WebhookResult{}}
	rec := servePayment(t, svc, "stripe", strings.Repeat("a", maxWebhookBody+1))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.body != nil {
		t.Fatal("service should not be reached")
	}
}

func TestShippingWebhookEchoesUpdate(t *testing.T) {
	svc := &stubShippingWebhooks{}
	r := chi.NewRouter()
	r.Post("/webhooks/shipping/{courier}", ShippingWebhook(svc, testLogger()))

	body := `{"tracking_code":"SF123","status":"delivered"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shipping/Steadfast", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != body {
		t.Fatalf("expected echo %s got %s", body, rec.Body.String())
	}
	if svc.courier != "steadfast" {
		t.Fatalf("courier not normalised: %s", svc.courier)
	}

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/shipping/steadfast", strings.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
