package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

const captureCompleted = `{
  "id": "WH-1",
  "event_type": "PAYMENT.CAPTURE.COMPLETED",
  "resource": {
    "id": "CAP-1",
    "status": "COMPLETED",
    "custom_id": "pay-1",
    "amount": {"currency_code": "USD", "value": "130.00"},
    "supplementary_data": {"related_ids": {"order_id": "ORDER-1"}}
  }
}`

type fakePayPal struct {
	*httptest.Server
	tokenCalls   atomic.Int32
	verifyStatus string
	lastRefund   map[string]any
	requestIDs   []string
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()
	f := &fakePayPal{verifyStatus: "SUCCESS"}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "client" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokenCalls.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		f.requestIDs = append(f.requestIDs, r.Header.Get("PayPal-Request-Id"))
		_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[{"rel":"self","href":"https://x/self"},{"rel":"approve","href":"https://paypal.example/approve"}]}`))
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		if string(body["webhook_id"]) != `"hook-1"` {
			t.Errorf("unexpected webhook id %s", body["webhook_id"])
		}
		_, _ = w.Write([]byte(`{"verification_status":"` + f.verifyStatus + `"}`))
	})
	mux.HandleFunc("/v2/payments/captures/CAP-1/refund", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastRefund)
		_, _ = w.Write([]byte(`{"id":"REF-1","status":"COMPLETED"}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newGateway(t *testing.T, baseURL string) *Gateway {
	t.Helper()
	gw, err := New(config.PayPalConfig{ClientID: "client", ClientSecret: "secret", WebhookID: "hook-1"}, nil, baseURL)
	require.NoError(t, err)
	return gw
}

func transmission() http.Header {
	h := http.Header{}
	h.Set("Paypal-Auth-Algo", "SHA256withRSA")
	h.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	h.Set("Paypal-Transmission-Id", "tx-1")
	h.Set("Paypal-Transmission-Sig", "sig")
	h.Set("Paypal-Transmission-Time", "2026-10-14T10:00:00Z")
	return h
}

func TestCreateIntentReturnsApproveLink(t *testing.T) {
	srv := newFakePayPal(t)
	gw := newGateway(t, srv.URL)

	res, err := gw.CreateIntent(context.Background(), gateways.IntentRequest{
		PaymentID: "pay-1", OrderID: "order-1", AmountCents: 13000, Currency: enums.CurrencyUSD, IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, "ORDER-1", res.ExternalID)
	require.Equal(t, "https://paypal.example/approve", res.RedirectURL)
	require.Equal(t, []string{"idem-1"}, srv.requestIDs)

	_, err = gw.CreateIntent(context.Background(), gateways.IntentRequest{PaymentID: "pay-2", AmountCents: 100, Currency: enums.CurrencyUSD})
	require.NoError(t, err)
	require.Equal(t, int32(1), srv.tokenCalls.Load(), "token should be cached")
}

func TestVerifyWebhook(t *testing.T) {
	srv := newFakePayPal(t)
	gw := newGateway(t, srv.URL)
	body := []byte(captureCompleted)

	require.NoError(t, gw.VerifyWebhook(context.Background(), transmission(), body))

	srv.verifyStatus = "FAILURE"
	err := gw.VerifyWebhook(context.Background(), transmission(), body)
	require.True(t, errors.Is(err, gateways.ErrInvalidSignature))

	err = gw.VerifyWebhook(context.Background(), http.Header{}, body)
	require.Equal(t, pkgerrors.CodeSecurity, pkgerrors.CodeOf(err))
}

func TestVerifyWebhookProviderDownIsDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newGateway(t, srv.URL).VerifyWebhook(context.Background(), transmission(), []byte(captureCompleted))
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestParseWebhook(t *testing.T) {
	gw := newGateway(t, "http://unused")

	evt, err := gw.ParseWebhook([]byte(captureCompleted))
	require.NoError(t, err)
	require.Equal(t, gateways.OutcomeSucceeded, evt.Outcome)
	require.Equal(t, "WH-1", evt.EventID)
	require.Equal(t, "ORDER-1", evt.ExternalID)
	require.Equal(t, "pay-1", evt.PaymentRef)
	require.Equal(t, int64(13000), evt.AmountCents)

	var stored map[string]string
	require.NoError(t, json.Unmarshal(evt.Raw, &stored))
	require.Equal(t, "CAP-1", stored["capture_id"])

	approved, err := gw.ParseWebhook([]byte(`{"id":"WH-2","event_type":"CHECKOUT.ORDER.APPROVED","resource":{}}`))
	require.NoError(t, err)
	require.Equal(t, gateways.OutcomeIgnored, approved.Outcome)
}

func TestRefundUsesCaptureID(t *testing.T) {
	srv := newFakePayPal(t)
	gw := newGateway(t, srv.URL)

	res, err := gw.Refund(context.Background(), gateways.RefundRequest{
		AmountCents: 5000,
		Currency:    enums.CurrencyUSD,
		Stored:      []byte(`{"capture_id":"CAP-1"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "REF-1", res.RefundID)
	amount := srv.lastRefund["amount"].(map[string]any)
	require.Equal(t, "50.00", amount["value"])

	_, err = gw.Refund(context.Background(), gateways.RefundRequest{AmountCents: 100})
	require.Equal(t, pkgerrors.CodeGatewayRejected, pkgerrors.CodeOf(err))
}
