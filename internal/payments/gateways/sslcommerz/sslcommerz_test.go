package sslcommerz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

const storePassword = "store-secret"

func newGateway(t *testing.T, baseURL string) *Gateway {
	t.Helper()
	gw, err := New(config.SSLCommerzConfig{StoreID: "store", StorePassword: storePassword, Sandbox: true}, nil, baseURL)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func signedIPN(status string) url.Values {
	values := url.Values{}
	values.Set("tran_id", "pay-1")
	values.Set("val_id", "val-1")
	values.Set("amount", "130.00")
	values.Set("currency", "BDT")
	values.Set("status", status)
	values.Set("bank_tran_id", "bank-9")
	values.Set("value_a", "order-1")
	Sign(values, []string{"tran_id", "val_id", "amount", "currency", "status", "bank_tran_id", "value_a"}, storePassword)
	return values
}

func TestVerifyWebhookAcceptsValidSign(t *testing.T) {
	gw := newGateway(t, "")
	body := []byte(signedIPN("VALID").Encode())
	if err := gw.VerifyWebhook(context.Background(), http.Header{}, body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyWebhookRejectsTamperedAmount(t *testing.T) {
	gw := newGateway(t, "")
	values := signedIPN("VALID")
	values.Set("amount", "1.00")
	err := gw.VerifyWebhook(context.Background(), http.Header{}, []byte(values.Encode()))
	if !errors.Is(err, gateways.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeSecurity {
		t.Fatalf("expected security code, got %s", pkgerrors.CodeOf(err))
	}
}

func TestVerifyWebhookRejectsUnsignedBody(t *testing.T) {
	gw := newGateway(t, "")
	err := gw.VerifyWebhook(context.Background(), http.Header{}, []byte("tran_id=pay-1&status=VALID"))
	if !errors.Is(err, gateways.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestParseWebhookOutcomes(t *testing.T) {
	gw := newGateway(t, "")
	evt, err := gw.ParseWebhook([]byte(signedIPN("VALID").Encode()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Outcome != gateways.OutcomeSucceeded || evt.AmountCents != 13000 || evt.EventID != "val-1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.ExternalID != "pay-1" || evt.OrderRef != "order-1" || evt.Currency != enums.CurrencyBDT {
		t.Fatalf("unexpected refs %+v", evt)
	}

	failed, err := gw.ParseWebhook([]byte(signedIPN("FAILED").Encode()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if failed.Outcome != gateways.OutcomeFailed || failed.Reason != "failed" {
		t.Fatalf("unexpected failed event %+v", failed)
	}
}

func TestCreateIntentReturnsGatewayPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gwprocess/v4/api.php" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("total_amount") != "130.00" || r.PostForm.Get("tran_id") != "pay-1" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"SUCCESS","sessionkey":"sess","GatewayPageURL":"https://pay.example/sess"}`))
	}))
	defer srv.Close()

	gw := newGateway(t, srv.URL)
	res, err := gw.CreateIntent(context.Background(), gateways.IntentRequest{
		PaymentID: "pay-1", OrderID: "order-1", AmountCents: 13000, Currency: enums.CurrencyBDT,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if res.RedirectURL != "https://pay.example/sess" || res.ExternalID != "pay-1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCreateIntentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"FAILED","failedreason":"Store Credential Error"}`))
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL).CreateIntent(context.Background(), gateways.IntentRequest{PaymentID: "p", AmountCents: 100, Currency: enums.CurrencyBDT})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeGatewayRejected {
		t.Fatalf("expected gateway rejected, got %v", err)
	}
}

func TestRefundUsesStoredBankTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bank_tran_id") != "bank-9" || r.URL.Query().Get("refund_amount") != "50.00" {
			t.Errorf("unexpected query %v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`{"APIConnect":"DONE","status":"success","refund_ref_id":"rf-1"}`))
	}))
	defer srv.Close()

	res, err := newGateway(t, srv.URL).Refund(context.Background(), gateways.RefundRequest{
		ExternalID:  "pay-1",
		AmountCents: 5000,
		Stored:      []byte(`{"bank_tran_id":"bank-9"}`),
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.RefundID != "rf-1" {
		t.Fatalf("unexpected refund id %s", res.RefundID)
	}
}

func TestServerErrorIsDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newGateway(t, srv.URL).CreateIntent(context.Background(), gateways.IntentRequest{PaymentID: "p", AmountCents: 100, Currency: enums.CurrencyBDT})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
