package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/internal/payouts"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubPayments struct {
	webhooks int
}

func (s *stubPayments) Initiate(context.Context, payments.InitiateInput) (*payments.InitiateResult, error) {
	return &payments.InitiateResult{PaymentID: uuid.New(), Status: enums.PaymentStatusPending}, nil
}

func (s *stubPayments) Refund(_ context.Context, input payments.RefundInput) (*models.Payment, error) {
	return &models.Payment{ID: input.PaymentID}, nil
}

func (s *stubPayments) ProcessWebhook(context.Context, enums.PaymentGateway, http.Header, []byte) (*payments.WebhookResult, error) {
	s.webhooks++
	return &payments.WebhookResult{Outcome: gateways.OutcomeSucceeded, Status: enums.PaymentStatusCompleted}, nil
}

type stubLedger struct{}

func (stubLedger) Balance(context.Context, uuid.UUID) (int64, error) { return 600, nil }

func (stubLedger) Entries(context.Context, uuid.UUID, int) ([]models.VendorLedgerEntry, error) {
	return nil, nil
}

type stubPayouts struct {
	runs int
}

func (s *stubPayouts) ProcessPayouts(context.Context, int64) (*payouts.RunSummary, error) {
	s.runs++
	return &payouts.RunSummary{}, nil
}

func (s *stubPayouts) Complete(context.Context, uuid.UUID, string) error { return nil }

func (s *stubPayouts) Fail(context.Context, uuid.UUID, string) error { return nil }

func (s *stubPayouts) Get(_ context.Context, id uuid.UUID) (*models.VendorPayout, error) {
	return &models.VendorPayout{ID: id}, nil
}

type harness struct {
	handler  http.Handler
	payments *stubPayments
	payouts  *stubPayouts
}

func newHarness() *harness {
	cfg := &config.Config{
		App:      config.AppConfig{Env: "dev", InternalToken: "ops-token"},
		Commerce: config.CommerceConfig{MinPayoutCents: 500},
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total"}))
	h := &harness{payments: &stubPayments{}, payouts: &stubPayouts{}}
	h.handler = NewRouter(Params{
		Config:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}),
		DB:       stubPinger{},
		Redis:    stubPinger{},
		Gatherer: reg,
		Payments: h.payments,
		Ledger:   stubLedger{},
		Payouts:  h.payouts,
	})
	return h
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	h := newHarness()

	for _, path := range []string{"/health/live", "/health/ready"} {
		if rec := h.do(http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "router_test_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}

	rec = h.do(http.MethodPost, "/webhooks/payment/stripe", `{}`, nil)
	if rec.Code != http.StatusOK || h.payments.webhooks != 1 {
		t.Fatalf("payment webhook not routed: %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id middleware not applied")
	}
}

func TestInternalRoutesRequireToken(t *testing.T) {
	h := newHarness()
	vendor := "/internal/vendors/" + uuid.NewString() + "/balance"

	if rec := h.do(http.MethodGet, vendor, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, vendor, "", map[string]string{"X-Internal-Token": "ops-token"}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestInternalMutationsWithoutReplayStore(t *testing.T) {
	h := newHarness()
	headers := map[string]string{"X-Internal-Token": "ops-token"}

	if rec := h.do(http.MethodPost, "/internal/payouts/run", "", headers); rec.Code != http.StatusOK {
		t.Fatalf("expected payout run, got %d", rec.Code)
	}
	if h.payouts.runs != 1 {
		t.Fatalf("expected one payout run, got %d", h.payouts.runs)
	}
}

func TestUnconfiguredServiceReportsInternalError(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodPost, "/webhooks/shipping/steadfast", `{"tracking_code":"x","status":"delivered"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}
