package controllers

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
	"github.com/google/uuid"

	"github.com/angelmondragon/commerce-engine/internal/inventory"
	"github.com/angelmondragon/commerce-engine/internal/orders"
	"github.com/angelmondragon/commerce-engine/internal/payments"
	"github.com/angelmondragon/commerce-engine/internal/payouts"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/db/models"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func serve(method, pattern, path, body string, h http.HandlerFunc, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	rec, _ := serve(http.MethodGet, "/health/ready", "/health/ready", "", HealthReady(cfg, testLogger(), stubPinger{}, stubPinger{}), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}
	if rec.Header().Get("X-Commerce-Env") != "dev" {
		t.Fatal("env header missing")
	}

	rec, env := serve(http.MethodGet, "/health/ready", "/health/ready", "", HealthReady(cfg, testLogger(), stubPinger{}, stubPinger{err: errors.New("refused")}), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if env.Error.Code != string(pkgerrors.CodeDependency) {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

type stubPayments struct {
	initiate payments.InitiateInput
	refund   payments.RefundInput
	err      error
}

func (s *stubPayments) Initiate(_ context.Context, input payments.InitiateInput) (*payments.InitiateResult, error) {
	s.initiate = input
	if s.err != nil {
		return nil, s.err
	}
	return &payments.InitiateResult{PaymentID: uuid.New(), Status: enums.PaymentStatusPending, RedirectURL: "https://pay.example/redirect"}, nil
}

func (s *stubPayments) Refund(_ context.Context, input payments.RefundInput) (*models.Payment, error) {
	s.refund = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Payment{ID: input.PaymentID, Status: enums.PaymentStatusCompleted, AmountCents: 5000, RefundedCents: input.AmountCents}, nil
}

func TestInitiatePayment(t *testing.T) {
	svc := &stubPayments{}
	orderID := uuid.New()
	body := `{"order_id":"` + orderID.String() + `","gateway":"SSLCommerz","customer":{"name":"  Rahim  ","email":"r@example.com"}}`

	rec, env := serve(http.MethodPost, "/payments/initiate", "/payments/initiate", body, InitiatePayment(svc, testLogger()), map[string]string{"Idempotency-Key": " attempt-1 "})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.initiate.OrderID != orderID || svc.initiate.Gateway != enums.GatewaySSLCommerz {
		t.Fatalf("unexpected input %+v", svc.initiate)
	}
	if svc.initiate.IdempotencyKey != "attempt-1" || svc.initiate.Customer.Name != "Rahim" {
		t.Fatalf("input not normalised: %+v", svc.initiate)
	}
	var result payments.InitiateResult
	if err := json.Unmarshal(env.Data, &result); err != nil || result.RedirectURL == "" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestInitiatePaymentErrors(t *testing.T) {
	orderID := uuid.New().String()
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"unknown gateway", `{"order_id":"` + orderID + `","gateway":"venmo"}`, nil, http.StatusBadRequest},
		{"missing order", `{"gateway":"stripe"}`, nil, http.StatusBadRequest},
		{"gateway rejected", `{"order_id":"` + orderID + `","gateway":"stripe"}`, pkgerrors.New(pkgerrors.CodeGatewayRejected, "card declined"), http.StatusUnprocessableEntity},
		{"order closed", `{"order_id":"` + orderID + `","gateway":"stripe"}`, pkgerrors.New(pkgerrors.CodeStateConflict, "order is paid"), http.StatusUnprocessableEntity},
		{"breaker open", `{"order_id":"` + orderID + `","gateway":"stripe"}`, pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec, _ := serve(http.MethodPost, "/payments/initiate", "/payments/initiate", tt.body, InitiatePayment(&stubPayments{err: tt.err}, testLogger()), nil)
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestRefundPayment(t *testing.T) {
	svc := &stubPayments{}
	paymentID := uuid.New()
	rec, env := serve(http.MethodPost, "/internal/payments/{paymentId}/refund", "/internal/payments/"+paymentID.String()+"/refund",
		`{"amount_cents":1500,"reason":" damaged "}`, RefundPayment(svc, testLogger()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.refund.PaymentID != paymentID || svc.refund.AmountCents != 1500 || svc.refund.Reason != "damaged" {
		t.Fatalf("unexpected refund input %+v", svc.refund)
	}
	var out paymentResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.RefundedCents != 1500 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec, _ = serve(http.MethodPost, "/internal/payments/{paymentId}/refund", "/internal/payments/nope/refund", `{}`, RefundPayment(svc, testLogger()), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id got %d", rec.Code)
	}
}

type stubOrders struct {
	placed orders.PlaceInput
	err    error
}

func (s *stubOrders) Place(_ context.Context, input orders.PlaceInput) (*models.Order, error) {
	s.placed = input
	if s.err != nil {
		return nil, s.err
	}
	order := &models.Order{ID: uuid.New(), CustomerID: input.CustomerID, Status: enums.OrderStatusPending, Currency: input.Currency}
	for _, it := range input.Items {
		order.Items = append(order.Items, models.OrderItem{VendorID: it.VendorID, ProductID: it.ProductID, Quantity: it.Quantity, UnitPriceCents: it.UnitPriceCents})
		order.TotalCents += it.UnitPriceCents * int64(it.Quantity)
	}
	return order, nil
}

func (s *stubOrders) Cancel(_ context.Context, id uuid.UUID) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: id, Status: enums.OrderStatusCancelled}, nil
}

func TestPlaceOrder(t *testing.T) {
	svc := &stubOrders{}
	variant := uuid.New()
	body := `{"customer_id":"` + uuid.NewString() + `","currency":"bdt","items":[` +
		`{"vendor_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `","variant_id":"` + variant.String() + `","warehouse_id":"` + uuid.NewString() + `","unit_price_cents":6500,"quantity":2}]}`

	rec, env := serve(http.MethodPost, "/orders", "/orders", body, PlaceOrder(svc, testLogger()), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.placed.Currency != enums.CurrencyBDT || len(svc.placed.Items) != 1 {
		t.Fatalf("unexpected input %+v", svc.placed)
	}
	if svc.placed.Items[0].VariantID == nil || *svc.placed.Items[0].VariantID != variant {
		t.Fatal("variant not forwarded")
	}
	var out orderResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.TotalCents != 13000 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPlaceOrderErrors(t *testing.T) {
	item := `{"vendor_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `","warehouse_id":"` + uuid.NewString() + `","unit_price_cents":100,"quantity":1}`
	customer := uuid.NewString()
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"no items", `{"customer_id":"` + customer + `","currency":"BDT","items":[]}`, nil, http.StatusBadRequest},
		{"bad currency", `{"customer_id":"` + customer + `","currency":"XYZ","items":[` + item + `]}`, nil, http.StatusBadRequest},
		{"zero quantity", `{"customer_id":"` + customer + `","currency":"BDT","items":[` + strings.Replace(item, `"quantity":1`, `"quantity":0`, 1) + `]}`, nil, http.StatusBadRequest},
		{"short stock", `{"customer_id":"` + customer + `","currency":"BDT","items":[` + item + `]}`, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock"), http.StatusConflict},
	}
	for _, tt := range tests {
		rec, _ := serve(http.MethodPost, "/orders", "/orders", tt.body, PlaceOrder(&stubOrders{err: tt.err}, testLogger()), nil)
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestCancelOrder(t *testing.T) {
	id := uuid.New()
	rec, env := serve(http.MethodPost, "/orders/{orderId}/cancel", "/orders/"+id.String()+"/cancel", "", CancelOrder(&stubOrders{}, testLogger()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var out orderResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Status != enums.OrderStatusCancelled {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeStateConflict, "order is paid")}
	rec, _ = serve(http.MethodPost, "/orders/{orderId}/cancel", "/orders/"+id.String()+"/cancel", "", CancelOrder(svc, testLogger()), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

type stubStock struct {
	add    inventory.Request
	adjust inventory.AdjustRequest
}

func (s *stubStock) AddStock(_ context.Context, req inventory.Request) (*models.Inventory, error) {
	s.add = req
	return &models.Inventory{ID: uuid.New(), WarehouseID: req.WarehouseID, ProductID: req.ProductID, Quantity: req.Quantity, ReservedQuantity: 2}, nil
}

func (s *stubStock) Adjust(_ context.Context, req inventory.AdjustRequest) (*models.Inventory, error) {
	s.adjust = req
	if req.NewQuantity < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "quantity is below reserved quantity")
	}
	return &models.Inventory{ID: uuid.New(), Quantity: req.NewQuantity, ReservedQuantity: 2}, nil
}

func TestAddStock(t *testing.T) {
	svc := &stubStock{}
	body := `{"warehouse_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `","quantity":10,"reorder_level":3,"reference":"PO-7"}`
	rec, env := serve(http.MethodPost, "/internal/inventory/stock", "/internal/inventory/stock", body, AddStock(svc, testLogger()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.add.Quantity != 10 || svc.add.ReorderLevel == nil || *svc.add.ReorderLevel != 3 {
		t.Fatalf("unexpected request %+v", svc.add)
	}
	if svc.add.Actor != operatorActor || svc.add.Reference.ID != "PO-7" || svc.add.VariantID != nil {
		t.Fatalf("unexpected attribution %+v", svc.add)
	}
	var out inventoryResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.AvailableQuantity != 8 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestAdjustStock(t *testing.T) {
	key := `"warehouse_id":"` + uuid.NewString() + `","product_id":"` + uuid.NewString() + `"`
	svc := &stubStock{}

	rec, _ := serve(http.MethodPost, "/internal/inventory/adjust", "/internal/inventory/adjust", `{`+key+`,"new_quantity":0,"reason":"cycle count"}`, AdjustStock(svc, testLogger()), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.adjust.NewQuantity != 0 || svc.adjust.Reason != "cycle count" {
		t.Fatalf("zero quantity must be forwarded, got %+v", svc.adjust)
	}

	rec, _ = serve(http.MethodPost, "/internal/inventory/adjust", "/internal/inventory/adjust", `{`+key+`,"reason":"cycle count"}`, AdjustStock(svc, testLogger()), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing new_quantity should fail validation, got %d", rec.Code)
	}
}

type stubLedger struct {
	limit int
}

func (s *stubLedger) Balance(context.Context, uuid.UUID) (int64, error) { return 11700, nil }

func (s *stubLedger) Entries(_ context.Context, vendorID uuid.UUID, limit int) ([]models.VendorLedgerEntry, error) {
	s.limit = limit
	return []models.VendorLedgerEntry{
		{ID: uuid.New(), VendorID: vendorID, Type: enums.LedgerSaleCredit, AmountCents: 11700},
		{ID: uuid.New(), VendorID: vendorID, Type: enums.LedgerCommissionDebit, AmountCents: -1300, Informational: true},
	}, nil
}

func TestVendorBalance(t *testing.T) {
	ledger := &stubLedger{}
	vendorID := uuid.New()
	rec, env := serve(http.MethodGet, "/internal/vendors/{vendorId}/balance", "/internal/vendors/"+vendorID.String()+"/balance?limit=10", "", VendorBalance(ledger, testLogger()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var out vendorBalanceResponse
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.BalanceCents != 11700 || len(out.Entries) != 2 || ledger.limit != 10 {
		t.Fatalf("unexpected response %+v (limit %d)", out, ledger.limit)
	}
	if !out.Entries[1].Informational {
		t.Fatal("commission entry should be flagged informational")
	}
}

type stubPayouts struct {
	min       int64
	completed string
	failed    string
	runErr    error
}

func (s *stubPayouts) ProcessPayouts(_ context.Context, min int64) (*payouts.RunSummary, error) {
	s.min = min
	return &payouts.RunSummary{Considered: 3, Skipped: 1, Created: []models.VendorPayout{{ID: uuid.New(), AmountCents: 60000, Status: enums.PayoutStatusProcessing}}}, s.runErr
}

func (s *stubPayouts) Complete(_ context.Context, _ uuid.UUID, ref string) error {
	s.completed = ref
	return nil
}

func (s *stubPayouts) Fail(_ context.Context, _ uuid.UUID, reason string) error {
	s.failed = reason
	return nil
}

func (s *stubPayouts) Get(_ context.Context, id uuid.UUID) (*models.VendorPayout, error) {
	status := enums.PayoutStatusCompleted
	if s.failed != "" {
		status = enums.PayoutStatusFailed
	}
	return &models.VendorPayout{ID: id, Status: status}, nil
}

func TestRunPayouts(t *testing.T) {
	svc := &stubPayouts{}
	rec, env := serve(http.MethodPost, "/internal/payouts/run", "/internal/payouts/run", "", RunPayouts(svc, 50000, testLogger()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.min != 50000 {
		t.Fatalf("expected configured minimum, got %d", svc.min)
	}
	var out runPayoutsResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || len(out.Created) != 1 || out.Considered != 3 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	svc.runErr = errors.New("vendor x: lock timeout")
	rec, env = serve(http.MethodPost, "/internal/payouts/run", "/internal/payouts/run", `{"min_amount_cents":1000}`, RunPayouts(svc, 50000, testLogger()), nil)
	if rec.Code != http.StatusOK || svc.min != 1000 {
		t.Fatalf("expected partial success with override, got %d min=%d", rec.Code, svc.min)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Errors == "" {
		t.Fatalf("expected errors in summary, got %s", rec.Body.String())
	}
}

func TestCompleteAndFailPayout(t *testing.T) {
	svc := &stubPayouts{}
	id := uuid.New()
	rec, env := serve(http.MethodPost, "/internal/payouts/{payoutId}/complete", "/internal/payouts/"+id.String()+"/complete", `{"external_reference":"BANK-1"}`, CompletePayout(svc, testLogger()), nil)
	if rec.Code != http.StatusOK || svc.completed != "BANK-1" {
		t.Fatalf("complete failed: %d %s", rec.Code, rec.Body.String())
	}
	var out payoutResponse
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Status != enums.PayoutStatusCompleted {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec, _ = serve(http.MethodPost, "/internal/payouts/{payoutId}/complete", "/internal/payouts/"+id.String()+"/complete", `{}`, CompletePayout(svc, testLogger()), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reference, got %d", rec.Code)
	}

	rec, env = serve(http.MethodPost, "/internal/payouts/{payoutId}/fail", "/internal/payouts/"+id.String()+"/fail", `{"reason":"account closed"}`, FailPayout(svc, testLogger()), nil)
	if rec.Code != http.StatusOK || svc.failed != "account closed" {
		t.Fatalf("fail failed: %d", rec.Code)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil || out.Status != enums.PayoutStatusFailed {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
