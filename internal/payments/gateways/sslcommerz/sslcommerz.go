// Package sslcommerz integrates the SSLCommerz hosted checkout. IPN callbacks are
// authenticated with verify_sign: md5 over the fields named in verify_key plus
// md5(store password), sorted by key.
package sslcommerz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	"github.com/angelmondragon/commerce-engine/pkg/security"
)

const (
	sandboxBaseURL = "https://sandbox.sslcommerz.com"
	liveBaseURL    = "https://securepay.sslcommerz.com"
)

type Gateway struct {
	cfg     config.SSLCommerzConfig
	baseURL string
	client  *http.Client
}

// New builds the adapter. baseURL overrides the sandbox/live host when non-empty.
func New(cfg config.SSLCommerzConfig, client *http.Client, baseURL string) (*Gateway, error) {
	if strings.TrimSpace(cfg.StoreID) == "" || strings.TrimSpace(cfg.StorePassword) == "" {
		return nil, errors.New("sslcommerz store id and password are required")
	}
	if baseURL == "" {
		baseURL = liveBaseURL
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		}
	}
	if client == nil {
		client = gateways.NewHTTPClient(0)
	}
	return &Gateway{cfg: cfg, baseURL: strings.TrimRight(baseURL, "/"), client: client}, nil
}

func (g *Gateway) Name() enums.PaymentGateway {
	return enums.GatewaySSLCommerz
}

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// CreateIntent opens a checkout session. The payment id is the tran_id, which
// SSLCommerz echoes on every IPN.
func (g *Gateway) CreateIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.IntentResult, error) {
	form := url.Values{}
	form.Set("store_id", g.cfg.StoreID)
	form.Set("store_passwd", g.cfg.StorePassword)
	form.Set("total_amount", gateways.FormatAmount(req.AmountCents))
	form.Set("currency", string(req.Currency))
	form.Set("tran_id", req.PaymentID)
	form.Set("success_url", g.cfg.SuccessURL)
	form.Set("fail_url", g.cfg.FailURL)
	form.Set("cancel_url", g.cfg.CancelURL)
	form.Set("ipn_url", g.cfg.IPNURL)
	form.Set("cus_name", fallback(req.Customer.Name, "Customer"))
	form.Set("cus_email", fallback(req.Customer.Email, "customer@example.com"))
	form.Set("cus_phone", fallback(req.Customer.Phone, "01700000000"))
	form.Set("cus_add1", "N/A")
	form.Set("cus_city", "N/A")
	form.Set("cus_country", "Bangladesh")
	form.Set("shipping_method", "NO")
	form.Set("product_name", fallback(req.Description, "Order "+req.OrderID))
	form.Set("product_category", "marketplace")
	form.Set("product_profile", "general")
	form.Set("value_a", req.OrderID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/gwprocess/v4/api.php", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp sessionResponse
	raw, err := gateways.Do(g.client, g.Name(), httpReq, &resp)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		return nil, gateways.Rejected(g.Name(), fallback(resp.FailedReason, "session not created"))
	}
	return &gateways.IntentResult{
		ExternalID:  req.PaymentID,
		RedirectURL: resp.GatewayPageURL,
		Raw:         raw,
	}, nil
}

// VerifyWebhook checks the IPN verify_sign.
func (g *Gateway) VerifyWebhook(_ context.Context, _ http.Header, body []byte) error {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return gateways.SignatureError(g.Name(), err)
	}
	if err := verifySign(values, g.cfg.StorePassword); err != nil {
		return gateways.SignatureError(g.Name(), err)
	}
	return nil
}

func verifySign(values url.Values, storePassword string) error {
	sign := values.Get("verify_sign")
	keyList := values.Get("verify_key")
	if sign == "" || keyList == "" {
		return security.ErrSignatureMissing
	}
	if !security.EqualHex(computeSign(values, strings.Split(keyList, ","), storePassword), sign) {
		return security.ErrSignatureMismatch
	}
	return nil
}

// Sign sets verify_key and verify_sign for the given fields, as SSLCommerz does.
func Sign(values url.Values, keys []string, storePassword string) {
	values.Set("verify_key", strings.Join(keys, ","))
	values.Set("verify_sign", computeSign(values, keys, storePassword))
}

func computeSign(values url.Values, keys []string, storePassword string) string {
	fields := map[string]string{"store_passwd": security.MD5Hex(storePassword)}
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = values.Get(key)
	}
	sorted := make([]string, 0, len(fields))
	for key := range fields {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)
	parts := make([]string, 0, len(sorted))
	for _, key := range sorted {
		parts = append(parts, key+"="+fields[key])
	}
	return security.MD5Hex(strings.Join(parts, "&"))
}

func (g *Gateway) ParseWebhook(body []byte) (*gateways.WebhookEvent, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	tranID := values.Get("tran_id")
	if tranID == "" {
		return nil, gateways.MalformedWebhook(g.Name(), errors.New("tran_id missing"))
	}
	amount, err := gateways.ParseAmount(values.Get("currency_amount"))
	if err != nil || amount == 0 {
		amount, err = gateways.ParseAmount(values.Get("amount"))
		if err != nil {
			return nil, gateways.MalformedWebhook(g.Name(), err)
		}
	}
	currency := values.Get("currency_type")
	if currency == "" {
		currency = values.Get("currency")
	}

	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}
	raw, _ := json.Marshal(flat)

	status := strings.ToUpper(values.Get("status"))
	evt := &gateways.WebhookEvent{
		EventID:     eventID(values, status),
		ExternalID:  tranID,
		PaymentRef:  tranID,
		OrderRef:    values.Get("value_a"),
		AmountCents: amount,
		Currency:    enums.Currency(strings.ToUpper(currency)),
		Raw:         raw,
	}
	switch status {
	case "VALID", "VALIDATED":
		evt.Outcome = gateways.OutcomeSucceeded
	case "FAILED", "CANCELLED", "EXPIRED":
		evt.Outcome = gateways.OutcomeFailed
		evt.Reason = fallback(values.Get("error"), strings.ToLower(status))
	default:
		evt.Outcome = gateways.OutcomeIgnored
	}
	return evt, nil
}

func eventID(values url.Values, status string) string {
	if valID := values.Get("val_id"); valID != "" {
		return valID
	}
	return values.Get("tran_id") + ":" + status
}

type refundResponse struct {
	APIConnect   string `json:"APIConnect"`
	Status       string `json:"status"`
	RefundRefID  string `json:"refund_ref_id"`
	ErrorReason  string `json:"errorReason"`
	BankTranID   string `json:"bank_tran_id"`
	TransID      string `json:"trans_id"`
	RefundStatus string `json:"refund_status"`
}

// Refund needs the bank_tran_id from the validated IPN kept on the payment.
func (g *Gateway) Refund(ctx context.Context, req gateways.RefundRequest) (*gateways.RefundResult, error) {
	var stored map[string]string
	if len(req.Stored) > 0 {
		_ = json.Unmarshal(req.Stored, &stored)
	}
	bankTranID := stored["bank_tran_id"]
	if bankTranID == "" {
		return nil, gateways.Rejected(g.Name(), "bank_tran_id unknown for payment")
	}

	q := url.Values{}
	q.Set("bank_tran_id", bankTranID)
	q.Set("refund_amount", gateways.FormatAmount(req.AmountCents))
	q.Set("refund_remarks", fallback(req.Reason, "refund"))
	q.Set("refe_id", req.IdempotencyKey)
	q.Set("store_id", g.cfg.StoreID)
	q.Set("store_passwd", g.cfg.StorePassword)
	q.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/validator/api/merchantTransIDvalidationAPI.php?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var resp refundResponse
	if _, err := gateways.Do(g.client, g.Name(), httpReq, &resp); err != nil {
		return nil, err
	}
	if resp.APIConnect != "DONE" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sslcommerz refund api: "+resp.APIConnect)
	}
	if !strings.EqualFold(resp.Status, "success") {
		return nil, gateways.Rejected(g.Name(), fallback(resp.ErrorReason, resp.Status))
	}
	return &gateways.RefundResult{RefundID: resp.RefundRefID, Status: resp.Status}, nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
