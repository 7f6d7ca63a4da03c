// Package bkash integrates the bKash tokenized checkout. Notifications are
// signed with HMAC-SHA256 over the raw body in X-Bkash-Signature.
package bkash

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/security"
)

const (
	sandboxBaseURL = "https://tokenized.sandbox.bka.sh/v1.2.0-beta"
	liveBaseURL    = "https://tokenized.pay.bka.sh/v1.2.0-beta"

	SignatureHeader = "X-Bkash-Signature"

	statusOK = "0000"
)

type Gateway struct {
	cfg     config.BkashConfig
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg config.BkashConfig, client *http.Client, baseURL string) (*Gateway, error) {
	if !cfg.Enabled() {
		return nil, errors.New("bkash app key and secret are required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("bkash webhook secret is required")
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
	return &Gateway{cfg: cfg, baseURL: strings.TrimRight(baseURL, "/"), client: client, now: time.Now}, nil
}

func (g *Gateway) Name() enums.PaymentGateway {
	return enums.GatewayBkash
}

type grantResponse struct {
	IDToken       string `json:"id_token"`
	ExpiresIn     int64  `json:"expires_in"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

func (g *Gateway) idToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, nil
	}
	req, err := gateways.NewJSONRequest(ctx, http.MethodPost, g.baseURL+"/tokenized/checkout/token/grant", map[string]string{
		"app_key":    g.cfg.AppKey,
		"app_secret": g.cfg.AppSecret,
	})
	if err != nil {
		return "", err
	}
	req.Header.Set("username", g.cfg.Username)
	req.Header.Set("password", g.cfg.Password)

	var resp grantResponse
	if _, err := gateways.Do(g.client, g.Name(), req, &resp); err != nil {
		return "", err
	}
	if resp.IDToken == "" {
		return "", gateways.Rejected(g.Name(), "token grant: "+resp.StatusMessage)
	}
	g.token = resp.IDToken
	g.tokenExpiry = g.now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}

func (g *Gateway) call(ctx context.Context, path string, payload any, out any) ([]byte, error) {
	token, err := g.idToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := gateways.NewJSONRequest(ctx, http.MethodPost, g.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("X-APP-Key", g.cfg.AppKey)
	return gateways.Do(g.client, g.Name(), req, out)
}

type createResponse struct {
	PaymentID     string `json:"paymentID"`
	BkashURL      string `json:"bkashURL"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

func (g *Gateway) CreateIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.IntentResult, error) {
	payerRef := req.Customer.Phone
	if payerRef == "" {
		payerRef = req.OrderID
	}
	var resp createResponse
	raw, err := g.call(ctx, "/tokenized/checkout/create", map[string]string{
		"mode":                  "0011",
		"payerReference":        payerRef,
		"callbackURL":           g.cfg.CallbackURL,
		"amount":                gateways.FormatAmount(req.AmountCents),
		"currency":              string(req.Currency),
		"intent":                "sale",
		"merchantInvoiceNumber": req.PaymentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != statusOK || resp.PaymentID == "" {
		return nil, gateways.Rejected(g.Name(), resp.StatusMessage)
	}
	return &gateways.IntentResult{ExternalID: resp.PaymentID, RedirectURL: resp.BkashURL, Raw: raw}, nil
}

func (g *Gateway) VerifyWebhook(_ context.Context, headers http.Header, body []byte) error {
	if err := security.VerifySignature(body, headers.Get(SignatureHeader), g.cfg.WebhookSecret); err != nil {
		return gateways.SignatureError(g.Name(), err)
	}
	return nil
}

type notification struct {
	EventID               string `json:"eventId"`
	PaymentID             string `json:"paymentID"`
	TrxID                 string `json:"trxID"`
	TransactionStatus     string `json:"transactionStatus"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
	StatusMessage         string `json:"statusMessage"`
}

func (g *Gateway) ParseWebhook(body []byte) (*gateways.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	if n.PaymentID == "" {
		return nil, gateways.MalformedWebhook(g.Name(), errors.New("paymentID missing"))
	}
	amount, err := gateways.ParseAmount(n.Amount)
	if err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	eventID := n.EventID
	if eventID == "" {
		eventID = n.PaymentID + ":" + n.TransactionStatus
	}
	evt := &gateways.WebhookEvent{
		EventID:     eventID,
		ExternalID:  n.PaymentID,
		PaymentRef:  n.MerchantInvoiceNumber,
		AmountCents: amount,
		Currency:    enums.Currency(strings.ToUpper(n.Currency)),
		Raw:         body,
	}
	switch n.TransactionStatus {
	case "Completed":
		evt.Outcome = gateways.OutcomeSucceeded
	case "Failed", "Cancelled", "Expired":
		evt.Outcome = gateways.OutcomeFailed
		evt.Reason = strings.ToLower(n.TransactionStatus)
		if n.StatusMessage != "" {
			evt.Reason = n.StatusMessage
		}
	default:
		evt.Outcome = gateways.OutcomeIgnored
	}
	return evt, nil
}

type refundResponse struct {
	RefundTrxID       string `json:"refundTrxID"`
	TransactionStatus string `json:"transactionStatus"`
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
}

// Refund needs the trxID from the completion notification.
func (g *Gateway) Refund(ctx context.Context, req gateways.RefundRequest) (*gateways.RefundResult, error) {
	var stored notification
	if len(req.Stored) > 0 {
		_ = json.Unmarshal(req.Stored, &stored)
	}
	if stored.TrxID == "" {
		return nil, gateways.Rejected(g.Name(), "trxID unknown for payment")
	}
	reason := req.Reason
	if reason == "" {
		reason = "refund"
	}
	var resp refundResponse
	if _, err := g.call(ctx, "/tokenized/checkout/payment/refund", map[string]string{
		"paymentID": req.ExternalID,
		"trxID":     stored.TrxID,
		"amount":    gateways.FormatAmount(req.AmountCents),
		"sku":       req.IdempotencyKey,
		"reason":    reason,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.RefundTrxID == "" || resp.TransactionStatus != "Completed" {
		msg := resp.StatusMessage
		if msg == "" {
			msg = "refund " + resp.TransactionStatus
		}
		return nil, gateways.Rejected(g.Name(), msg)
	}
	return &gateways.RefundResult{RefundID: resp.RefundTrxID, Status: resp.TransactionStatus}, nil
}
