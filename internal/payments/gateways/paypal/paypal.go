// Package paypal integrates PayPal Orders v2. The storefront captures the order
// on return; the engine reconciles on PAYMENT.CAPTURE.* notifications, which are
// authenticated through PayPal's verify-webhook-signature API.
package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
)

const (
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"
)

var transmissionHeaders = []string{
	"Paypal-Auth-Algo",
	"Paypal-Cert-Url",
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Sig",
	"Paypal-Transmission-Time",
}

type Gateway struct {
	cfg     config.PayPalConfig
	baseURL string
	client  *http.Client
	now     func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg config.PayPalConfig, client *http.Client, baseURL string) (*Gateway, error) {
	if !cfg.Enabled() {
		return nil, errors.New("paypal client id and secret are required")
	}
	if strings.TrimSpace(cfg.WebhookID) == "" {
		return nil, errors.New("paypal webhook id is required")
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
	return enums.GatewayPayPal
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (g *Gateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	if _, err := gateways.Do(g.client, g.Name(), req, &resp); err != nil {
		return "", err
	}
	g.token = resp.AccessToken
	// refresh a minute early
	g.tokenExpiry = g.now().Add(time.Duration(resp.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}

func (g *Gateway) call(ctx context.Context, method, path string, payload any, requestID string, out any) ([]byte, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := gateways.NewJSONRequest(ctx, method, g.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	return gateways.Do(g.client, g.Name(), req, out)
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

func (g *Gateway) CreateIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.IntentResult, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"custom_id":    req.PaymentID,
			"invoice_id":   req.PaymentID,
			"description":  req.Description,
			"amount":       money{CurrencyCode: string(req.Currency), Value: gateways.FormatAmount(req.AmountCents)},
		}},
		"application_context": map[string]string{
			"return_url": g.cfg.ReturnURL,
			"cancel_url": g.cfg.CancelURL,
		},
	}
	var resp orderResponse
	raw, err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", body, req.IdempotencyKey, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, gateways.Rejected(g.Name(), "order not created")
	}
	result := &gateways.IntentResult{ExternalID: resp.ID, Raw: raw}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			result.RedirectURL = l.Href
			break
		}
	}
	return result, nil
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhook asks PayPal to validate the transmission headers. A PayPal outage
// surfaces as a dependency error so the notification is retried.
func (g *Gateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error {
	for _, h := range transmissionHeaders {
		if headers.Get(h) == "" {
			return gateways.SignatureError(g.Name(), errors.New("missing "+h))
		}
	}
	if !json.Valid(body) {
		return gateways.SignatureError(g.Name(), errors.New("body is not json"))
	}
	payload := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        g.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var resp verifyResponse
	if _, err := g.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, "", &resp); err != nil {
		return err
	}
	if resp.VerificationStatus != "SUCCESS" {
		return gateways.SignatureError(g.Name(), errors.New("verification status "+resp.VerificationStatus))
	}
	return nil
}

type webhookBody struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type relatedIDs struct {
	OrderID string `json:"order_id"`
}

type captureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CustomID          string `json:"custom_id"`
	InvoiceID         string `json:"invoice_id"`
	Amount            money  `json:"amount"`
	SupplementaryData struct {
		RelatedIDs relatedIDs `json:"related_ids"`
	} `json:"supplementary_data"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
}

func (g *Gateway) ParseWebhook(body []byte) (*gateways.WebhookEvent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	evt := &gateways.WebhookEvent{EventID: wb.ID, Outcome: gateways.OutcomeIgnored, Raw: body}

	var outcome gateways.Outcome
	switch wb.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		outcome = gateways.OutcomeSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		outcome = gateways.OutcomeFailed
	default:
		return evt, nil
	}

	var capture captureResource
	if err := json.Unmarshal(wb.Resource, &capture); err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	amount, err := gateways.ParseAmount(capture.Amount.Value)
	if err != nil {
		return nil, gateways.MalformedWebhook(g.Name(), err)
	}
	paymentRef := capture.CustomID
	if paymentRef == "" {
		paymentRef = capture.InvoiceID
	}
	raw, _ := json.Marshal(map[string]string{
		"event_id":   wb.ID,
		"capture_id": capture.ID,
		"order_id":   capture.SupplementaryData.RelatedIDs.OrderID,
		"status":     capture.Status,
	})

	evt.Outcome = outcome
	evt.ExternalID = capture.SupplementaryData.RelatedIDs.OrderID
	evt.PaymentRef = paymentRef
	evt.AmountCents = amount
	evt.Currency = enums.Currency(strings.ToUpper(capture.Amount.CurrencyCode))
	evt.Raw = raw
	if outcome == gateways.OutcomeFailed {
		evt.Reason = strings.ToLower(capture.StatusDetails.Reason)
		if evt.Reason == "" {
			evt.Reason = "capture denied"
		}
	}
	return evt, nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund refunds the capture recorded from the completion notification.
func (g *Gateway) Refund(ctx context.Context, req gateways.RefundRequest) (*gateways.RefundResult, error) {
	var stored map[string]string
	if len(req.Stored) > 0 {
		_ = json.Unmarshal(req.Stored, &stored)
	}
	captureID := stored["capture_id"]
	if captureID == "" {
		return nil, gateways.Rejected(g.Name(), "capture id unknown for payment")
	}
	body := map[string]any{
		"amount":        money{CurrencyCode: string(req.Currency), Value: gateways.FormatAmount(req.AmountCents)},
		"note_to_payer": req.Reason,
	}
	var resp refundResponse
	if _, err := g.call(ctx, http.MethodPost, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund", body, req.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "FAILED" || resp.Status == "CANCELLED" {
		return nil, gateways.Rejected(g.Name(), "refund "+strings.ToLower(resp.Status))
	}
	return &gateways.RefundResult{RefundID: resp.ID, Status: resp.Status}, nil
}
