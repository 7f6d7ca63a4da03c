package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

const maxResponseBytes = 1 << 20

// NewHTTPClient returns the client the REST adapters share.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// APIError is a non-2xx provider response.
type APIError struct {
	Gateway enums.PaymentGateway
	Status  int
	Body    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Gateway, e.Status, e.Body)
}

// Do sends req and decodes a JSON response into out. Transport failures, 429
// and 5xx are dependency errors; other 4xx responses are rejections.
func Do(client *http.Client, gateway enums.PaymentGateway, req *http.Request, out any) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s request failed", gateway))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s response read failed", gateway))
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Gateway: gateway, Status: resp.StatusCode, Body: truncate(string(body))}
		code := pkgerrors.CodeGatewayRejected
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			code = pkgerrors.CodeDependency
		case resp.StatusCode == http.StatusUnauthorized:
			code = pkgerrors.CodeDependency
		}
		return body, pkgerrors.Wrap(code, apiErr, fmt.Sprintf("%s request failed", gateway))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return body, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s response decode failed", gateway))
		}
	}
	return body, nil
}

// NewJSONRequest builds a request with a JSON body.
func NewJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func truncate(s string) string {
	if len(s) > 512 {
		return s[:512]
	}
	return s
}
