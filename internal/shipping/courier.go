package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/commerce-engine/pkg/config"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

// BookingRequest is one vendor's parcel for an order.
type BookingRequest struct {
	Invoice        string
	OrderID        string
	VendorID       string
	CODAmountCents int64
	Note           string
}

type Booking struct {
	ConsignmentID string
	TrackingCode  string
	Status        enums.ShipmentStatus
}

// Courier books parcels with a delivery provider.
type Courier interface {
	Name() string
	Book(ctx context.Context, req BookingRequest) (*Booking, error)
}

// Steadfast is the HTTP client for the Steadfast courier API.
type Steadfast struct {
	name    string
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
}

func NewSteadfast(cfg config.CourierConfig, client *http.Client) *Steadfast {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Steadfast{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		secret:  cfg.SecretKey,
		client:  client,
	}
}

func (s *Steadfast) Name() string { return s.name }

type createOrderRequest struct {
	Invoice   string `json:"invoice"`
	CODAmount string `json:"cod_amount"`
	Note      string `json:"note,omitempty"`
}

type createOrderResponse struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	Consignment struct {
		ConsignmentID json.Number `json:"consignment_id"`
		TrackingCode  string      `json:"tracking_code"`
		Status        string      `json:"status"`
	} `json:"consignment"`
}

func (s *Steadfast) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	raw, err := json.Marshal(createOrderRequest{
		Invoice:   req.Invoice,
		CODAmount: fmt.Sprintf("%d.%02d", req.CODAmountCents/100, req.CODAmountCents%100),
		Note:      req.Note,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode booking")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/create_order", bytes.NewReader(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build booking request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", s.apiKey)
	httpReq.Header.Set("Secret-Key", s.secret)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, s.name+" request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s responded %d", s.name, resp.StatusCode))
	}
	var out createOrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, s.name+" response decode failed")
	}
	if resp.StatusCode >= 300 || out.Status != http.StatusOK || out.Consignment.TrackingCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, fmt.Sprintf("%s rejected booking: %s", s.name, out.Message)).
			WithDetails(map[string]any{"status": resp.StatusCode, "invoice": req.Invoice})
	}

	status, ok := ParseStatus(out.Consignment.Status)
	if !ok || status == enums.ShipmentStatusPending {
		status = enums.ShipmentStatusBooked
	}
	return &Booking{
		ConsignmentID: out.Consignment.ConsignmentID.String(),
		TrackingCode:  out.Consignment.TrackingCode,
		Status:        status,
	}, nil
}

// ParseStatus maps our statuses and the courier's delivery statuses.
func ParseStatus(raw string) (enums.ShipmentStatus, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if status := enums.ShipmentStatus(value); status.IsValid() {
		return status, true
	}
	switch value {
	case "in_review", "hold", "unknown_approval":
		return enums.ShipmentStatusBooked, true
	case "partial_delivered", "delivered_approval_pending", "partial_delivered_approval_pending":
		return enums.ShipmentStatusDelivered, true
	case "cancelled_approval_pending":
		return enums.ShipmentStatusCancelled, true
	}
	return "", false
}
