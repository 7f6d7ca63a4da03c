package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/commerce-engine/internal/payments/gateways"
	"github.com/angelmondragon/commerce-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
	pkgstripe "github.com/angelmondragon/commerce-engine/pkg/stripe"
)

const secret = "whsec_test"

type fakeAPI struct {
	intentParams pkgstripe.IntentParams
	refundStatus stripego.RefundStatus
	refundErr    error
	refunded     int64
}

func (f *fakeAPI) CreatePaymentIntent(_ context.Context, p pkgstripe.IntentParams) (*stripego.PaymentIntent, error) {
	f.intentParams = p
	return &stripego.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: stripego.PaymentIntentStatusRequiresPaymentMethod}, nil
}

func (f *fakeAPI) Refund(_ context.Context, id string, amount int64, _ string) (*stripego.Refund, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunded = amount
	status := f.refundStatus
	if status == "" {
		status = stripego.RefundStatusSucceeded
	}
	return &stripego.Refund{ID: "re_1", Status: status}, nil
}

const succeededEvent = `{
  "id": "evt_1",
  "object": "event",
  "api_version": "2025-01-27.acacia",
  "type": "payment_intent.succeeded",
  "data": {"object": {"id": "pi_123", "object": "payment_intent", "amount": 13000, "amount_received": 13000,
    "currency": "usd", "status": "succeeded", "metadata": {"payment_id": "pay-1", "order_id": "order-1"}}}
}`

const failedEvent = `{
  "id": "evt_2",
  "object": "event",
  "type": "payment_intent.payment_failed",
  "data": {"object": {"id": "pi_123", "object": "payment_intent", "amount": 13000, "currency": "usd",
    "last_payment_error": {"message": "card declined"}, "metadata": {"payment_id": "pay-1"}}}
}`

const canceledEvent = `{
  "id": "evt_4",
  "object": "event",
  "type": "payment_intent.canceled",
  "data": {"object": {"id": "pi_123", "object": "payment_intent", "amount": 13000, "currency": "usd",
    "cancellation_reason": "abandoned", "metadata": {"payment_id": "pay-1"}}}
}`

func signedHeader(t *testing.T, body []byte, key string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    key,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(signatureHeader, signed.Header)
	return h
}

func TestCreateIntentStampsMetadata(t *testing.T) {
	api := &fakeAPI{}
	gw, err := New(api, secret)
	require.NoError(t, err)

	res, err := gw.CreateIntent(context.Background(), gateways.IntentRequest{
		PaymentID: "pay-1", OrderID: "order-1", AmountCents: 13000, Currency: enums.CurrencyUSD, IdempotencyKey: "idem",
	})
	require.NoError(t, err)
	require.Equal(t, "pi_123", res.ExternalID)
	require.Equal(t, "pi_123_secret", res.ClientSecret)
	require.Equal(t, "pay-1", api.intentParams.Metadata[MetadataPaymentID])
	require.Equal(t, "idem", api.intentParams.IdempotencyKey)
}

func TestVerifyWebhook(t *testing.T) {
	gw, err := New(&fakeAPI{}, secret)
	require.NoError(t, err)
	body := []byte(succeededEvent)

	require.NoError(t, gw.VerifyWebhook(context.Background(), signedHeader(t, body, secret), body))

	err = gw.VerifyWebhook(context.Background(), signedHeader(t, body, "whsec_other"), body)
	require.True(t, errors.Is(err, gateways.ErrInvalidSignature))
	require.Equal(t, pkgerrors.CodeSecurity, pkgerrors.CodeOf(err))

	err = gw.VerifyWebhook(context.Background(), http.Header{}, body)
	require.True(t, errors.Is(err, gateways.ErrInvalidSignature))
}

func TestParseWebhook(t *testing.T) {
	gw, err := New(&fakeAPI{}, secret)
	require.NoError(t, err)

	evt, err := gw.ParseWebhook([]byte(succeededEvent))
	require.NoError(t, err)
	require.Equal(t, gateways.OutcomeSucceeded, evt.Outcome)
	require.Equal(t, "evt_1", evt.EventID)
	require.Equal(t, "pi_123", evt.ExternalID)
	require.Equal(t, "pay-1", evt.PaymentRef)
	require.Equal(t, "order-1", evt.OrderRef)
	require.Equal(t, int64(13000), evt.AmountCents)
	require.Equal(t, enums.CurrencyUSD, evt.Currency)

	failed, err := gw.ParseWebhook([]byte(failedEvent))
	require.NoError(t, err)
	require.Equal(t, gateways.OutcomeIgnored, failed.Outcome, "a failed attempt leaves the intent confirmable")
	require.Equal(t, "card declined", failed.Reason)
	require.Equal(t, "pi_123", failed.ExternalID)

	canceled, err := gw.ParseWebhook([]byte(canceledEvent))
	require.NoError(t, err)
	require.Equal(t, gateways.OutcomeFailed, canceled.Outcome)
	require.Equal(t, "abandoned", canceled.Reason)

	other, err := gw.ParseWebhook([]byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{}}}`))
	require.NoError(t, err)
	require.Equal(t, gateways.OutcomeIgnored, other.Outcome)
}

func TestRefund(t *testing.T) {
	api := &fakeAPI{}
	gw, err := New(api, secret)
	require.NoError(t, err)

	res, err := gw.Refund(context.Background(), gateways.RefundRequest{ExternalID: "pi_123", AmountCents: 500})
	require.NoError(t, err)
	require.Equal(t, "re_1", res.RefundID)
	require.Equal(t, int64(500), api.refunded)

	api.refundStatus = stripego.RefundStatusFailed
	_, err = gw.Refund(context.Background(), gateways.RefundRequest{ExternalID: "pi_123", AmountCents: 500})
	require.Equal(t, pkgerrors.CodeGatewayRejected, pkgerrors.CodeOf(err))
}
