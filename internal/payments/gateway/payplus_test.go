package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayPlusServer(t *testing.T, handler func(path string, body map[string]any) any) (*httptest.Server, *PayPlus) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(handler(r.URL.Path, body)))
	}))
	t.Cleanup(srv.Close)
	gw := NewPayPlus(PayPlusConfig{
		BaseURL:   srv.URL,
		APIKey:    "key",
		SecretKey: "secret",
		PageUID:   "page-1",
	})
	return srv, gw
}

func TestPayPlusCreatePaymentSession(t *testing.T) {
	_, gw := newPayPlusServer(t, func(path string, body map[string]any) any {
		assert.Equal(t, "/PaymentPages/generateLink", path)
		assert.Equal(t, "page-1", body["payment_page_uid"])
		assert.Equal(t, "idem-1", body["unique_request"])
		return map[string]any{
			"results": map[string]any{"status": "success"},
			"data": map[string]any{
				"page_request_uid":  "pr-42",
				"payment_page_link": "https://pay.test/pr-42",
			},
		}
	})

	sess, err := gw.CreatePaymentSession(context.Background(), SessionInput{
		ChargeID: 7, Amount: 300, Currency: "ILS", IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/pr-42", sess.RedirectURL)
	assert.Equal(t, "pr-42", sess.ProviderReference)
}

func TestPayPlusSessionRejected(t *testing.T) {
	_, gw := newPayPlusServer(t, func(string, map[string]any) any {
		return map[string]any{"results": map[string]any{"status": "error"}}
	})
	_, err := gw.CreatePaymentSession(context.Background(), SessionInput{Amount: 300})
	assert.Error(t, err)
}

func TestPayPlusUnconfigured(t *testing.T) {
	gw := NewPayPlus(PayPlusConfig{})
	_, err := gw.CreatePaymentSession(context.Background(), SessionInput{Amount: 1})
	assert.Error(t, err)
}

func TestPayPlusChargeToken(t *testing.T) {
	_, gw := newPayPlusServer(t, func(path string, body map[string]any) any {
		assert.Equal(t, "/Transactions/ChargeByToken", path)
		if body["token"] == "bad-token" {
			return map[string]any{"results": map[string]any{"status": "error", "description": "card declined"}}
		}
		return map[string]any{
			"results": map[string]any{"status": "success"},
			"data":    map[string]any{"transaction_uid": "tx-9"},
		}
	})

	ok, err := gw.ChargeToken(context.Background(), ChargeInput{Token: "tok", Amount: 100})
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, "tx-9", ok.ProviderReference)

	declined, err := gw.ChargeToken(context.Background(), ChargeInput{Token: "bad-token", Amount: 100})
	require.NoError(t, err)
	assert.False(t, declined.Success)
	assert.Equal(t, "card declined", declined.FailureReason)
}

func TestPayPlusWebhookParseAndStatus(t *testing.T) {
	gw := NewPayPlus(PayPlusConfig{SecretKey: "secret"})

	body := []byte(`{"transaction":{"uid":"tx-1","page_request_uid":"pr-1","status_code":"000","amount":250}}`)
	ev, err := gw.ParseWebhookPayload(body, nil)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", ev.EventID)
	assert.Equal(t, "pr-1", ev.ProviderReference)
	assert.Equal(t, EventStatusSucceeded, ev.Status)

	declined, err := gw.ParseWebhookPayload([]byte(`{"transaction":{"uid":"tx-2","status_code":"039"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, EventStatusFailed, declined.Status)
	assert.Equal(t, "tx-2", declined.ProviderReference)

	cycle, err := gw.ParseWebhookPayload([]byte(`{"transaction":{"uid":"tx-3","status_code":"000","recurring_uid":"sub-1"}}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", cycle.SubscriptionRef)

	_, err = gw.ParseWebhookPayload([]byte(`{}`), nil)
	assert.Error(t, err)
}

func TestPayPlusSignatureFailsClosed(t *testing.T) {
	gw := NewPayPlus(PayPlusConfig{SecretKey: "secret"})
	body := []byte(`{"transaction":{"uid":"tx-1"}}`)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("hash", good)
	assert.True(t, gw.VerifyWebhookSignature(nil, body, h))

	h.Set("hash", "tampered")
	assert.False(t, gw.VerifyWebhookSignature(nil, body, h))

	assert.False(t, gw.VerifyWebhookSignature(nil, body, http.Header{}))

	noSecret := NewPayPlus(PayPlusConfig{})
	assert.False(t, noSecret.VerifyWebhookSignature(nil, body, h))
}

func TestPayPlusRecurringLifecycle(t *testing.T) {
	_, gw := newPayPlusServer(t, func(path string, body map[string]any) any {
		switch path {
		case "/RecurringPayments/AddPlan":
			assert.Equal(t, "monthly", body["recurring_type"])
			return map[string]any{
				"results": map[string]any{"status": "success"},
				"data":    map[string]any{"uid": "plan-1"},
			}
		case "/RecurringPayments/AddSubscription":
			assert.Equal(t, "plan-1", body["plan_uid"])
			return map[string]any{
				"results": map[string]any{"status": "success"},
				"data":    map[string]any{"uid": "sub-1", "approval_url": "https://pay.test/approve/sub-1"},
			}
		case "/RecurringPayments/CancelSubscription":
			return map[string]any{"results": map[string]any{"status": "success"}}
		}
		t.Fatalf("unexpected path %s", path)
		return nil
	})

	var biller RecurringBiller = gw // compile-time capability check
	ctx := context.Background()

	planID, err := biller.CreateRecurringPlan(ctx, "HOA monthly", 400, "ILS")
	require.NoError(t, err)
	assert.Equal(t, "plan-1", planID)

	subID, approvalURL, err := biller.CreateSubscription(ctx, planID, Payer{Name: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", subID)
	assert.Equal(t, "https://pay.test/approve/sub-1", approvalURL)

	require.NoError(t, biller.CancelSubscription(ctx, subID))
}
