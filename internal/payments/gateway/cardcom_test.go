package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCardcomServer(t *testing.T, handler func(path string, body map[string]any) any) *Cardcom {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1000", body["TerminalNumber"])
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(handler(r.URL.Path, body)))
	}))
	t.Cleanup(srv.Close)
	return NewCardcom(CardcomConfig{
		BaseURL:        srv.URL,
		TerminalNumber: "1000",
		APIName:        "api-user",
		WebhookSecret:  "whsec",
	})
}

func TestCardcomCreatePaymentSession(t *testing.T) {
	gw := newCardcomServer(t, func(path string, body map[string]any) any {
		assert.Equal(t, "/api/v11/LowProfile/Create", path)
		return map[string]any{
			"ResponseCode": 0,
			"Url":          "https://secure.test/lp-1",
			"LowProfileId": "lp-1",
		}
	})

	sess, err := gw.CreatePaymentSession(context.Background(), SessionInput{Amount: 200, Currency: "ILS"})
	require.NoError(t, err)
	assert.Equal(t, "https://secure.test/lp-1", sess.RedirectURL)
	assert.Equal(t, "lp-1", sess.ProviderReference)
}

func TestCardcomTokenizeReturnsRedirect(t *testing.T) {
	gw := newCardcomServer(t, func(_ string, body map[string]any) any {
		assert.Equal(t, "CreateTokenOnly", body["Operation"])
		return map[string]any{"ResponseCode": 0, "Url": "https://secure.test/lp-2", "LowProfileId": "lp-2"}
	})

	res, err := gw.TokenizePaymentMethod(context.Background(), TokenizeInput{Payer: Payer{Name: "Avi"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Token)
	assert.Equal(t, "https://secure.test/lp-2", res.RedirectURL)
}

func TestCardcomChargeTokenDeclined(t *testing.T) {
	gw := newCardcomServer(t, func(path string, _ map[string]any) any {
		assert.Equal(t, "/api/v11/Transactions/Transaction", path)
		return map[string]any{"ResponseCode": 33, "Description": "insufficient funds"}
	})

	res, err := gw.ChargeToken(context.Background(), ChargeInput{Token: "tok", Amount: 100})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds", res.FailureReason)
}

func TestCardcomWebhookParse(t *testing.T) {
	gw := NewCardcom(CardcomConfig{WebhookSecret: "whsec"})

	ev, err := gw.ParseWebhookPayload([]byte(`{"LowProfileId":"lp-1","TranzactionId":"tr-1","ResponseCode":0,"Amount":200}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "tr-1", ev.EventID)
	assert.Equal(t, "lp-1", ev.ProviderReference)
	assert.Equal(t, EventStatusSucceeded, ev.Status)

	tokenOnly, err := gw.ParseWebhookPayload([]byte(`{"LowProfileId":"lp-2","Operation":"CreateTokenOnly","Token":"tok-1","Last4CardDigits":"4242","Brand":"visa"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, EventStatusNone, tokenOnly.Status)
	assert.Equal(t, "tok-1", tokenOnly.Token)

	_, err = gw.ParseWebhookPayload([]byte(`{}`), nil)
	assert.Error(t, err)
}

func TestCardcomSignatureFailsClosed(t *testing.T) {
	gw := NewCardcom(CardcomConfig{WebhookSecret: "whsec"})
	body := []byte(`{"TranzactionId":"tr-1"}`)

	h := sha256.New()
	h.Write(body)
	h.Write([]byte("whsec"))
	good := hex.EncodeToString(h.Sum(nil))

	hdr := http.Header{}
	hdr.Set("X-Cardcom-Signature", good)
	assert.True(t, gw.VerifyWebhookSignature(nil, body, hdr))

	hdr.Set("X-Cardcom-Signature", "bad")
	assert.False(t, gw.VerifyWebhookSignature(nil, body, hdr))
	assert.False(t, gw.VerifyWebhookSignature(nil, body, http.Header{}))
}
