package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascendhq/ascend/models"
)

const paddleSecret = "pdl_test"

func paddleSign(secret string, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(body)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func paddleHeaders(sig string) http.Header {
	h := http.Header{}
	h.Set("Paddle-Signature", sig)
	return h
}

func TestPaddleCoinPurchaseParsesDecimalAmount(t *testing.T) {
	a := NewPaddleAdapter(PaddleConfig{WebhookSecret: paddleSecret}, testCatalog())
	body := []byte(`{
		"event_id": "ntf_1",
		"event_type": "transaction.completed",
		"data": {
			"id": "txn_1",
			"custom_data": {"account_id": "42"},
			"items": [{"price": {"product_id": "coins_500"}}],
			"details": {"totals": {"total": "4.99", "currency_code": "usd"}}
		}
	}`)

	ev, err := a.Normalize(context.Background(), body, paddleHeaders(paddleSign(paddleSecret, "1700000000", body)))
	require.NoError(t, err)
	assert.Equal(t, ProviderPaddle, ev.Provider)
	assert.Equal(t, "ntf_1", ev.ProviderTxID)
	assert.Equal(t, EventCoinPurchase, ev.Type)
	assert.Equal(t, models.PaymentKindCoins, ev.Kind)
	assert.Equal(t, int64(499), ev.AmountMinor)
	assert.Equal(t, "USD", ev.Currency)
	// Adjustments reference the transaction id, so it must be carried.
	assert.Equal(t, "txn_1", ev.PaymentRef)
}

func TestPaddleSubscriptionLifecycle(t *testing.T) {
	a := NewPaddleAdapter(PaddleConfig{WebhookSecret: paddleSecret}, testCatalog())

	cases := []struct {
		eventType string
		want      EventType
	}{
		{"subscription.activated", EventSubscriptionCreated},
		{"subscription.canceled", EventSubscriptionCancelled},
		{"subscription.paused", EventSubscriptionPaused},
		{"subscription.resumed", EventSubscriptionResumed},
		{"subscription.past_due", EventPaymentFailed},
	}
	for i, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			body := []byte(fmt.Sprintf(`{
				"event_id": "ntf_sub_%d",
				"event_type": "%s",
				"data": {
					"id": "sub_9",
					"custom_data": {"account_id": "7"},
					"billing_period": {"ends_at": "2026-09-30T00:00:00Z"}
				}
			}`, i, tc.eventType))

			ev, err := a.Normalize(context.Background(), body, paddleHeaders(paddleSign(paddleSecret, "1700000000", body)))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.Type)
			assert.Equal(t, "sub_9", ev.ProviderSubID)
			require.NotNil(t, ev.PeriodEnd)
		})
	}
}

func TestPaddleRefund(t *testing.T) {
	a := NewPaddleAdapter(PaddleConfig{WebhookSecret: paddleSecret}, testCatalog())
	body := []byte(`{
		"event_id": "ntf_adj",
		"event_type": "adjustment.created",
		"data": {
			"id": "adj_1",
			"custom_data": {"account_id": "7"},
			"transaction_id": "txn_1",
			"details": {"totals": {"total": "4.99", "currency_code": "usd"}}
		}
	}`)

	ev, err := a.Normalize(context.Background(), body, paddleHeaders(paddleSign(paddleSecret, "1700000000", body)))
	require.NoError(t, err)
	assert.Equal(t, EventRefund, ev.Type)
	assert.Equal(t, "txn_1", ev.RefTxID)
}

func TestPaddleRejectsBadSignature(t *testing.T) {
	a := NewPaddleAdapter(PaddleConfig{WebhookSecret: paddleSecret}, testCatalog())
	body := []byte(`{"event_id": "ntf_2", "event_type": "subscription.activated", "data": {"custom_data": {"account_id": "7"}}}`)

	_, err := a.Normalize(context.Background(), body, paddleHeaders(paddleSign("wrong", "1700000000", body)))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))

	_, err = a.Normalize(context.Background(), body, paddleHeaders(""))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
}

func TestPaddleRejectsBadAmount(t *testing.T) {
	a := NewPaddleAdapter(PaddleConfig{WebhookSecret: paddleSecret}, testCatalog())
	body := []byte(`{
		"event_id": "ntf_3",
		"event_type": "transaction.completed",
		"data": {
			"custom_data": {"account_id": "7"},
			"items": [{"price": {"product_id": "coins_500"}}],
			"details": {"totals": {"total": "not-money", "currency_code": "usd"}}
		}
	}`)

	_, err := a.Normalize(context.Background(), body, paddleHeaders(paddleSign(paddleSecret, "1700000000", body)))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
}

func TestParseMinorUnits(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"4.99", 499},
		{"4.9", 490},
		{"10", 1000},
		{"0.01", 1},
		{"129.995", 12999},
	}
	for _, tc := range cases {
		got, err := parseMinorUnits(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := parseMinorUnits("4,99")
	assert.Error(t, err)
}
