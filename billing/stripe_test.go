package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascendhq/ascend/config"
	"github.com/ascendhq/ascend/models"
)

const stripeSecret = "whsec_test"

func testCatalog() *Catalog {
	return NewCatalog([]config.ProductConfig{
		{Ref: "coins_500", Kind: "coins", Coins: 500},
		{Ref: "plus_monthly", Kind: "subscription", Tier: "plus", Cycle: "monthly"},
	})
}

func stripeSign(t *testing.T, secret string, ts int64, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newStripeAdapter(at time.Time) *StripeAdapter {
	a := NewStripeAdapter(StripeConfig{WebhookSecret: stripeSecret, Tolerance: 5 * time.Minute}, testCatalog())
	a.now = func() time.Time { return at }
	return a
}

func stripeHeaders(sig string) http.Header {
	h := http.Header{}
	h.Set("Stripe-Signature", sig)
	return h
}

func TestStripeCoinPurchase(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"metadata": {"account_id": "42", "product_ref": "coins_500"},
			"amount_total": 499,
			"currency": "usd",
			"payment_intent": "pi_1"
		}}
	}`)

	ev, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, now.Unix(), body)))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, ProviderStripe, ev.Provider)
	assert.Equal(t, "evt_1", ev.ProviderTxID)
	assert.Equal(t, uint(42), ev.AccountID)
	assert.Equal(t, EventCoinPurchase, ev.Type)
	assert.Equal(t, models.PaymentKindCoins, ev.Kind)
	assert.Equal(t, int64(499), ev.AmountMinor)
	assert.Equal(t, "USD", ev.Currency)
	// Refunds will reference the payment intent, so it must be carried.
	assert.Equal(t, "pi_1", ev.PaymentRef)
}

func TestStripeSubscriptionCheckout(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	periodEnd := now.Add(30 * 24 * time.Hour).Unix()
	body := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"data": {"object": {
			"metadata": {"account_id": "7", "product_ref": "plus_monthly"},
			"subscription": "sub_abc",
			"current_period_end": %d
		}}
	}`, periodEnd))

	ev, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, now.Unix(), body)))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, ev.Type)
	assert.Equal(t, "sub_abc", ev.ProviderSubID)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, periodEnd, ev.PeriodEnd.Unix())
}

func TestStripeRefundCarriesReference(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{
		"id": "evt_3",
		"type": "charge.refunded",
		"data": {"object": {
			"metadata": {"account_id": "7"},
			"payment_intent": "pi_original",
			"amount_total": 499,
			"currency": "usd"
		}}
	}`)

	ev, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, now.Unix(), body)))
	require.NoError(t, err)
	assert.Equal(t, EventRefund, ev.Type)
	assert.Equal(t, "pi_original", ev.RefTxID)
}

func TestStripeRejectsBadSignature(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{"id": "evt_4", "type": "invoice.paid", "data": {"object": {"metadata": {"account_id": "7"}}}}`)

	cases := map[string]string{
		"missing header":  "",
		"wrong secret":    stripeSign(t, "whsec_other", now.Unix(), body),
		"tampered body":   stripeSign(t, stripeSecret, now.Unix(), []byte(`{"id":"evt_x"}`)),
		"no v1 component": fmt.Sprintf("t=%d", now.Unix()),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Normalize(context.Background(), body, stripeHeaders(sig))
			require.Error(t, err)
			assert.True(t, IsVerificationError(err))
		})
	}
}

func TestStripeRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{"id": "evt_5", "type": "invoice.paid", "data": {"object": {"metadata": {"account_id": "7"}}}}`)

	stale := now.Add(-6 * time.Minute).Unix()
	_, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, stale, body)))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))

	// Within tolerance the same delivery passes.
	fresh := now.Add(-4 * time.Minute).Unix()
	_, err = a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, fresh, body)))
	assert.NoError(t, err)
}

func TestStripeUnknownProductIsRejected(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{
		"id": "evt_6",
		"type": "checkout.session.completed",
		"data": {"object": {"metadata": {"account_id": "7", "product_ref": "coins_9999"}}}
	}`)

	_, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, now.Unix(), body)))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
}

func TestStripeIgnoresUnsubscribedEventTypes(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{
		"id": "evt_7",
		"type": "customer.created",
		"data": {"object": {"metadata": {"account_id": "7"}}}
	}`)

	ev, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, now.Unix(), body)))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestStripeMissingAccountMetadata(t *testing.T) {
	now := time.Now()
	a := newStripeAdapter(now)
	body := []byte(`{"id": "evt_8", "type": "invoice.paid", "data": {"object": {"metadata": {}}}}`)

	_, err := a.Normalize(context.Background(), body, stripeHeaders(stripeSign(t, stripeSecret, now.Unix(), body)))
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
}
