package controllers_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ascendhq/ascend/billing"
	"github.com/ascendhq/ascend/config"
	"github.com/ascendhq/ascend/controllers"
	"github.com/ascendhq/ascend/gate"
	"github.com/ascendhq/ascend/ledger"
	"github.com/ascendhq/ascend/models"
	"github.com/ascendhq/ascend/payments"
	"github.com/ascendhq/ascend/progression"
	"github.com/ascendhq/ascend/subscription"
	"github.com/ascendhq/ascend/testutil"
	"github.com/ascendhq/ascend/utils"
)

const webhookStripeSecret = "whsec_router"

type webhookFixture struct {
	db     *gorm.DB
	led    *ledger.Service
	router *gin.Engine
}

type fakeTierCache struct{}

func (fakeTierCache) Get(ctx context.Context, accountID uint) (string, bool) { return "", false }
func (fakeTierCache) Set(ctx context.Context, accountID uint, tier string, ttl time.Duration) {
}
func (fakeTierCache) Invalidate(ctx context.Context, accountID uint) {}

type fakeUsageStore struct{}

func (fakeUsageStore) Count(ctx context.Context, accountID uint, featureKey, date string) (int64, error) {
	return 0, nil
}
func (fakeUsageStore) Incr(ctx context.Context, accountID uint, featureKey, date string) (int64, error) {
	return 1, nil
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	require.NoError(t, progression.SeedAchievements(db))

	levels, err := progression.NewLevels([]int64{0, 100, 250, 500, 1000})
	require.NoError(t, err)

	led := ledger.New(db)
	prog := progression.New(db, led, progression.Config{
		Levels:       levels,
		StreakWindow: 48 * time.Hour,
		ActivityXP:   10,
	})
	catalog := billing.NewCatalog([]config.ProductConfig{
		{Ref: "coins_500", Kind: "coins", Coins: 500},
	})
	gt := gate.NewEvaluator(db, gate.DefaultFeatures(), fakeTierCache{}, fakeUsageStore{})
	proc := payments.NewProcessor(billing.NewGuard(db), led, subscription.New(db), prog, gt, catalog, 5)

	stripe := billing.NewStripeAdapter(billing.StripeConfig{
		WebhookSecret: webhookStripeSecret,
		Tolerance:     5 * time.Minute,
	}, catalog)
	wh := controllers.NewWebhookController(proc, stripe)

	r := gin.New()
	r.POST("/webhooks/:provider", wh.Receive)
	return &webhookFixture{db: db, led: led, router: r}
}

func (f *webhookFixture) deliver(t *testing.T, provider string, body []byte, sig string) (*httptest.ResponseRecorder, utils.JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp utils.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func signStripeBody(body []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookStripeSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func coinPurchaseBody(accountID uint, txID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%s",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "%s",
			"metadata": {"account_id": "%d", "product_ref": "coins_500"},
			"amount_total": 499,
			"currency": "usd",
			"payment_intent": "pi_%s"
		}}
	}`, txID, txID, accountID, txID))
}

func refundBody(accountID uint, txID, paymentIntent string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%s",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_%s",
			"metadata": {"account_id": "%d"},
			"payment_intent": "%s",
			"currency": "usd"
		}}
	}`, txID, txID, accountID, paymentIntent))
}

func TestWebhookUnknownProvider(t *testing.T) {
	f := newWebhookFixture(t)

	w, resp := f.deliver(t, "braintree", []byte(`{}`), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40420, resp.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	acct := testutil.NewAccount(t, f.db, 0)
	body := coinPurchaseBody(acct.ID, "cs_sig")

	w, resp := f.deliver(t, "stripe", body, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40021, resp.Code)

	bal, err := f.led.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestWebhookCoinPurchaseAndReplay(t *testing.T) {
	f := newWebhookFixture(t)
	acct := testutil.NewAccount(t, f.db, 0)
	body := coinPurchaseBody(acct.ID, "cs_live")

	w, resp := f.deliver(t, "stripe", body, signStripeBody(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)

	bal, err := f.led.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	// Redelivery of the same event acknowledges without a second credit.
	w, resp = f.deliver(t, "stripe", body, signStripeBody(body))
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["duplicate"])

	bal, err = f.led.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	var count int64
	require.NoError(t, f.db.Model(&models.PaymentTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWebhookRefundClawsBackPurchase(t *testing.T) {
	f := newWebhookFixture(t)
	acct := testutil.NewAccount(t, f.db, 0)

	// The purchase is recorded under its event id; the later refund
	// references the payment intent instead.
	purchase := coinPurchaseBody(acct.ID, "cs_1")
	w, _ := f.deliver(t, "stripe", purchase, signStripeBody(purchase))
	require.Equal(t, http.StatusOK, w.Code)

	refund := refundBody(acct.ID, "re_1", "pi_cs_1")
	w, resp := f.deliver(t, "stripe", refund, signStripeBody(refund))
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "applied", data["result"])

	bal, err := f.led.GetBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Zero(t, bal)

	var orig models.PaymentTransaction
	require.NoError(t, f.db.Where("provider_tx_id = ?", "evt_cs_1").First(&orig).Error)
	assert.Equal(t, models.PaymentStatusRefunded, orig.Status)
}

func TestWebhookIgnoredEventType(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"id": "evt_noise", "type": "charge.updated", "data": {"object": {"id": "ch_1"}}}`)

	w, resp := f.deliver(t, "stripe", body, signStripeBody(body))
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["ignored"])
}
