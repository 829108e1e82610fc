package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascendhq/ascend/models"
)

func TestMockVerifier(t *testing.T) {
	v := MockReceiptVerifier{}

	info, err := v.Verify(context.Background(), "plus_monthly:tx_1")
	require.NoError(t, err)
	assert.Equal(t, "plus_monthly", info.ProductID)
	assert.Equal(t, "tx_1", info.TransactionID)
	assert.Equal(t, "tx_1", info.OriginalTransactionID)

	info, err = v.Verify(context.Background(), "plus_monthly:tx_2:tx_1")
	require.NoError(t, err)
	assert.Equal(t, "tx_2", info.TransactionID)
	assert.Equal(t, "tx_1", info.OriginalTransactionID)

	_, err = v.Verify(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
}

func appStoreBody(t *testing.T, receipt string, accountID uint) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"receipt_data": receipt,
		"account_id":   accountID,
	})
	require.NoError(t, err)
	return b
}

func TestAppStoreAdapterPurchaseAndRenewal(t *testing.T) {
	a := NewAppStoreAdapter(MockReceiptVerifier{}, testCatalog())

	// First transaction of a lineage starts the subscription.
	ev, err := a.Normalize(context.Background(), appStoreBody(t, "plus_monthly:tx_1", 42), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, ProviderAppStore, ev.Provider)
	assert.Equal(t, "tx_1", ev.ProviderTxID)
	assert.Equal(t, "tx_1", ev.ProviderSubID)
	assert.Equal(t, uint(42), ev.AccountID)
	assert.Equal(t, EventSubscriptionCreated, ev.Type)

	// A later transaction in the same lineage is a renewal.
	ev, err = a.Normalize(context.Background(), appStoreBody(t, "plus_monthly:tx_2:tx_1", 42), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "tx_2", ev.ProviderTxID)
	assert.Equal(t, "tx_1", ev.ProviderSubID)
	assert.Equal(t, EventSubscriptionRenewed, ev.Type)

	// Consumables map to coin purchases.
	ev, err = a.Normalize(context.Background(), appStoreBody(t, "coins_500:tx_3", 42), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, EventCoinPurchase, ev.Type)
	assert.Equal(t, models.PaymentKindCoins, ev.Kind)
}

func TestAppStoreAdapterRejections(t *testing.T) {
	a := NewAppStoreAdapter(MockReceiptVerifier{}, testCatalog())

	_, err := a.Normalize(context.Background(), []byte(`{"account_id": 42}`), http.Header{})
	assert.True(t, IsVerificationError(err))

	_, err = a.Normalize(context.Background(), appStoreBody(t, "plus_monthly:tx_1", 0), http.Header{})
	assert.True(t, IsVerificationError(err))

	_, err = a.Normalize(context.Background(), appStoreBody(t, "unknown_sku:tx_1", 42), http.Header{})
	assert.True(t, IsVerificationError(err))
}

func TestAppStoreVerifierSandboxRetry(t *testing.T) {
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": 0,
			"receipt": map[string]interface{}{
				"in_app": []map[string]string{{
					"transaction_id":          "tx_1",
					"original_transaction_id": "tx_1",
					"product_id":              "plus_monthly",
					"purchase_date_ms":        "1700000000000",
					"expires_date_ms":         "1702600000000",
				}},
			},
		})
	}))
	defer sandbox.Close()

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Sandbox receipt posted to production.
		_ = json.NewEncoder(w).Encode(map[string]int{"status": 21007})
	}))
	defer production.Close()

	v := NewAppStoreVerifier(AppStoreConfig{
		SharedSecret: "shared",
		VerifyURL:    production.URL,
		SandboxURL:   sandbox.URL,
		Timeout:      2 * time.Second,
	})

	info, err := v.Verify(context.Background(), "base64receipt")
	require.NoError(t, err)
	assert.Equal(t, "tx_1", info.TransactionID)
	assert.Equal(t, "plus_monthly", info.ProductID)
	require.NotNil(t, info.ExpiresAt)
	assert.Equal(t, int64(1702600000000), info.ExpiresAt.UnixMilli())
}

func TestAppStoreVerifierGarbledPurchaseDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": 0,
			"receipt": map[string]interface{}{
				"in_app": []map[string]string{{
					"transaction_id":          "tx_1",
					"original_transaction_id": "tx_1",
					"product_id":              "coins_500",
					"purchase_date_ms":        "not-a-number",
				}},
			},
		})
	}))
	defer srv.Close()

	v := NewAppStoreVerifier(AppStoreConfig{VerifyURL: srv.URL, SandboxURL: srv.URL, Timeout: 2 * time.Second})
	_, err := v.Verify(context.Background(), "receipt")
	// Must surface, not silently become a 1970 purchase date.
	require.Error(t, err)
	assert.ErrorContains(t, err, "purchase date")
}

func TestAppStoreVerifierRejectedReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"status": 21003})
	}))
	defer srv.Close()

	v := NewAppStoreVerifier(AppStoreConfig{VerifyURL: srv.URL, SandboxURL: srv.URL, Timeout: 2 * time.Second})
	_, err := v.Verify(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, IsVerificationError(err))
}

func TestAppStoreVerifierTransportFailureIsNotVerification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewAppStoreVerifier(AppStoreConfig{VerifyURL: srv.URL, SandboxURL: srv.URL, Timeout: 2 * time.Second})
	_, err := v.Verify(context.Background(), "receipt")
	require.Error(t, err)
	// Transient outage, not a rejection; the caller maps this to a retryable status.
	assert.False(t, IsVerificationError(err))
}
