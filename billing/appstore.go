package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ascendhq/ascend/models"
)

// ReceiptInfo is the verified outcome of one store receipt.
type ReceiptInfo struct {
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	ExpiresAt             *time.Time
	PurchasedAt           time.Time
}

// ReceiptVerifier is the capability interface for mobile receipt
// verification. The real implementation calls the store server-to-server;
// a mock implementation is selected by configuration for development, never
// by sniffing credential values.
type ReceiptVerifier interface {
	Verify(ctx context.Context, receiptData string) (*ReceiptInfo, error)
}

// AppStoreConfig configures the receipt verification call.
type AppStoreConfig struct {
	SharedSecret string
	VerifyURL    string
	SandboxURL   string
	Timeout      time.Duration
}

// AppStoreVerifier verifies receipts against the App Store verifyReceipt
// endpoint. The call is bounded by the configured timeout; a timeout is a
// transient failure, not a rejection.
type AppStoreVerifier struct {
	cfg    AppStoreConfig
	client *http.Client
}

func NewAppStoreVerifier(cfg AppStoreConfig) *AppStoreVerifier {
	return &AppStoreVerifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type appStoreVerifyResponse struct {
	Status  int `json:"status"`
	Receipt struct {
		InApp []struct {
			TransactionID         string `json:"transaction_id"`
			OriginalTransactionID string `json:"original_transaction_id"`
			ProductID             string `json:"product_id"`
			PurchaseDateMS        string `json:"purchase_date_ms"`
			ExpiresDateMS         string `json:"expires_date_ms"`
		} `json:"in_app"`
	} `json:"receipt"`
}

func (v *AppStoreVerifier) Verify(ctx context.Context, receiptData string) (*ReceiptInfo, error) {
	info, status, err := v.post(ctx, v.cfg.VerifyURL, receiptData)
	if err != nil {
		return nil, err
	}
	// 21007: sandbox receipt sent to production, retry against sandbox.
	if status == 21007 {
		info, status, err = v.post(ctx, v.cfg.SandboxURL, receiptData)
		if err != nil {
			return nil, err
		}
	}
	if status != 0 {
		return nil, &VerificationError{Provider: ProviderAppStore, Reason: fmt.Sprintf("receipt rejected with status %d", status)}
	}
	return info, nil
}

func (v *AppStoreVerifier) post(ctx context.Context, url, receiptData string) (*ReceiptInfo, int, error) {
	payload, err := json.Marshal(map[string]string{
		"receipt-data": receiptData,
		"password":     v.cfg.SharedSecret,
	})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		// Transient: the caller responds non-2xx so the client retries.
		return nil, 0, fmt.Errorf("receipt verification call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("receipt verification returned HTTP %d", resp.StatusCode)
	}

	var out appStoreVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("receipt verification response unreadable: %w", err)
	}
	if out.Status != 0 {
		return nil, out.Status, nil
	}
	if len(out.Receipt.InApp) == 0 {
		return nil, 0, &VerificationError{Provider: ProviderAppStore, Reason: "receipt contains no transactions"}
	}

	// Latest transaction wins.
	last := out.Receipt.InApp[len(out.Receipt.InApp)-1]
	purchasedAt, err := parseMSEpoch(last.PurchaseDateMS)
	if err != nil {
		return nil, 0, fmt.Errorf("receipt purchase date unreadable: %w", err)
	}
	info := &ReceiptInfo{
		TransactionID:         last.TransactionID,
		OriginalTransactionID: last.OriginalTransactionID,
		ProductID:             last.ProductID,
		PurchasedAt:           purchasedAt,
	}
	if last.ExpiresDateMS != "" {
		t, err := parseMSEpoch(last.ExpiresDateMS)
		if err != nil {
			return nil, 0, fmt.Errorf("receipt expiry date unreadable: %w", err)
		}
		info.ExpiresAt = &t
	}
	return info, 0, nil
}

func parseMSEpoch(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// MockReceiptVerifier accepts receipts of the form
// "<product_ref>:<transaction_id>[:<original_transaction_id>]" and is used in
// development and tests.
type MockReceiptVerifier struct{}

func (MockReceiptVerifier) Verify(ctx context.Context, receiptData string) (*ReceiptInfo, error) {
	parts := strings.Split(receiptData, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, &VerificationError{Provider: ProviderAppStore, Reason: "mock receipt malformed"}
	}
	info := &ReceiptInfo{
		ProductID:             parts[0],
		TransactionID:         parts[1],
		OriginalTransactionID: parts[1],
		PurchasedAt:           time.Now(),
	}
	if len(parts) > 2 && parts[2] != "" {
		info.OriginalTransactionID = parts[2]
	}
	return info, nil
}

// AppStoreAdapter normalizes client-submitted store receipts. The
// authenticity check is the server-to-server verification call itself.
type AppStoreAdapter struct {
	verifier ReceiptVerifier
	catalog  *Catalog
}

func NewAppStoreAdapter(verifier ReceiptVerifier, catalog *Catalog) *AppStoreAdapter {
	return &AppStoreAdapter{verifier: verifier, catalog: catalog}
}

func (a *AppStoreAdapter) Provider() string { return ProviderAppStore }

type appStoreRequest struct {
	ReceiptData string `json:"receipt_data"`
	AccountID   uint   `json:"account_id"`
}

func (a *AppStoreAdapter) Normalize(ctx context.Context, body []byte, headers http.Header) (*PaymentEvent, error) {
	var req appStoreRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &VerificationError{Provider: ProviderAppStore, Reason: "unparseable payload", Err: err}
	}
	if req.ReceiptData == "" {
		return nil, &VerificationError{Provider: ProviderAppStore, Reason: "missing receipt data"}
	}
	if req.AccountID == 0 {
		return nil, &VerificationError{Provider: ProviderAppStore, Reason: "missing account correlation"}
	}

	info, err := a.verifier.Verify(ctx, req.ReceiptData)
	if err != nil {
		return nil, err
	}

	product, ok := a.catalog.Lookup(info.ProductID)
	if !ok {
		return nil, &VerificationError{Provider: ProviderAppStore,
			Reason: fmt.Sprintf("unknown product ref %q", info.ProductID)}
	}

	out := &PaymentEvent{
		Provider:      ProviderAppStore,
		ProviderTxID:  info.TransactionID,
		ProviderSubID: info.OriginalTransactionID,
		AccountID:     req.AccountID,
		Kind:          product.Kind,
		ProductRef:    info.ProductID,
		PeriodEnd:     info.ExpiresAt,
		PaymentRef:    info.TransactionID,
	}
	if product.Kind == models.PaymentKindSubscription {
		// The store reports renewals as fresh transactions sharing the
		// original transaction id of the lineage.
		if info.TransactionID == info.OriginalTransactionID {
			out.Type = EventSubscriptionCreated
		} else {
			out.Type = EventSubscriptionRenewed
		}
	} else {
		out.Type = EventCoinPurchase
	}
	return out, nil
}
