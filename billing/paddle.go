package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ascendhq/ascend/models"
	"github.com/shopspring/decimal"
)

// PaddleConfig carries the checkout platform's webhook secret.
type PaddleConfig struct {
	WebhookSecret string
}

// PaddleAdapter normalizes Paddle Billing webhook deliveries. The
// Paddle-Signature header carries "ts=<unix>;h1=<hex>" where h1 is an
// HMAC-SHA256 over "<ts>:<body>". Paddle sends money as decimal strings;
// they are parsed into minor units here so nothing downstream handles
// floating point.
type PaddleAdapter struct {
	cfg     PaddleConfig
	catalog *Catalog
}

func NewPaddleAdapter(cfg PaddleConfig, catalog *Catalog) *PaddleAdapter {
	return &PaddleAdapter{cfg: cfg, catalog: catalog}
}

func (a *PaddleAdapter) Provider() string { return ProviderPaddle }

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID         string `json:"id"`
		CustomData struct {
			AccountID string `json:"account_id"`
		} `json:"custom_data"`
		Items []struct {
			Price struct {
				ProductID string `json:"product_id"`
			} `json:"price"`
		} `json:"items"`
		Details struct {
			Totals struct {
				Total        string `json:"total"`
				CurrencyCode string `json:"currency_code"`
			} `json:"totals"`
		} `json:"details"`
		SubscriptionID string `json:"subscription_id"`
		TransactionID  string `json:"transaction_id"`
		BillingPeriod  struct {
			EndsAt string `json:"ends_at"`
		} `json:"billing_period"`
	} `json:"data"`
}

func (a *PaddleAdapter) Normalize(ctx context.Context, body []byte, headers http.Header) (*PaymentEvent, error) {
	if err := a.verifySignature(body, headers.Get("Paddle-Signature")); err != nil {
		return nil, err
	}

	var ev paddleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &VerificationError{Provider: ProviderPaddle, Reason: "unparseable payload", Err: err}
	}
	if ev.EventID == "" {
		return nil, &VerificationError{Provider: ProviderPaddle, Reason: "missing event id"}
	}

	accountID, err := parseAccountID(ev.Data.CustomData.AccountID)
	if err != nil {
		return nil, &VerificationError{Provider: ProviderPaddle, Reason: "bad account metadata", Err: err}
	}

	amount, err := parseMinorUnits(ev.Data.Details.Totals.Total)
	if err != nil {
		return nil, &VerificationError{Provider: ProviderPaddle, Reason: "bad amount", Err: err}
	}

	var productRef string
	if len(ev.Data.Items) > 0 {
		productRef = ev.Data.Items[0].Price.ProductID
	}

	out := &PaymentEvent{
		Provider:      ProviderPaddle,
		ProviderTxID:  ev.EventID,
		ProviderSubID: ev.Data.SubscriptionID,
		AccountID:     accountID,
		AmountMinor:   amount,
		Currency:      strings.ToUpper(ev.Data.Details.Totals.CurrencyCode),
		ProductRef:    productRef,
		// Adjustments reference the transaction id, not the event id.
		PaymentRef: ev.Data.ID,
	}
	if ev.Data.SubscriptionID == "" {
		out.ProviderSubID = ev.Data.ID
	}
	if raw := ev.Data.BillingPeriod.EndsAt; raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &VerificationError{Provider: ProviderPaddle, Reason: "bad billing period end", Err: err}
		}
		out.PeriodEnd = &end
	}

	switch ev.EventType {
	case "transaction.completed":
		product, ok := a.catalog.Lookup(productRef)
		if !ok {
			return nil, &VerificationError{Provider: ProviderPaddle,
				Reason: fmt.Sprintf("unknown product ref %q", productRef)}
		}
		out.Kind = product.Kind
		if product.Kind == models.PaymentKindSubscription {
			// The first transaction of a lineage arrives alongside
			// subscription.activated; subsequent ones are renewals.
			out.Type = EventSubscriptionRenewed
		} else {
			out.Type = EventCoinPurchase
		}
	case "subscription.activated":
		out.Type = EventSubscriptionCreated
		out.Kind = models.PaymentKindSubscription
	case "subscription.canceled":
		out.Type = EventSubscriptionCancelled
		out.Kind = models.PaymentKindSubscription
	case "subscription.paused":
		out.Type = EventSubscriptionPaused
		out.Kind = models.PaymentKindSubscription
	case "subscription.resumed":
		out.Type = EventSubscriptionResumed
		out.Kind = models.PaymentKindSubscription
	case "subscription.past_due":
		out.Type = EventPaymentFailed
		out.Kind = models.PaymentKindSubscription
	case "adjustment.created":
		out.Type = EventRefund
		out.RefTxID = ev.Data.TransactionID
	default:
		// Unsubscribed event types are acknowledged and dropped.
		return nil, nil
	}

	return out, nil
}

func (a *PaddleAdapter) verifySignature(body []byte, header string) error {
	if header == "" {
		return &VerificationError{Provider: ProviderPaddle, Reason: "missing signature header"}
	}

	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "h1":
			h1 = kv[1]
		}
	}
	if ts == "" || h1 == "" {
		return &VerificationError{Provider: ProviderPaddle, Reason: "malformed signature header"}
	}

	sig, err := hex.DecodeString(h1)
	if err != nil {
		return &VerificationError{Provider: ProviderPaddle, Reason: "bad signature encoding", Err: err}
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return &VerificationError{Provider: ProviderPaddle, Reason: "signature mismatch"}
	}
	return nil
}

// parseMinorUnits converts a decimal money string ("4.99") into minor units
// (499) without going through floats.
func parseMinorUnits(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d.Shift(2).Truncate(0).IntPart(), nil
}
