package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ascendhq/ascend/models"
)

// StripeConfig carries the adapter's secrets and knobs. It is passed in at
// construction; the adapter holds no ambient state.
type StripeConfig struct {
	WebhookSecret string
	Tolerance     time.Duration
}

// StripeAdapter normalizes Stripe webhook deliveries. Authenticity is an
// HMAC-SHA256 over "<timestamp>.<body>" carried in the Stripe-Signature
// header as "t=<ts>,v1=<hex>".
type StripeAdapter struct {
	cfg     StripeConfig
	catalog *Catalog
	now     func() time.Time
}

func NewStripeAdapter(cfg StripeConfig, catalog *Catalog) *StripeAdapter {
	return &StripeAdapter{cfg: cfg, catalog: catalog, now: time.Now}
}

func (a *StripeAdapter) Provider() string { return ProviderStripe }

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Metadata struct {
				AccountID  string `json:"account_id"`
				ProductRef string `json:"product_ref"`
			} `json:"metadata"`
			AmountTotal      int64  `json:"amount_total"`
			Currency         string `json:"currency"`
			Subscription     string `json:"subscription"`
			PaymentIntent    string `json:"payment_intent"`
			CurrentPeriodEnd int64  `json:"current_period_end"`
		} `json:"object"`
	} `json:"data"`
}

func (a *StripeAdapter) Normalize(ctx context.Context, body []byte, headers http.Header) (*PaymentEvent, error) {
	if err := a.verifySignature(body, headers.Get("Stripe-Signature")); err != nil {
		return nil, err
	}

	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &VerificationError{Provider: ProviderStripe, Reason: "unparseable payload", Err: err}
	}
	if ev.ID == "" {
		return nil, &VerificationError{Provider: ProviderStripe, Reason: "missing event id"}
	}

	accountID, err := parseAccountID(ev.Data.Object.Metadata.AccountID)
	if err != nil {
		return nil, &VerificationError{Provider: ProviderStripe, Reason: "bad account metadata", Err: err}
	}

	obj := ev.Data.Object
	out := &PaymentEvent{
		Provider:      ProviderStripe,
		ProviderTxID:  ev.ID,
		ProviderSubID: obj.Subscription,
		AccountID:     accountID,
		AmountMinor:   obj.AmountTotal,
		Currency:      strings.ToUpper(obj.Currency),
		ProductRef:    obj.Metadata.ProductRef,
		// Refunds reference the payment intent, not the event id.
		PaymentRef: obj.PaymentIntent,
	}
	if obj.CurrentPeriodEnd > 0 {
		end := time.Unix(obj.CurrentPeriodEnd, 0)
		out.PeriodEnd = &end
	}

	switch ev.Type {
	case "checkout.session.completed":
		product, ok := a.catalog.Lookup(obj.Metadata.ProductRef)
		if !ok {
			return nil, &VerificationError{Provider: ProviderStripe,
				Reason: fmt.Sprintf("unknown product ref %q", obj.Metadata.ProductRef)}
		}
		out.Kind = product.Kind
		if product.Kind == models.PaymentKindSubscription {
			out.Type = EventSubscriptionCreated
		} else {
			out.Type = EventCoinPurchase
		}
	case "invoice.paid":
		out.Type = EventSubscriptionRenewed
		out.Kind = models.PaymentKindSubscription
	case "invoice.payment_failed":
		out.Type = EventPaymentFailed
		out.Kind = models.PaymentKindSubscription
	case "customer.subscription.deleted":
		out.Type = EventSubscriptionCancelled
		out.Kind = models.PaymentKindSubscription
	case "customer.subscription.paused":
		out.Type = EventSubscriptionPaused
		out.Kind = models.PaymentKindSubscription
	case "customer.subscription.resumed":
		out.Type = EventSubscriptionResumed
		out.Kind = models.PaymentKindSubscription
	case "charge.refunded":
		out.Type = EventRefund
		out.RefTxID = obj.PaymentIntent
	default:
		// Event types outside the subscription are acknowledged and
		// dropped so the provider stops redelivering them.
		return nil, nil
	}

	return out, nil
}

// verifySignature checks the Stripe-Signature header against the shared
// webhook secret within the configured timestamp tolerance.
func (a *StripeAdapter) verifySignature(body []byte, header string) error {
	if header == "" {
		return &VerificationError{Provider: ProviderStripe, Reason: "missing signature header"}
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return &VerificationError{Provider: ProviderStripe, Reason: "bad signature timestamp", Err: err}
			}
			ts = v
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return &VerificationError{Provider: ProviderStripe, Reason: "malformed signature header"}
	}

	if age := a.now().Sub(time.Unix(ts, 0)); age > a.cfg.Tolerance || age < -a.cfg.Tolerance {
		return &VerificationError{Provider: ProviderStripe, Reason: "signature timestamp outside tolerance"}
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	expected := mac.Sum(nil)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return &VerificationError{Provider: ProviderStripe, Reason: "signature mismatch"}
}

// parseAccountID resolves the account correlation carried in provider
// metadata. A missing or malformed id is a hard error.
func parseAccountID(raw string) (uint, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing account correlation")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid account correlation %q", raw)
	}
	return uint(id), nil
}
