package billing

import (
	"context"
	"net/http"

	"github.com/ascendhq/ascend/config"
	"github.com/ascendhq/ascend/models"
)

// Adapter translates one provider's raw webhook payload into a canonical
// PaymentEvent. Adapters verify authenticity before constructing an event
// and never touch the database.
type Adapter interface {
	Provider() string
	Normalize(ctx context.Context, body []byte, headers http.Header) (*PaymentEvent, error)
}

// Product is one sellable item resolved from the catalog.
type Product struct {
	Ref   string
	Kind  string
	Coins int64
	Tier  string
	Cycle string
}

// Catalog resolves provider product references. An unrecognized ref is a
// hard error on the adapter path, never a silent drop.
type Catalog struct {
	byRef map[string]Product
}

// NewCatalog builds a catalog from configuration.
func NewCatalog(products []config.ProductConfig) *Catalog {
	byRef := make(map[string]Product, len(products))
	for _, p := range products {
		kind := models.PaymentKindItem
		switch p.Kind {
		case "coins":
			kind = models.PaymentKindCoins
		case "subscription":
			kind = models.PaymentKindSubscription
		}
		byRef[p.Ref] = Product{Ref: p.Ref, Kind: kind, Coins: p.Coins, Tier: p.Tier, Cycle: p.Cycle}
	}
	return &Catalog{byRef: byRef}
}

// Lookup returns the product for ref.
func (c *Catalog) Lookup(ref string) (Product, bool) {
	p, ok := c.byRef[ref]
	return p, ok
}
