// Package fx provides an optional fiat valuation of satoshi amounts. When
// disabled it is inert: no network access, empty strings.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

var satsPerBTC = decimal.NewFromInt(btcutil.SatoshiPerBitcoin)

// Rates fetches and caches the BTC price in one fiat currency from the
// mempool.space prices endpoint.
type Rates struct {
	mu        sync.Mutex
	enabled   bool
	currency  string
	apiBase   string
	client    *http.Client
	ttl       time.Duration
	fetchedAt time.Time
	price     decimal.Decimal
	havePrice bool
}

// New returns a rate source. A disabled source never fetches.
func New(enabled bool, currency, apiBase string, ttl time.Duration) *Rates {
	return &Rates{
		enabled:  enabled,
		currency: currency,
		apiBase:  apiBase,
		client:   &http.Client{Timeout: 10 * time.Second},
		ttl:      ttl,
	}
}

// Enabled reports whether fiat display is on.
func (r *Rates) Enabled() bool {
	return r.enabled
}

// Currency returns the configured fiat currency code.
func (r *Rates) Currency() string {
	return r.currency
}

// FiatValue renders the amount in fiat, e.g. "58.75 USD". It returns "" if
// fiat display is disabled or no price is known yet.
func (r *Rates) FiatValue(amt btcutil.Amount) string {
	if !r.enabled {
		return ""
	}
	price, ok := r.currentPrice()
	if !ok {
		return ""
	}
	value := price.Mul(decimal.NewFromInt(int64(amt))).Div(satsPerBTC)
	return fmt.Sprintf("%s %s", value.StringFixed(2), r.currency)
}

func (r *Rates) currentPrice() (decimal.Decimal, bool) {
	r.mu.Lock()
	fresh := r.havePrice && time.Since(r.fetchedAt) < r.ttl
	price := r.price
	have := r.havePrice
	r.mu.Unlock()
	if fresh {
		return price, true
	}
	if err := r.Refresh(context.Background()); err != nil {
		// A stale price beats none at all.
		return price, have
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.price, r.havePrice
}

// Refresh fetches the current price table.
func (r *Rates) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", r.apiBase+"/api/v1/prices", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("price fetch failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var prices map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return fmt.Errorf("failed to decode price response: %v", err)
	}
	raw, ok := prices[r.currency]
	if !ok {
		return fmt.Errorf("no price for currency %s", r.currency)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return fmt.Errorf("bad price value for %s: %v", r.currency, err)
	}

	r.mu.Lock()
	r.price = price
	r.havePrice = true
	r.fetchedAt = time.Now()
	r.mu.Unlock()
	return nil
}
