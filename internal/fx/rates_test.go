package fx

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func priceServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/api/v1/prices", r.URL.Path)
		w.Write([]byte(`{"time":1724500000,"USD":100000,"EUR":92000.5}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDisabledRatesAreInert(t *testing.T) {
	var hits int32
	srv := priceServer(t, &hits)

	r := New(false, "USD", srv.URL, time.Minute)
	assert.False(t, r.Enabled())
	assert.Empty(t, r.FiatValue(50_000))
	assert.Zero(t, atomic.LoadInt32(&hits), "disabled rates never touch the network")
}

func TestFiatValue(t *testing.T) {
	var hits int32
	srv := priceServer(t, &hits)

	r := New(true, "USD", srv.URL, time.Minute)
	// 50,000 sats at 100,000 USD/BTC.
	assert.Equal(t, "50.00 USD", r.FiatValue(50_000))
	assert.Equal(t, "1000.00 USD", r.FiatValue(1_000_000))

	// Both lookups served from one fetch within the TTL.
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFiatValueFractionalPrice(t *testing.T) {
	var hits int32
	srv := priceServer(t, &hits)

	r := New(true, "EUR", srv.URL, time.Minute)
	assert.Equal(t, "46.00 EUR", r.FiatValue(50_000))
}

func TestUnknownCurrencyYieldsNothing(t *testing.T) {
	var hits int32
	srv := priceServer(t, &hits)

	r := New(true, "JPY", srv.URL, time.Minute)
	assert.Empty(t, r.FiatValue(50_000))
}

func TestStalePriceSurvivesServerLoss(t *testing.T) {
	var hits int32
	srv := priceServer(t, &hits)

	r := New(true, "USD", srv.URL, 0) // every lookup refetches
	assert.Equal(t, "50.00 USD", r.FiatValue(50_000))

	srv.Close()
	assert.Equal(t, "50.00 USD", r.FiatValue(50_000), "stale price beats none at all")
}
