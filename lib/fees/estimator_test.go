package fees

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fastestFee":50,"halfHourFee":40,"hourFee":30,"economyFee":20,"minimumFee":10}`))
	})
	mux.HandleFunc("/api/v1/fees/mempool-blocks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"blockVSize":1000000,"medianFee":45,"nTx":3000},
			{"blockVSize":1000000,"medianFee":35,"nTx":2800},
			{"blockVSize":1000000,"medianFee":25,"nTx":2500}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMethodScales(t *testing.T) {
	assert.Equal(t, 11, Steps(Static))
	assert.Equal(t, 4, Steps(ETA))
	assert.Equal(t, 5, Steps(Mempool))

	for _, m := range []Method{Static, ETA, Mempool} {
		def := DefaultPosition(m)
		assert.GreaterOrEqual(t, def, 0)
		assert.LessOrEqual(t, def, Steps(m))
	}
}

func TestMethodTagsAreStable(t *testing.T) {
	// Engine tags: the zero value is Static even though the UI lists it
	// last.
	assert.Equal(t, 0, int(Static))
	assert.Equal(t, 1, int(ETA))
	assert.Equal(t, 2, int(Mempool))
	assert.False(t, Method(7).Valid())
}

func TestFallbackRatesWithoutNetwork(t *testing.T) {
	e := NewEstimator("http://127.0.0.1:0", time.Minute)

	rate, target := e.RateForPosition(Static, 2)
	assert.Equal(t, 5.0, rate)
	assert.Equal(t, "5 sat/vB", target)

	rate, target = e.RateForPosition(ETA, Steps(ETA))
	assert.Equal(t, fallbackRecommendation.FastestFee, rate)
	assert.Equal(t, "next block", target)

	rate, _ = e.RateForPosition(ETA, 0)
	assert.Equal(t, fallbackRecommendation.MinimumFee, rate)

	// Depth ladder falls back to the recommendation ladder.
	rate, target = e.RateForPosition(Mempool, 0)
	assert.Equal(t, fallbackRecommendation.MinimumFee, rate)
	assert.Equal(t, "10.00 MB from tip", target)
}

func TestLiveRates(t *testing.T) {
	srv := testServer(t)
	e := NewEstimator(srv.URL, time.Minute)
	require.NoError(t, e.Refresh(context.Background()))

	rate, _ := e.RateForPosition(ETA, Steps(ETA)) // next block
	assert.Equal(t, 50.0, rate)
	rate, _ = e.RateForPosition(ETA, 0) // 25 blocks
	assert.Equal(t, 10.0, rate)

	// 100k vbytes from the tip lands in the first projected block.
	rate, _ = e.RateForPosition(Mempool, Steps(Mempool))
	assert.Equal(t, 45.0, rate)
	// 2 MB reaches the second projected block.
	rate, _ = e.RateForPosition(Mempool, 2)
	assert.Equal(t, 35.0, rate)
	// 10 MB is deeper than the whole mempool.
	rate, _ = e.RateForPosition(Mempool, 0)
	assert.Equal(t, 10.0, rate)

	// Static ignores the network entirely.
	rate, _ = e.RateForPosition(Static, 0)
	assert.Equal(t, 1.0, rate)
}

func TestRatesAreMonotonePerScale(t *testing.T) {
	srv := testServer(t)
	e := NewEstimator(srv.URL, time.Minute)
	require.NoError(t, e.Refresh(context.Background()))

	for _, m := range []Method{Static, ETA, Mempool} {
		prev := -1.0
		for pos := 0; pos <= Steps(m); pos++ {
			rate, _ := e.RateForPosition(m, pos)
			assert.GreaterOrEqual(t, rate, prev, "method %s pos %d", m, pos)
			prev = rate
		}
	}
}

func TestOutOfRangePositionsClamp(t *testing.T) {
	e := NewEstimator("http://127.0.0.1:0", time.Minute)

	low, _ := e.RateForPosition(Static, -5)
	first, _ := e.RateForPosition(Static, 0)
	assert.Equal(t, first, low)

	high, _ := e.RateForPosition(Static, 99)
	last, _ := e.RateForPosition(Static, Steps(Static))
	assert.Equal(t, last, high)
}

func TestRefreshNotifiesSubscribersOnce(t *testing.T) {
	srv := testServer(t)
	e := NewEstimator(srv.URL, time.Minute)

	calls := 0
	unsub := e.Subscribe(func() { calls++ })
	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, 1, calls)

	// Within the TTL a refresh is a no-op.
	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, 1, calls)

	unsub()
}

func TestRefreshNotifiesWhenBlockFeesMove(t *testing.T) {
	median := 10.0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/fees/recommended", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fastestFee":50,"halfHourFee":40,"hourFee":30,"economyFee":20,"minimumFee":10}`))
	})
	mux.HandleFunc("/api/v1/fees/mempool-blocks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"blockVSize":1000000,"medianFee":%v,"nTx":3000}]`, median)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	e := NewEstimator(srv.URL, 0) // no caching
	calls := 0
	unsub := e.Subscribe(func() { calls++ })
	defer unsub()

	require.NoError(t, e.Refresh(context.Background()))
	require.Equal(t, 1, calls)
	rate, _ := e.RateForPosition(Mempool, Steps(Mempool))
	require.Equal(t, 10.0, rate)

	// Same block count, different median fee: still a table change.
	median = 50.0
	require.NoError(t, e.Refresh(context.Background()))
	assert.Equal(t, 2, calls)
	rate, _ = e.RateForPosition(Mempool, Steps(Mempool))
	assert.Equal(t, 50.0, rate)
}

func TestRefreshErrorKeepsPreviousTables(t *testing.T) {
	srv := testServer(t)
	e := NewEstimator(srv.URL, 0) // no caching
	require.NoError(t, e.Refresh(context.Background()))
	srv.Close()

	err := e.Refresh(context.Background())
	require.Error(t, err)

	rate, _ := e.RateForPosition(ETA, Steps(ETA))
	assert.Equal(t, 50.0, rate, "live table survives a failed refresh")
}
