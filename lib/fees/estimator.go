package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Recommendation is the mempool.space fee recommendation, in sat/vB.
type Recommendation struct {
	FastestFee  float64 `json:"fastestFee"`
	HalfHourFee float64 `json:"halfHourFee"`
	HourFee     float64 `json:"hourFee"`
	EconomyFee  float64 `json:"economyFee"`
	MinimumFee  float64 `json:"minimumFee"`
}

// fallbackRecommendation is used until a live fetch has succeeded.
var fallbackRecommendation = Recommendation{
	FastestFee: 5, HalfHourFee: 4, HourFee: 3, EconomyFee: 2, MinimumFee: 1,
}

// mempoolBlock is one projected block from /api/v1/fees/mempool-blocks.
type mempoolBlock struct {
	BlockVSize float64 `json:"blockVSize"`
	MedianFee  float64 `json:"medianFee"`
	NTx        int     `json:"nTx"`
}

// Estimator maps (method, slider position) to a fee rate and a target
// description. Live data comes from the mempool.space REST API and is
// cached; while no fetch has succeeded conservative fallback values are
// used so the slider always resolves to a usable rate.
type Estimator struct {
	mu        sync.Mutex
	apiBase   string
	client    *http.Client
	ttl       time.Duration
	fetchedAt time.Time
	rec       Recommendation
	blocks    []mempoolBlock
	haveLive  bool
	subs      map[int]func()
	nextSub   int
}

// NewEstimator returns an estimator backed by the given API base URL
// (e.g. "https://mempool.space"). The cache is considered fresh for ttl.
func NewEstimator(apiBase string, ttl time.Duration) *Estimator {
	return &Estimator{
		apiBase: apiBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
		rec:     fallbackRecommendation,
		subs:    make(map[int]func()),
	}
}

// Subscribe registers fn to run after every refresh that changed the rate
// tables. The returned func unregisters it.
func (e *Estimator) Subscribe(fn func()) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Refresh fetches the recommendation and projected mempool blocks. A fetch
// inside the TTL window is a no-op. Errors leave the previous tables in
// place.
func (e *Estimator) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.haveLive && time.Since(e.fetchedAt) < e.ttl {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	var rec Recommendation
	if err := e.getJSON(ctx, "/api/v1/fees/recommended", &rec); err != nil {
		return fmt.Errorf("fee recommendation fetch failed: %v", err)
	}

	var blocks []mempoolBlock
	if err := e.getJSON(ctx, "/api/v1/fees/mempool-blocks", &blocks); err != nil {
		// The recommendation alone is still usable; depth targets fall
		// back to the recommendation ladder.
		log.Printf("mempool-blocks fetch failed: %v", err)
		blocks = nil
	}

	e.mu.Lock()
	changed := rec != e.rec || !slices.Equal(blocks, e.blocks) || !e.haveLive
	e.rec = rec
	e.blocks = blocks
	e.haveLive = true
	e.fetchedAt = time.Now()
	var notify []func()
	if changed {
		for _, fn := range e.subs {
			notify = append(notify, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// AutoRefresh refreshes on the given interval until ctx is cancelled.
func (e *Estimator) AutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				log.Printf("fee estimator refresh failed: %v", err)
			}
		}
	}
}

func (e *Estimator) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", e.apiBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RateForPosition resolves a slider position on the given method's scale to
// a sat/vB rate and a short target description. Positions outside the scale
// are clamped. It never blocks on the network.
func (e *Estimator) RateForPosition(m Method, pos int) (float64, string) {
	if pos < 0 {
		pos = 0
	}
	if pos > Steps(m) {
		pos = Steps(m)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch m {
	case ETA:
		blocks := etaTargets[pos]
		rate := e.rateForETA(blocks)
		if blocks == 1 {
			return rate, "next block"
		}
		return rate, fmt.Sprintf("within %d blocks", blocks)
	case Mempool:
		depth := depthTargets[pos]
		return e.rateForDepth(pos, depth),
			fmt.Sprintf("%.2f MB from tip", float64(depth)/1_000_000)
	default:
		rate := staticRates[pos]
		return rate, strconv.FormatFloat(rate, 'f', -1, 64) + " sat/vB"
	}
}

func (e *Estimator) rateForETA(blocks int) float64 {
	switch {
	case blocks <= 1:
		return e.rec.FastestFee
	case blocks <= 2:
		return e.rec.HalfHourFee
	case blocks <= 5:
		return e.rec.HourFee
	case blocks <= 10:
		return e.rec.EconomyFee
	default:
		return e.rec.MinimumFee
	}
}

func (e *Estimator) rateForDepth(pos int, depth int64) float64 {
	if len(e.blocks) > 0 {
		var cum float64
		for _, b := range e.blocks {
			cum += b.BlockVSize
			if cum >= float64(depth) {
				return b.MedianFee
			}
		}
		// Target deeper than the whole mempool: anything above the floor
		// confirms within it.
		return e.rec.MinimumFee
	}
	// No projected blocks available: map the depth ladder onto the
	// recommendation ladder, deepest to fastest.
	ladder := []float64{
		e.rec.MinimumFee, e.rec.EconomyFee, e.rec.HourFee,
		e.rec.HalfHourFee, e.rec.FastestFee, e.rec.FastestFee,
	}
	if pos >= len(ladder) {
		pos = len(ladder) - 1
	}
	return ladder[pos]
}
