package fees

import "fmt"

// Method selects how the fee rate for a draft transaction is chosen. The
// numeric values are engine tags and must not be reordered: Static is 0
// even though the UI lists it last.
type Method int

const (
	Static  Method = 0 // user supplies an explicit sat/vB rate
	ETA     Method = 1 // user supplies a confirmation-time target
	Mempool Method = 2 // user supplies a mempool-depth target
)

func (m Method) String() string {
	switch m {
	case Static:
		return "static"
	case ETA:
		return "eta"
	case Mempool:
		return "mempool"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Valid reports whether m is one of the known fee methods.
func (m Method) Valid() bool {
	return m == Static || m == ETA || m == Mempool
}

// Each method discretizes the slider differently. The ladders run from
// cheapest (position 0) to most aggressive.
var (
	staticRates  = []float64{1, 2, 5, 10, 20, 30, 50, 70, 100, 150, 200, 300}
	etaTargets   = []int{25, 10, 5, 2, 1}
	depthTargets = []int64{10_000_000, 5_000_000, 2_000_000, 1_000_000, 500_000, 100_000}
)

// Steps returns the maximum slider position for the method. Positions run
// over [0, Steps(m)].
func Steps(m Method) int {
	switch m {
	case ETA:
		return len(etaTargets) - 1
	case Mempool:
		return len(depthTargets) - 1
	default:
		return len(staticRates) - 1
	}
}

// DefaultPosition returns the slider position adopted when the method is
// selected. A stale position from another method is never carried over.
func DefaultPosition(m Method) int {
	switch m {
	case ETA:
		return 2
	case Mempool:
		return 2
	default:
		return 4
	}
}
