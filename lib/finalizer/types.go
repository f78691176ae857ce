package finalizer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/brightwallet/sendcore/lib/fees"
)

// Output is one output of the draft transaction, recipient first, change
// (if any) last.
type Output struct {
	Address  string
	Value    btcutil.Amount
	PkScript []byte
	Change   bool
}

// Snapshot is a point-in-time copy of the draft transaction state. All
// UI-facing fields derive from it; the presentation side never computes fee
// math of its own.
type Snapshot struct {
	Address     string
	Amount      btcutil.Amount
	Method      fees.Method
	SliderPos   int
	SliderSteps int
	FeeRate     float64 // sat/vB
	Fee         btcutil.Amount
	Target      string
	RBF         bool
	Warning     string
	Valid       bool
	Outputs     []Output
}

// BroadcastError reports a failed broadcast attempt. The text is the engine
// or server error verbatim; it is recoverable by retrying.
type BroadcastError struct {
	Err error
}

func (e *BroadcastError) Error() string {
	return e.Err.Error()
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// FatalError reports an engine state this workflow cannot recover from
// (no signer, wallet locked, draft sent while invalid). It is propagated to
// the surrounding workflow unconverted.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("wallet engine unavailable: %s", e.Reason)
}
