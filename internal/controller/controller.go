// Package controller mediates between user gestures and the wallet
// engine's transaction finalizer. Writes flow one way: user-originated
// changes are forwarded to the finalizer, and the finalizer's recomputed
// state is mirrored back through a single observation entry point. The
// controller never computes fees itself.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/brightwallet/sendcore/lib/fees"
	"github.com/brightwallet/sendcore/lib/finalizer"
)

// State is the workflow state of the send dialog.
type State int

const (
	StateEditing State = iota
	StateConfirming
	StateSent
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateEditing:
		return "editing"
	case StateConfirming:
		return "confirming"
	case StateSent:
		return "sent"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CommitPolicy controls when slider drags are forwarded to the finalizer.
type CommitPolicy int

const (
	// CommitContinuous forwards every position change during a drag.
	CommitContinuous CommitPolicy = iota
	// CommitOnRelease buffers drag positions and forwards the last one
	// when the drag ends.
	CommitOnRelease
)

// Finalizer is the engine port the controller drives.
// *finalizer.TxFinalizer satisfies it; tests substitute fakes.
type Finalizer interface {
	SetAddress(addr string)
	SetAmount(amt btcutil.Amount)
	SetMethod(m fees.Method)
	SetSliderPosition(pos int)
	SetRBF(enabled bool)
	Snapshot() finalizer.Snapshot
	Subscribe(fn func()) (unsubscribe func())
	SendOnchain(ctx context.Context) (chainhash.Hash, error)
}

// Snapshot is the read-only controller state handed to the presentation
// layer on every change.
type Snapshot struct {
	State State
	Draft finalizer.Snapshot
}

// CanConfirm reports whether the confirm action is enabled.
func (s Snapshot) CanConfirm() bool {
	return s.State == StateEditing && s.Draft.Valid
}

// InputError reports malformed local input. It never reaches the engine
// and never moves the workflow out of editing.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

var (
	// ErrNotValid rejects a confirm while the draft is not valid.
	ErrNotValid = errors.New("draft is not valid")
	// ErrNotEditing rejects edits outside the editing state.
	ErrNotEditing = errors.New("send workflow is no longer editable")
	// ErrConfirming rejects cancellation once a broadcast is in flight.
	ErrConfirming = errors.New("cannot cancel while broadcast is in flight")
)

// Controller is the fee-negotiation mediator for one send workflow. It is
// safe for the finalizer to deliver change callbacks from another
// goroutine; gesture methods themselves are expected from the single
// presentation event queue.
type Controller struct {
	mu     sync.Mutex
	fin    Finalizer
	policy CommitPolicy

	state   State
	view    finalizer.Snapshot
	amtSet  bool
	inputWn string

	dragging   bool
	pendingPos int
	hasPending bool

	unsub    func()
	onUpdate func(Snapshot)
}

// New wires a controller to its finalizer and registers the single change
// callback. onUpdate, when non-nil, receives a snapshot after every state
// change; it is invoked without internal locks held.
func New(fin Finalizer, policy CommitPolicy, onUpdate func(Snapshot)) *Controller {
	c := &Controller{
		fin:      fin,
		policy:   policy,
		state:    StateEditing,
		onUpdate: onUpdate,
	}
	c.view = fin.Snapshot()
	c.unsub = fin.Subscribe(c.observeFinalizerChange)
	return c
}

// observeFinalizerChange is the single authoritative sync point: every
// UI-facing field is refreshed here and nowhere else. It never writes back
// to the finalizer, so engine-originated updates cannot echo.
func (c *Controller) observeFinalizerChange() {
	snap := c.fin.Snapshot()
	c.mu.Lock()
	c.view = snap
	out := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(out)
}

func (c *Controller) emit(snap Snapshot) {
	if c.onUpdate != nil {
		c.onUpdate(snap)
	}
}

// snapshotLocked builds the outward snapshot. Callers hold c.mu.
func (c *Controller) snapshotLocked() Snapshot {
	draft := c.view
	if c.inputWn != "" && draft.Warning == "" {
		draft.Warning = c.inputWn
	}
	return Snapshot{State: c.state, Draft: draft}
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SetAddress forwards the recipient address to the finalizer, which owns
// address validation.
func (c *Controller) SetAddress(addr string) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrNotEditing
	}
	if addr == c.view.Address {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.fin.SetAddress(addr)
	return nil
}

// SetAmount forwards the send amount. Negative amounts are a local input
// error: they surface as a warning and are never forwarded.
func (c *Controller) SetAmount(amt btcutil.Amount) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrNotEditing
	}
	if amt < 0 {
		c.inputWn = "amount must not be negative"
		out := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(out)
		return &InputError{Msg: "amount must not be negative"}
	}
	c.inputWn = ""
	if c.amtSet && amt == c.view.Amount {
		// Same value twice: no engine write, no recomputation storm.
		c.mu.Unlock()
		return nil
	}
	c.amtSet = true
	c.mu.Unlock()
	c.fin.SetAmount(amt)
	return nil
}

// SelectMethod writes the fee method to the finalizer, then adopts the
// finalizer-supplied slider position and range. The position is never
// computed locally.
func (c *Controller) SelectMethod(m fees.Method) error {
	if !m.Valid() {
		return &InputError{Msg: fmt.Sprintf("unknown fee method %d", int(m))}
	}
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrNotEditing
	}
	c.hasPending = false
	c.mu.Unlock()
	c.fin.SetMethod(m)

	// The subscription already mirrored the new position and steps; a
	// final re-read covers finalizers that notify asynchronously.
	snap := c.fin.Snapshot()
	c.mu.Lock()
	c.view = snap
	c.mu.Unlock()
	return nil
}

// BeginSliderDrag marks the slider as user-held. Only while a drag is
// active do slider positions reach the finalizer.
func (c *Controller) BeginSliderDrag() {
	c.mu.Lock()
	c.dragging = true
	c.hasPending = false
	c.mu.Unlock()
}

// SetSliderPosition records a slider move. Without an active drag the call
// is ignored: an engine-originated mirror update must never be written
// back, or the slider oscillates. Out-of-range positions are rejected.
func (c *Controller) SetSliderPosition(pos int) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrNotEditing
	}
	if !c.dragging {
		c.mu.Unlock()
		return nil
	}
	if pos < 0 || pos > c.view.SliderSteps {
		c.mu.Unlock()
		return &InputError{Msg: fmt.Sprintf("slider position %d out of range [0, %d]", pos, c.view.SliderSteps)}
	}
	if c.policy == CommitOnRelease {
		c.pendingPos = pos
		c.hasPending = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.fin.SetSliderPosition(pos)
	return nil
}

// EndSliderDrag releases the slider. Under the on-release policy the last
// buffered position is forwarded now.
func (c *Controller) EndSliderDrag() {
	c.mu.Lock()
	c.dragging = false
	forward := c.hasPending
	pos := c.pendingPos
	c.hasPending = false
	c.mu.Unlock()
	if forward {
		c.fin.SetSliderPosition(pos)
	}
}

// SetRBF forwards the replace-by-fee flag.
func (c *Controller) SetRBF(enabled bool) error {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return ErrNotEditing
	}
	c.mu.Unlock()
	c.fin.SetRBF(enabled)
	return nil
}

// Confirm broadcasts the draft. It is a no-op error unless the draft is
// valid. Broadcast failures return the workflow to editing with the engine
// text as the warning, and confirm stays available for retry. Fatal engine
// errors are returned unconverted for the surrounding workflow.
func (c *Controller) Confirm(ctx context.Context) (chainhash.Hash, error) {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return chainhash.Hash{}, ErrNotEditing
	}
	if !c.view.Valid {
		c.mu.Unlock()
		return chainhash.Hash{}, ErrNotValid
	}
	c.state = StateConfirming
	out := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(out)

	txid, err := c.fin.SendOnchain(ctx)

	c.mu.Lock()
	if err != nil {
		// Recoverable or fatal, the dialog stays open for the caller to
		// decide; only a broadcast failure is retryable here.
		c.state = StateEditing
		out = c.snapshotLocked()
		c.mu.Unlock()
		c.emit(out)
		return chainhash.Hash{}, err
	}
	c.state = StateSent
	unsub := c.unsub
	c.unsub = nil
	out = c.snapshotLocked()
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.emit(out)
	return txid, nil
}

// Cancel discards the draft and unregisters the finalizer callback. It has
// no effect on wallet state. Cancelling an in-flight broadcast is not
// supported.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state == StateConfirming {
		c.mu.Unlock()
		return ErrConfirming
	}
	if c.state != StateEditing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateCancelled
	unsub := c.unsub
	c.unsub = nil
	out := c.snapshotLocked()
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.emit(out)
	return nil
}
