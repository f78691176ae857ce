package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightwallet/sendcore/lib/fees"
	"github.com/brightwallet/sendcore/lib/finalizer"
)

// fakeFinalizer implements the Finalizer port with the engine contract the
// controller relies on: it owns fee math (a flat 140-vbyte draft), resets
// the slider on method change and notifies subscribers after every
// recompute.
type fakeFinalizer struct {
	snap    finalizer.Snapshot
	balance btcutil.Amount

	writes   []string
	subs     map[int]func()
	nextSub  int
	unsubbed int

	sendErr  error
	sendHash chainhash.Hash
	sends    int
}

func newFakeFinalizer() *fakeFinalizer {
	f := &fakeFinalizer{
		balance: 60_000,
		subs:    make(map[int]func()),
	}
	f.snap.Method = fees.Static
	f.snap.SliderPos = fees.DefaultPosition(fees.Static)
	f.snap.SliderSteps = fees.Steps(fees.Static)
	f.recompute()
	return f
}

var fakeStaticRates = []float64{1, 2, 5, 10, 20, 30, 50, 70, 100, 150, 200, 300}

func (f *fakeFinalizer) recompute() {
	rate := float64(2)
	if f.snap.Method == fees.Static {
		rate = fakeStaticRates[f.snap.SliderPos]
	}
	f.snap.FeeRate = rate
	f.snap.Fee = btcutil.Amount(rate * 140)
	f.snap.Valid = f.snap.Address != "" && f.snap.Amount > 0 &&
		f.snap.Amount+f.snap.Fee <= f.balance
	if f.snap.Valid {
		f.snap.Warning = ""
	}
}

func (f *fakeFinalizer) notify() {
	for _, fn := range f.subs {
		fn()
	}
}

func (f *fakeFinalizer) SetAddress(addr string) {
	f.writes = append(f.writes, "address")
	f.snap.Address = addr
	f.recompute()
	f.notify()
}

func (f *fakeFinalizer) SetAmount(amt btcutil.Amount) {
	f.writes = append(f.writes, "amount")
	f.snap.Amount = amt
	f.recompute()
	f.notify()
}

func (f *fakeFinalizer) SetMethod(m fees.Method) {
	f.writes = append(f.writes, "method")
	f.snap.Method = m
	f.snap.SliderPos = fees.DefaultPosition(m)
	f.snap.SliderSteps = fees.Steps(m)
	f.recompute()
	f.notify()
}

func (f *fakeFinalizer) SetSliderPosition(pos int) {
	f.writes = append(f.writes, "slider")
	f.snap.SliderPos = pos
	f.recompute()
	f.notify()
}

func (f *fakeFinalizer) SetRBF(enabled bool) {
	f.writes = append(f.writes, "rbf")
	f.snap.RBF = enabled
	f.notify()
}

func (f *fakeFinalizer) Snapshot() finalizer.Snapshot {
	return f.snap
}

func (f *fakeFinalizer) Subscribe(fn func()) func() {
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		delete(f.subs, id)
		f.unsubbed++
	}
}

func (f *fakeFinalizer) SendOnchain(ctx context.Context) (chainhash.Hash, error) {
	f.sends++
	if f.sendErr != nil {
		if _, fatal := f.sendErr.(*finalizer.FatalError); !fatal {
			f.snap.Warning = f.sendErr.Error()
			f.notify()
			return chainhash.Hash{}, &finalizer.BroadcastError{Err: f.sendErr}
		}
		return chainhash.Hash{}, f.sendErr
	}
	return f.sendHash, nil
}

func (f *fakeFinalizer) countWrites(op string) int {
	n := 0
	for _, w := range f.writes {
		if w == op {
			n++
		}
	}
	return n
}

func editableController(t *testing.T, policy CommitPolicy) (*Controller, *fakeFinalizer) {
	t.Helper()
	fin := newFakeFinalizer()
	c := New(fin, policy, nil)
	require.NoError(t, c.SetAddress("bc1qexample"))
	require.NoError(t, c.SetAmount(50_000))
	return c, fin
}

func TestSelectMethodAdoptsFinalizerDefaults(t *testing.T) {
	c, _ := editableController(t, CommitContinuous)

	for _, m := range []fees.Method{fees.ETA, fees.Mempool, fees.Static} {
		require.NoError(t, c.SelectMethod(m))
		snap := c.Snapshot()
		assert.Equal(t, m, snap.Draft.Method)
		assert.Equal(t, fees.DefaultPosition(m), snap.Draft.SliderPos)
		assert.Equal(t, fees.Steps(m), snap.Draft.SliderSteps)
		assert.GreaterOrEqual(t, snap.Draft.SliderPos, 0)
		assert.LessOrEqual(t, snap.Draft.SliderPos, snap.Draft.SliderSteps)
	}
}

func TestMethodSwitchDropsStaleSliderPosition(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	c.BeginSliderDrag()
	require.NoError(t, c.SetSliderPosition(9))
	c.EndSliderDrag()
	assert.Equal(t, 9, c.Snapshot().Draft.SliderPos)

	require.NoError(t, c.SelectMethod(fees.ETA))
	snap := c.Snapshot()
	assert.Equal(t, fees.DefaultPosition(fees.ETA), snap.Draft.SliderPos)
	assert.Equal(t, fees.Steps(fees.ETA), snap.Draft.SliderSteps)
	assert.Equal(t, 1, fin.countWrites("slider"))
}

func TestSliderIgnoredWithoutActiveDrag(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)
	before := c.Snapshot().Draft.SliderPos

	require.NoError(t, c.SetSliderPosition(7))

	assert.Zero(t, fin.countWrites("slider"))
	assert.Equal(t, before, c.Snapshot().Draft.SliderPos)
}

func TestSliderForwardedDuringDrag(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	c.BeginSliderDrag()
	require.NoError(t, c.SetSliderPosition(2))
	require.NoError(t, c.SetSliderPosition(3))
	c.EndSliderDrag()

	assert.Equal(t, 2, fin.countWrites("slider"))
	assert.Equal(t, 3, c.Snapshot().Draft.SliderPos)
}

func TestSliderOnReleaseCommitsOnce(t *testing.T) {
	c, fin := editableController(t, CommitOnRelease)

	c.BeginSliderDrag()
	require.NoError(t, c.SetSliderPosition(1))
	require.NoError(t, c.SetSliderPosition(6))
	assert.Zero(t, fin.countWrites("slider"))

	c.EndSliderDrag()
	assert.Equal(t, 1, fin.countWrites("slider"))
	assert.Equal(t, 6, c.Snapshot().Draft.SliderPos)
}

func TestSliderOutOfRangeRejected(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	c.BeginSliderDrag()
	err := c.SetSliderPosition(99)
	c.EndSliderDrag()

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Zero(t, fin.countWrites("slider"))
}

func TestSetAmountSameValueTwiceWritesOnce(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)
	before := c.Snapshot().Draft

	require.NoError(t, c.SetAmount(50_000))

	after := c.Snapshot().Draft
	assert.Equal(t, 1, fin.countWrites("amount"))
	assert.Equal(t, before.Fee, after.Fee)
	assert.Equal(t, before.FeeRate, after.FeeRate)
}

func TestSetAmountNegativeIsLocalInputError(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	err := c.SetAmount(-1)

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, 1, fin.countWrites("amount")) // only the initial set
	snap := c.Snapshot()
	assert.Equal(t, StateEditing, snap.State)
	assert.Contains(t, snap.Draft.Warning, "negative")
}

func TestObserveIsIdempotent(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	fin.notify()
	first := c.Snapshot()
	fin.notify()
	second := c.Snapshot()

	assert.Equal(t, first, second)
}

func TestConfirmRejectedWhileInvalid(t *testing.T) {
	fin := newFakeFinalizer()
	c := New(fin, CommitContinuous, nil)

	_, err := c.Confirm(context.Background())

	assert.ErrorIs(t, err, ErrNotValid)
	assert.Equal(t, StateEditing, c.Snapshot().State)
	assert.Zero(t, fin.sends)
	assert.False(t, c.Snapshot().CanConfirm())
}

func TestConfirmSendsAndTerminates(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)
	hash := chainhash.Hash{0xaa, 0xbb, 0xcc}
	fin.sendHash = hash

	// 50,000 sats at 5 sat/vB on the fake's 140-vbyte draft.
	require.NoError(t, c.SelectMethod(fees.Static))
	c.BeginSliderDrag()
	require.NoError(t, c.SetSliderPosition(2))
	c.EndSliderDrag()
	snap := c.Snapshot()
	require.Equal(t, btcutil.Amount(700), snap.Draft.Fee)
	require.True(t, snap.CanConfirm())

	txid, err := c.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, txid)
	assert.Equal(t, StateSent, c.Snapshot().State)
	assert.Equal(t, 1, fin.unsubbed)

	// The workflow is finished; further edits are rejected.
	assert.ErrorIs(t, c.SetAmount(1), ErrNotEditing)
	_, err = c.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNotEditing)
}

func TestBroadcastFailureReturnsToEditingForRetry(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)
	fin.sendErr = errors.New("sendrawtransaction RPC error: min relay fee not met")

	_, err := c.Confirm(context.Background())

	var bErr *finalizer.BroadcastError
	require.ErrorAs(t, err, &bErr)
	snap := c.Snapshot()
	assert.Equal(t, StateEditing, snap.State)
	assert.Equal(t, fin.sendErr.Error(), snap.Draft.Warning)
	assert.True(t, snap.CanConfirm(), "confirm must stay available for retry")

	fin.sendErr = nil
	fin.recompute()
	fin.notify()
	_, err = c.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSent, c.Snapshot().State)
	assert.Equal(t, 2, fin.sends)
}

func TestFatalEngineErrorPropagatesUnconverted(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)
	fin.sendErr = &finalizer.FatalError{Reason: "wallet locked"}

	_, err := c.Confirm(context.Background())

	var fatal *finalizer.FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "wallet locked", fatal.Reason)
}

func TestCancelDiscardsAndUnsubscribes(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	require.NoError(t, c.Cancel())

	assert.Equal(t, StateCancelled, c.Snapshot().State)
	assert.Equal(t, 1, fin.unsubbed)
	assert.ErrorIs(t, c.SetRBF(true), ErrNotEditing)

	// A second cancel is harmless.
	require.NoError(t, c.Cancel())
	assert.Equal(t, 1, fin.unsubbed)
}

func TestUpdateSinkReceivesSnapshots(t *testing.T) {
	fin := newFakeFinalizer()
	var got []Snapshot
	c := New(fin, CommitContinuous, func(s Snapshot) { got = append(got, s) })

	require.NoError(t, c.SetAddress("bc1qexample"))
	require.NoError(t, c.SetAmount(50_000))

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, btcutil.Amount(50_000), last.Draft.Amount)
}

func TestSelectMethodRejectsUnknownTag(t *testing.T) {
	c, fin := editableController(t, CommitContinuous)

	err := c.SelectMethod(fees.Method(7))

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Zero(t, fin.countWrites("method"))
}
