package finalizer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/brightwallet/sendcore/lib/fees"
)

const (
	// RBFSequenceNumber marks inputs as replaceable under BIP 125.
	RBFSequenceNumber = 0xffffffff - 2

	// assumedInputCount sizes the draft before coin selection has run. The
	// wallet spends P2WPKH coins and consolidates, so one input is the
	// common case; the external signer may add more and pay the difference
	// out of change.
	assumedInputCount = 1
)

// Broadcaster signs and publishes a finalized draft. Production wiring uses
// NewNetworkBroadcaster; tests substitute fakes.
type Broadcaster interface {
	Broadcast(ctx context.Context, snap Snapshot) (chainhash.Hash, error)
}

// Config wires a TxFinalizer. Estimator and Params are required; the rest
// are optional.
type Config struct {
	Params        *chaincfg.Params
	Estimator     *fees.Estimator
	Broadcaster   Broadcaster
	ChangeAddress string
	// Record, when set, is invoked after a successful broadcast with the
	// confirmed draft and its txid.
	Record func(snap Snapshot, txid chainhash.Hash)
}

// TxFinalizer owns the authoritative draft transaction: it is the single
// place fee, fee rate, warning, validity and outputs are computed. The
// controller writes intent into it and mirrors the result back out.
type TxFinalizer struct {
	mu  sync.Mutex
	cfg Config

	address string
	amount  btcutil.Amount
	method  fees.Method
	slider  int
	rbf     bool

	balance    btcutil.Amount
	hasBalance bool

	feeRate float64
	fee     btcutil.Amount
	target  string
	warning string
	valid   bool
	outputs []Output

	subs     map[int]func()
	nextSub  int
	estUnsub func()
}

// New returns a finalizer with the slider on the static method's default
// position. It re-derives the draft whenever the estimator's tables change.
func New(cfg Config) *TxFinalizer {
	f := &TxFinalizer{
		cfg:    cfg,
		method: fees.Static,
		slider: fees.DefaultPosition(fees.Static),
		subs:   make(map[int]func()),
	}
	f.mu.Lock()
	f.recompute()
	f.mu.Unlock()
	if cfg.Estimator != nil {
		f.estUnsub = cfg.Estimator.Subscribe(func() {
			f.mu.Lock()
			f.recompute()
			f.mu.Unlock()
			f.notify()
		})
	}
	return f
}

// Close unregisters the estimator callback. The finalizer must not be used
// afterwards.
func (f *TxFinalizer) Close() {
	if f.estUnsub != nil {
		f.estUnsub()
		f.estUnsub = nil
	}
}

// Subscribe registers fn to run after every recompute. The returned func
// unregisters it.
func (f *TxFinalizer) Subscribe(fn func()) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *TxFinalizer) notify() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetAddress sets the recipient address and re-derives the draft.
func (f *TxFinalizer) SetAddress(addr string) {
	f.mu.Lock()
	f.address = addr
	f.recompute()
	f.mu.Unlock()
	f.notify()
}

// SetAmount sets the send amount in satoshis and re-derives the draft.
func (f *TxFinalizer) SetAmount(amt btcutil.Amount) {
	f.mu.Lock()
	f.amount = amt
	f.recompute()
	f.mu.Unlock()
	f.notify()
}

// SetMethod switches the fee method. The slider always resets to the new
// method's default position: a position is an ordinal on a per-method scale
// and carries no meaning across methods.
func (f *TxFinalizer) SetMethod(m fees.Method) {
	f.mu.Lock()
	f.method = m
	f.slider = fees.DefaultPosition(m)
	f.recompute()
	f.mu.Unlock()
	f.notify()
}

// SetSliderPosition moves the slider on the current method's scale.
// Out-of-range positions are clamped.
func (f *TxFinalizer) SetSliderPosition(pos int) {
	f.mu.Lock()
	if pos < 0 {
		pos = 0
	}
	if max := fees.Steps(f.method); pos > max {
		pos = max
	}
	f.slider = pos
	f.recompute()
	f.mu.Unlock()
	f.notify()
}

// SetRBF toggles the replace-by-fee flag. Advisory only: it never changes
// the fee computation.
func (f *TxFinalizer) SetRBF(enabled bool) {
	f.mu.Lock()
	f.rbf = enabled
	f.mu.Unlock()
	f.notify()
}

// UpdateBalance installs the wallet's spendable balance snapshot. Until one
// arrives the draft stays invalid.
func (f *TxFinalizer) UpdateBalance(balance btcutil.Amount) {
	f.mu.Lock()
	f.balance = balance
	f.hasBalance = true
	f.recompute()
	f.mu.Unlock()
	f.notify()
}

// Snapshot returns a copy of the current draft state.
func (f *TxFinalizer) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	outs := make([]Output, len(f.outputs))
	copy(outs, f.outputs)
	return Snapshot{
		Address:     f.address,
		Amount:      f.amount,
		Method:      f.method,
		SliderPos:   f.slider,
		SliderSteps: fees.Steps(f.method),
		FeeRate:     f.feeRate,
		Fee:         f.fee,
		Target:      f.target,
		RBF:         f.rbf,
		Warning:     f.warning,
		Valid:       f.valid,
		Outputs:     outs,
	}
}

// recompute derives feeRate, fee, warning, valid and outputs from the
// current inputs. Callers hold f.mu.
func (f *TxFinalizer) recompute() {
	f.feeRate, f.target = f.cfg.Estimator.RateForPosition(f.method, f.slider)
	f.fee = 0
	f.warning = ""
	f.valid = false
	f.outputs = nil

	if f.address == "" {
		return
	}
	addr, err := btcutil.DecodeAddress(f.address, f.cfg.Params)
	if err != nil {
		f.warning = fmt.Sprintf("invalid address: %v", err)
		return
	}
	if !addr.IsForNet(f.cfg.Params) {
		f.warning = fmt.Sprintf("address is not valid for %s", f.cfg.Params.Name)
		return
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		f.warning = fmt.Sprintf("invalid address: %v", err)
		return
	}

	if f.amount <= 0 {
		f.warning = "amount must be greater than zero"
		return
	}
	if txrules.IsDustOutput(wire.NewTxOut(int64(f.amount), pkScript), txrules.DefaultRelayFeePerKb) {
		f.warning = fmt.Sprintf("amount of %d satoshis is below the dust threshold", int64(f.amount))
		return
	}
	if f.feeRate <= 0 {
		f.warning = "no fee estimate available yet"
		return
	}

	feePerKb := btcutil.Amount(f.feeRate * 1000)
	txOut := wire.NewTxOut(int64(f.amount), pkScript)
	vsize := txsizes.EstimateVirtualSize(
		0, 0, assumedInputCount, 0, []*wire.TxOut{txOut}, txsizes.P2WPKHPkScriptSize,
	)
	fee := txrules.FeeForSerializeSize(feePerKb, vsize)

	if !f.hasBalance {
		f.fee = fee
		f.warning = "wallet balance not yet known"
		return
	}
	change := f.balance - f.amount - fee
	if change < 0 {
		f.fee = fee
		f.warning = fmt.Sprintf(
			"insufficient balance: have %d satoshis, need %d satoshis",
			int64(f.balance), int64(f.amount+fee),
		)
		return
	}

	outputs := []Output{{Address: f.address, Value: f.amount, PkScript: pkScript}}
	changeOut := wire.NewTxOut(int64(change), make([]byte, txsizes.P2WPKHPkScriptSize))
	if change > 0 && !txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {
		if f.cfg.ChangeAddress == "" {
			f.fee = fee
			f.warning = fmt.Sprintf(
				"no change address configured for %d satoshis of change", int64(change),
			)
			return
		}
		outputs = append(outputs, Output{Address: f.cfg.ChangeAddress, Value: change, Change: true})
	} else {
		// Dust change goes to the miner rather than producing an
		// unspendable output.
		fee += change
	}

	f.fee = fee
	f.outputs = outputs
	f.valid = true
}

// SendOnchain signs and broadcasts the current draft. It is an error to
// call it while the draft is not valid. Broadcast failures surface as
// *BroadcastError with the server text attached as the draft warning;
// anything the workflow cannot recover from surfaces as *FatalError.
func (f *TxFinalizer) SendOnchain(ctx context.Context) (chainhash.Hash, error) {
	f.mu.Lock()
	if !f.valid {
		f.mu.Unlock()
		return chainhash.Hash{}, &FatalError{Reason: "draft is not valid"}
	}
	if f.cfg.Broadcaster == nil {
		f.mu.Unlock()
		return chainhash.Hash{}, &FatalError{Reason: "no broadcaster configured"}
	}
	f.mu.Unlock()

	snap := f.Snapshot()
	txid, err := f.cfg.Broadcaster.Broadcast(ctx, snap)
	if err != nil {
		if _, fatal := err.(*FatalError); fatal {
			return chainhash.Hash{}, err
		}
		bErr := &BroadcastError{Err: err}
		f.mu.Lock()
		f.warning = bErr.Error()
		f.mu.Unlock()
		f.notify()
		return chainhash.Hash{}, bErr
	}

	log.Printf("Transaction broadcast. TxID: %s", txid.String())
	if f.cfg.Record != nil {
		f.cfg.Record(snap, txid)
	}
	return txid, nil
}
