package channels

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
)

// Summary folds the channel collection into total sendable and receivable
// capacity. It recomputes on every collection notification and never
// mutates channel state. Only open channels count, and a frozen direction
// contributes nothing on that side.
type Summary struct {
	mu         sync.Mutex
	model      *Model
	unsub      func()
	canSend    btcutil.Amount
	canReceive btcutil.Amount
}

// NewSummary subscribes to the model and computes the initial totals.
func NewSummary(m *Model) *Summary {
	s := &Summary{model: m}
	s.unsub = m.Subscribe(func(Event) { s.recompute() })
	s.recompute()
	return s
}

// Close unregisters the model subscription.
func (s *Summary) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

func (s *Summary) recompute() {
	var send, recv btcutil.Amount
	for _, ch := range s.model.Snapshot() {
		if ch.State != StateOpen {
			continue
		}
		if !ch.SendFrozen {
			send += ch.CanSend
		}
		if !ch.ReceiveFrozen {
			recv += ch.CanReceive
		}
	}
	s.mu.Lock()
	s.canSend = send
	s.canReceive = recv
	s.mu.Unlock()
}

// CanSend returns the total amount currently sendable over Lightning.
func (s *Summary) CanSend() btcutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSend
}

// CanReceive returns the total amount currently receivable over Lightning.
func (s *Summary) CanReceive() btcutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canReceive
}
