// Package channels holds the Lightning channel collection the wallet
// engine maintains, and the summary view-model folded from it.
package channels

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"golang.org/x/exp/slices"
)

// Channel states as the wallet engine reports them.
const (
	StateOpening = "OPENING"
	StateFunded  = "FUNDED"
	StateOpen    = "OPEN"
	StateClosing = "CLOSING"
	StateClosed  = "CLOSED"
)

// Channel is one Lightning channel record.
type Channel struct {
	CID           string
	ShortCID      string
	NodeAlias     string
	State         string
	Capacity      btcutil.Amount
	CanSend       btcutil.Amount
	CanReceive    btcutil.Amount
	SendFrozen    bool
	ReceiveFrozen bool
}

// EventKind distinguishes collection notifications.
type EventKind int

const (
	EventInserted EventKind = iota
	EventUpdated
	EventRemoved
	EventReloaded
)

// Event is a collection change notification. CID is empty for reloads.
type Event struct {
	Kind EventKind
	CID  string
}

// Model is an ordered, observable collection of channels. Channels open and
// close independently of any observer; observers receive a notification per
// mutation and read consistent snapshots.
type Model struct {
	mu      sync.Mutex
	order   []string
	byID    map[string]Channel
	subs    map[int]func(Event)
	nextSub int
}

func NewModel() *Model {
	return &Model{
		byID: make(map[string]Channel),
		subs: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for change notifications. The returned func
// unregisters it; a discarded observer must unregister or it leaks.
func (m *Model) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Model) notify(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Upsert inserts ch at the end of the order, or updates it in place.
func (m *Model) Upsert(ch Channel) {
	m.mu.Lock()
	_, known := m.byID[ch.CID]
	m.byID[ch.CID] = ch
	kind := EventUpdated
	if !known {
		m.order = append(m.order, ch.CID)
		kind = EventInserted
	}
	m.mu.Unlock()
	m.notify(Event{Kind: kind, CID: ch.CID})
}

// Remove drops the channel with the given id, if present.
func (m *Model) Remove(cid string) {
	m.mu.Lock()
	if _, known := m.byID[cid]; !known {
		m.mu.Unlock()
		return
	}
	delete(m.byID, cid)
	if i := slices.Index(m.order, cid); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	m.mu.Unlock()
	m.notify(Event{Kind: EventRemoved, CID: cid})
}

// Reload replaces the whole collection, keeping the given order.
func (m *Model) Reload(chs []Channel) {
	m.mu.Lock()
	m.order = m.order[:0]
	m.byID = make(map[string]Channel, len(chs))
	for _, ch := range chs {
		m.order = append(m.order, ch.CID)
		m.byID[ch.CID] = ch
	}
	m.mu.Unlock()
	m.notify(Event{Kind: EventReloaded})
}

// Snapshot returns the channels in collection order.
func (m *Model) Snapshot() []Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Channel, 0, len(m.order))
	for _, cid := range m.order {
		out = append(out, m.byID[cid])
	}
	return out
}

// Len returns the number of channels.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
