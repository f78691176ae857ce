package channels

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openChannel(cid string, send, recv btcutil.Amount) Channel {
	return Channel{
		CID:        cid,
		ShortCID:   cid,
		State:      StateOpen,
		Capacity:   send + recv,
		CanSend:    send,
		CanReceive: recv,
	}
}

func TestSummaryFoldsOpenChannels(t *testing.T) {
	m := NewModel()
	m.Upsert(openChannel("a", 10_000, 5_000))
	m.Upsert(openChannel("b", 20_000, 7_000))

	s := NewSummary(m)
	defer s.Close()

	assert.Equal(t, btcutil.Amount(30_000), s.CanSend())
	assert.Equal(t, btcutil.Amount(12_000), s.CanReceive())
}

func TestSummarySkipsNonOpenChannels(t *testing.T) {
	m := NewModel()
	m.Upsert(openChannel("a", 10_000, 5_000))
	closing := openChannel("b", 20_000, 7_000)
	closing.State = StateClosing
	m.Upsert(closing)
	pending := openChannel("c", 40_000, 1_000)
	pending.State = StateOpening
	m.Upsert(pending)

	s := NewSummary(m)
	defer s.Close()

	assert.Equal(t, btcutil.Amount(10_000), s.CanSend())
	assert.Equal(t, btcutil.Amount(5_000), s.CanReceive())
}

func TestSummaryHonorsFrozenDirections(t *testing.T) {
	m := NewModel()
	ch := openChannel("a", 10_000, 5_000)
	ch.SendFrozen = true
	m.Upsert(ch)
	m.Upsert(openChannel("b", 20_000, 7_000))

	s := NewSummary(m)
	defer s.Close()

	// The frozen side contributes nothing; the other side still counts.
	assert.Equal(t, btcutil.Amount(20_000), s.CanSend())
	assert.Equal(t, btcutil.Amount(12_000), s.CanReceive())
}

func TestSummaryTracksMutations(t *testing.T) {
	m := NewModel()
	s := NewSummary(m)
	defer s.Close()

	assert.Zero(t, s.CanSend())

	m.Upsert(openChannel("a", 10_000, 5_000))
	assert.Equal(t, btcutil.Amount(10_000), s.CanSend())

	// A payment shifts balance toward the peer.
	m.Upsert(openChannel("a", 4_000, 11_000))
	assert.Equal(t, btcutil.Amount(4_000), s.CanSend())
	assert.Equal(t, btcutil.Amount(11_000), s.CanReceive())

	m.Remove("a")
	assert.Zero(t, s.CanSend())
	assert.Zero(t, s.CanReceive())
}

func TestSummaryTracksReload(t *testing.T) {
	m := NewModel()
	m.Upsert(openChannel("a", 10_000, 5_000))

	s := NewSummary(m)
	defer s.Close()

	m.Reload([]Channel{
		openChannel("x", 1_000, 2_000),
		openChannel("y", 3_000, 4_000),
	})
	assert.Equal(t, btcutil.Amount(4_000), s.CanSend())
	assert.Equal(t, btcutil.Amount(6_000), s.CanReceive())
	assert.Equal(t, 2, m.Len())
}

func TestSummaryCloseStopsUpdates(t *testing.T) {
	m := NewModel()
	s := NewSummary(m)
	s.Close()

	m.Upsert(openChannel("a", 10_000, 5_000))
	assert.Zero(t, s.CanSend(), "a closed summary no longer observes the model")
}

func TestModelOrderAndEvents(t *testing.T) {
	m := NewModel()
	var events []Event
	unsub := m.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	m.Upsert(openChannel("a", 1, 1))
	m.Upsert(openChannel("b", 2, 2))
	m.Upsert(openChannel("a", 3, 3))
	m.Remove("missing") // no event
	m.Remove("a")

	require.Len(t, events, 4)
	assert.Equal(t, Event{Kind: EventInserted, CID: "a"}, events[0])
	assert.Equal(t, Event{Kind: EventInserted, CID: "b"}, events[1])
	assert.Equal(t, Event{Kind: EventUpdated, CID: "a"}, events[2])
	assert.Equal(t, Event{Kind: EventRemoved, CID: "a"}, events[3])

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].CID)
}
