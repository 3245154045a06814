package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/logger"
)

func newTestReconstructor(t *testing.T, l *EventLog) *Reconstructor {
	t.Helper()
	r, err := NewReconstructor(ReconstructorConfig{
		Logger: logger.NewNop(),
		Log:    l,
	})
	require.NoError(t, err)
	return r
}

func connectEvent(ts int64, a, b string) Event {
	return Event{
		Timestamp:  ts,
		Type:       "connected",
		Connection: &ConnectionRef{From: a, To: b},
	}
}

func TestReconstructorConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := NewReconstructor(ReconstructorConfig{Logger: logger.NewNop()})
	require.Error(t, err)

	l := newTestLog(t, EventLogConfig{})
	r, err := NewReconstructor(ReconstructorConfig{Logger: logger.NewNop(), Log: l})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, r.cfg.ActivityWindow)
}

func TestReconstructorLiveMode(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, EventLogConfig{})
	r := newTestReconstructor(t, l)
	r.SetLiveState(
		[]Peer{{ID: "A", Location: 0.25}, {ID: "B", Location: 0.75}},
		[]Connection{NewConnection("B", "A")},
	)

	snap := r.Snapshot(ModeLive, 0)
	require.Len(t, snap.Peers, 2)
	assert.Equal(t, 0.25, snap.Peers["A"].Location)
	assert.Contains(t, snap.Connections, NewConnection("A", "B"))

	// The snapshot is a copy; mutating it does not leak into live state.
	delete(snap.Peers, "A")
	assert.Len(t, r.Snapshot(ModeLive, 0).Peers, 2)
}

func TestReconstructorEmpty(t *testing.T) {
	t.Parallel()

	l := newTestLog(t, EventLogConfig{})
	r := newTestReconstructor(t, l)

	for _, mode := range []Mode{ModeLive, ModeHistorical} {
		snap := r.Snapshot(mode, 12345)
		assert.NotNil(t, snap.Peers)
		assert.NotNil(t, snap.Connections)
		assert.Empty(t, snap.Peers)
		assert.Empty(t, snap.Connections)
	}
}

func TestReconstructorHistoricalConnections(t *testing.T) {
	t.Parallel()

	const T = int64(1_000_000_000_000)

	l := newTestLog(t, EventLogConfig{})
	l.Append(connectEvent(T-100, "A", "B"))
	l.Append(connectEvent(T+1000, "C", "D"))
	r := newTestReconstructor(t, l)

	snap := r.Snapshot(ModeHistorical, T)
	assert.Contains(t, snap.Connections, NewConnection("A", "B"))
	// A connect event after T does not exist yet at T.
	assert.NotContains(t, snap.Connections, NewConnection("C", "D"))
}

func TestReconstructorDisconnectRemovesPair(t *testing.T) {
	t.Parallel()

	const T = int64(1_000_000_000_000)

	l := newTestLog(t, EventLogConfig{})
	l.Append(connectEvent(T-5000, "A", "B"))
	l.Append(Event{
		Timestamp:  T - 1000,
		Type:       "disconnected",
		Connection: &ConnectionRef{From: "B", To: "A"},
	})
	r := newTestReconstructor(t, l)

	// At T the pair has been torn down; just before the disconnect it existed.
	assert.NotContains(t, r.Snapshot(ModeHistorical, T).Connections, NewConnection("A", "B"))
	assert.Contains(t, r.Snapshot(ModeHistorical, T-2000).Connections, NewConnection("A", "B"))
}

func TestReconstructorActivityWindowPeers(t *testing.T) {
	t.Parallel()

	const T = int64(10_000_000_000_000)
	window := (5 * time.Minute).Nanoseconds()

	loc := 0.5
	l := newTestLog(t, EventLogConfig{})
	l.Append(Event{Timestamp: T - window + 1, Type: "get_request", PeerID: "inside", Location: &loc})
	l.Append(Event{Timestamp: T + window + 1, Type: "get_request", PeerID: "outside"})
	r := newTestReconstructor(t, l)

	snap := r.Snapshot(ModeHistorical, T)
	require.Contains(t, snap.Peers, "inside")
	assert.NotContains(t, snap.Peers, "outside")
	// No presence record: location falls back to the event's own field.
	assert.Equal(t, 0.5, snap.Peers["inside"].Location)
}

func TestReconstructorPresenceIndexWins(t *testing.T) {
	t.Parallel()

	const T = int64(10_000_000_000_000)

	loc := 0.9
	l := newTestLog(t, EventLogConfig{})
	l.Append(Event{Timestamp: T, Type: "put_request", PeerID: "A", Location: &loc})
	r := newTestReconstructor(t, l)
	r.SetPresence([]PresenceRecord{{PeerID: "A", Location: 0.1, IPHash: "beef"}})

	snap := r.Snapshot(ModeHistorical, T)
	require.Contains(t, snap.Peers, "A")
	assert.Equal(t, 0.1, snap.Peers["A"].Location)
	assert.Equal(t, "beef", snap.Peers["A"].IPHash)
}

func TestReconstructorMissingLocationKeptAtDefault(t *testing.T) {
	t.Parallel()

	const T = int64(10_000_000_000_000)

	l := newTestLog(t, EventLogConfig{})
	l.Append(Event{Timestamp: T, Type: "get_request", PeerID: "bare"})
	r := newTestReconstructor(t, l)

	snap := r.Snapshot(ModeHistorical, T)
	require.Contains(t, snap.Peers, "bare")
	assert.Zero(t, snap.Peers["bare"].Location)
}
