package telemetry

import (
	"errors"
	"log/slog"
	"time"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
)

// Peer is a network participant as known at some instant. Location is the
// peer's ring coordinate in [0, 1).
type Peer struct {
	ID              string  `json:"id"`
	Location        float64 `json:"location"`
	IPHash          string  `json:"ip_hash,omitempty"`
	TelemetryPeerID string  `json:"telemetry_peer_id,omitempty"`
}

// Connection is an unordered peer pair, normalized so A < B.
type Connection struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewConnection normalizes a peer pair into a Connection.
func NewConnection(a, b string) Connection {
	if b < a {
		a, b = b, a
	}
	return Connection{A: a, B: b}
}

// Snapshot is the best-known network topology at an instant.
type Snapshot struct {
	Peers       map[string]Peer          `json:"peers"`
	Connections map[Connection]struct{} `json:"-"`
}

// ConnectionList returns the snapshot's connections as a slice, for JSON
// rendering.
func (s Snapshot) ConnectionList() []Connection {
	out := make([]Connection, 0, len(s.Connections))
	for c := range s.Connections {
		out = append(out, c)
	}
	return out
}

// Mode selects between the authoritative current-state snapshot and
// historical inference from the event log.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeHistorical Mode = "historical"
)

// PresenceRecord is an explicit historical identity record for a peer,
// delivered with history backfills.
type PresenceRecord struct {
	PeerID          string  `json:"peer_id"`
	Location        float64 `json:"location"`
	IPHash          string  `json:"ip_hash,omitempty"`
	TelemetryPeerID string  `json:"telemetry_peer_id,omitempty"`
}

// ReconstructorConfig holds configuration for the Reconstructor.
type ReconstructorConfig struct {
	Logger *slog.Logger

	// Log is the event log historical snapshots are inferred from.
	Log *EventLog

	// ActivityWindow is the radius around a target instant inside which a
	// peer's events make it count as present. Defaults to 5 minutes.
	ActivityWindow time.Duration
}

func (cfg *ReconstructorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Log == nil {
		return errors.New("event log is required")
	}
	if cfg.ActivityWindow < 0 {
		return errors.New("activity window must not be negative")
	}
	if cfg.ActivityWindow == 0 {
		cfg.ActivityWindow = 5 * time.Minute
	}
	return nil
}

// Reconstructor answers "what did the network topology look like at time T".
//
// Live mode returns the authoritative current-state lists verbatim; that is
// the cheap common path. Historical mode infers a plausible snapshot from
// the event log: peers from activity inside a fixed window around T,
// connections from connect events at or before T ("once connected, stays
// connected" until an explicit disconnect event removes the pair).
//
// A peer seen in the activity window with no location metadata anywhere is
// kept at location 0 rather than dropped; that is the declared best-effort
// policy.
//
// Reconstructor is not safe for concurrent use; the owning state object
// serializes access.
type Reconstructor struct {
	log *slog.Logger
	cfg ReconstructorConfig

	livePeers map[string]Peer
	liveConns map[Connection]struct{}
	presence  map[string]PresenceRecord
}

// NewReconstructor creates a Reconstructor with empty live state.
func NewReconstructor(cfg ReconstructorConfig) (*Reconstructor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconstructor{
		log:       cfg.Logger,
		cfg:       cfg,
		livePeers: make(map[string]Peer),
		liveConns: make(map[Connection]struct{}),
		presence:  make(map[string]PresenceRecord),
	}, nil
}

// SetLiveState replaces the authoritative current-state peer and connection
// lists, sourced from a state message.
func (r *Reconstructor) SetLiveState(peers []Peer, conns []Connection) {
	r.livePeers = make(map[string]Peer, len(peers))
	for _, p := range peers {
		r.livePeers[p.ID] = p
	}
	r.liveConns = make(map[Connection]struct{}, len(conns))
	for _, c := range conns {
		r.liveConns[NewConnection(c.A, c.B)] = struct{}{}
	}
	r.log.Debug("topology: live state replaced", "peers", len(peers), "connections", len(conns))
}

// SetPresence replaces the peer-presence index, sourced from a history
// backfill.
func (r *Reconstructor) SetPresence(records []PresenceRecord) {
	r.presence = make(map[string]PresenceRecord, len(records))
	for _, rec := range records {
		r.presence[rec.PeerID] = rec
	}
}

// LivePeerIDs returns the ids of the current live peers.
func (r *Reconstructor) LivePeerIDs() []string {
	out := make([]string, 0, len(r.livePeers))
	for id := range r.livePeers {
		out = append(out, id)
	}
	return out
}

// Snapshot produces the best-known topology at an instant. Zero peers or
// connections yields empty containers, never an error.
func (r *Reconstructor) Snapshot(mode Mode, t int64) Snapshot {
	start := time.Now()
	defer func() {
		metrics.SnapshotDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	}()

	if mode == ModeLive {
		return r.liveSnapshot()
	}
	return r.historicalSnapshot(t)
}

func (r *Reconstructor) liveSnapshot() Snapshot {
	snap := Snapshot{
		Peers:       make(map[string]Peer, len(r.livePeers)),
		Connections: make(map[Connection]struct{}, len(r.liveConns)),
	}
	for id, p := range r.livePeers {
		snap.Peers[id] = p
	}
	for c := range r.liveConns {
		snap.Connections[c] = struct{}{}
	}
	return snap
}

// historicalSnapshot is the time-travel path: peers from the activity
// window, connections replayed from the whole log up to t.
func (r *Reconstructor) historicalSnapshot(t int64) Snapshot {
	snap := Snapshot{
		Peers:       make(map[string]Peer),
		Connections: make(map[Connection]struct{}),
	}

	radius := r.cfg.ActivityWindow.Nanoseconds()
	r.cfg.Log.Range(t-radius, t+radius, func(ev Event) bool {
		for _, id := range ev.peers() {
			if _, ok := snap.Peers[id]; ok {
				continue
			}
			snap.Peers[id] = r.resolvePeer(id, &ev)
		}
		return true
	})

	// Connection inference is independent of the activity window: replay
	// connect/disconnect events from the start of the log up to t.
	logStart, _ := r.cfg.Log.TimeRange()
	r.cfg.Log.Range(logStart, t, func(ev Event) bool {
		switch {
		case IsConnectEvent(ev.Type):
			if a, b, ok := ev.connectionPair(); ok {
				snap.Connections[NewConnection(a, b)] = struct{}{}
			}
		case IsDisconnectEvent(ev.Type):
			if a, b, ok := ev.connectionPair(); ok {
				delete(snap.Connections, NewConnection(a, b))
			}
		}
		return true
	})

	return snap
}

// resolvePeer merges identity metadata for a peer seen in the activity
// window: presence index first, live identity next, then the event's own
// location field.
func (r *Reconstructor) resolvePeer(id string, ev *Event) Peer {
	if rec, ok := r.presence[id]; ok {
		return Peer{
			ID:              id,
			Location:        rec.Location,
			IPHash:          rec.IPHash,
			TelemetryPeerID: rec.TelemetryPeerID,
		}
	}
	if p, ok := r.livePeers[id]; ok {
		return p
	}
	p := Peer{ID: id}
	if ev.Location != nil && (ev.PeerID == id || ev.PeerID == "") {
		p.Location = *ev.Location
	}
	return p
}
