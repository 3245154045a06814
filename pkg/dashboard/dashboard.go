// Package dashboard owns the assembled core state: the event log, the
// transaction aggregator, the topology reconstructor, and the time cursor.
// It is the single explicit state object every operation goes through; there
// are no module-level singletons.
//
// One exclusive writer (the feed) mutates state; readers take the lock
// shared and receive copied projections, so renderers never observe
// concurrent mutation.
package dashboard

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/ingest"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

// Config holds configuration for the Dashboard.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// MaxEvents bounds the event log for unattended long-running sessions.
	// 0 means unbounded.
	MaxEvents int

	// TxCapacity bounds the aggregator. 0 means the aggregator default.
	TxCapacity int

	// ActivityWindow is the historical reconstruction radius. 0 means the
	// reconstructor default.
	ActivityWindow time.Duration

	// DefaultWindowRadius is the window radius used when a query does not
	// supply one. Defaults to 1 minute.
	DefaultWindowRadius time.Duration

	// OnEvent, when set, is invoked for every accepted incremental event
	// after state has been updated. Used by the server to push events to UI
	// clients. Called without the state lock held.
	OnEvent func(ev telemetry.Event)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.DefaultWindowRadius <= 0 {
		cfg.DefaultWindowRadius = time.Minute
	}
	return nil
}

// Dashboard is the assembled reconstruction core behind the HTTP surface.
// It implements ingest.Handler.
type Dashboard struct {
	log *slog.Logger
	cfg Config

	mu        sync.RWMutex
	events    *telemetry.EventLog
	txs       *telemetry.Aggregator
	topo      *telemetry.Reconstructor
	contracts map[string]ingest.ContractInfo
	stats     ingest.OpStats
	identity  ingest.Identity

	// Time cursor: live tracks the wall clock; historical pins cursorNs.
	live     bool
	cursorNs int64

	ready bool
}

// New creates a Dashboard with empty state, in live mode.
func New(cfg Config) (*Dashboard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	events, err := telemetry.NewEventLog(telemetry.EventLogConfig{
		Logger:    cfg.Logger,
		MaxEvents: cfg.MaxEvents,
	})
	if err != nil {
		return nil, err
	}
	txs, err := telemetry.NewAggregator(telemetry.AggregatorConfig{
		Logger:   cfg.Logger,
		Capacity: cfg.TxCapacity,
	})
	if err != nil {
		return nil, err
	}
	topo, err := telemetry.NewReconstructor(telemetry.ReconstructorConfig{
		Logger:         cfg.Logger,
		Log:            events,
		ActivityWindow: cfg.ActivityWindow,
	})
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		log:       cfg.Logger,
		cfg:       cfg,
		events:    events,
		txs:       txs,
		topo:      topo,
		contracts: make(map[string]ingest.ContractInfo),
		live:      true,
	}, nil
}

// Ready reports whether a state or history message has been applied yet.
func (d *Dashboard) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// HandleState applies an authoritative current-state snapshot.
func (d *Dashboard) HandleState(m *ingest.StateMessage) {
	peers := make([]telemetry.Peer, 0, len(m.Peers))
	for _, p := range m.Peers {
		peers = append(peers, telemetry.Peer{
			ID:              p.ID,
			Location:        p.Location,
			IPHash:          p.IPHash,
			TelemetryPeerID: p.TelemetryPeerID,
		})
	}
	conns := make([]telemetry.Connection, 0, len(m.Connections))
	for _, c := range m.Connections {
		conns = append(conns, telemetry.NewConnection(c.From, c.To))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.topo.SetLiveState(peers, conns)
	d.contracts = make(map[string]ingest.ContractInfo, len(m.Contracts))
	for _, c := range m.Contracts {
		d.contracts[c.Key] = c
	}
	d.stats = m.Stats
	d.identity = m.Identity
	d.ready = true
	d.log.Debug("dashboard: state applied",
		"peers", len(peers),
		"connections", len(conns),
		"contracts", len(m.Contracts))
}

// HandleHistory applies a bulk backfill, replacing the event log, the
// aggregator state, and the peer-presence index.
func (d *Dashboard) HandleHistory(m *ingest.HistoryMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events.BulkLoad(m.Events, m.Range.Start, m.Range.End)
	d.txs.Reload(m.Events)
	d.topo.SetPresence(m.PeerPresence)
	d.ready = true
	metrics.HistoryReloads.Inc()
}

// HandleEvent appends one incremental event and feeds the aggregator. In
// live mode the time cursor advances to the event's timestamp.
func (d *Dashboard) HandleEvent(m *ingest.EventMessage) {
	d.mu.Lock()
	d.events.Append(m.Event)
	d.txs.Ingest(m.Event)
	if d.live {
		d.cursorNs = m.Event.Timestamp
	}
	d.mu.Unlock()

	metrics.EventsIngested.WithLabelValues(m.Event.Type).Inc()
	if d.cfg.OnEvent != nil {
		d.cfg.OnEvent(m.Event)
	}
}

// SetCursor pins the view to a past instant (historical mode).
func (d *Dashboard) SetCursor(t int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live = false
	d.cursorNs = t
}

// GoLive returns the view to live mode, tracking the current instant.
func (d *Dashboard) GoLive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live = true
	d.cursorNs = 0
}

// Cursor returns the current time cursor: the pinned instant in historical
// mode, or the latest of the last event and the wall clock in live mode.
func (d *Dashboard) Cursor() (t int64, live bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cursorLocked(), d.live
}

func (d *Dashboard) cursorLocked() int64 {
	if !d.live {
		return d.cursorNs
	}
	if now := d.cfg.Clock.Now().UnixNano(); now > d.cursorNs {
		return now
	}
	return d.cursorNs
}

// EventsQuery selects a windowed, filtered event projection.
type EventsQuery struct {
	// Center of the window in nanoseconds; 0 means the current cursor.
	Center int64
	// Radius of the window in nanoseconds; 0 means the configured default.
	Radius int64

	Criteria telemetry.Criteria
	Limit    int
}

// Events returns the filtered slice of the event window around the query
// center, plus the untruncated match count.
func (d *Dashboard) Events(q EventsQuery) telemetry.FilterResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	center := q.Center
	if center == 0 {
		center = d.cursorLocked()
	}
	radius := q.Radius
	if radius == 0 {
		radius = d.cfg.DefaultWindowRadius.Nanoseconds()
	}
	window := d.events.Windowed(center, radius)
	return telemetry.ApplyFilter(window, q.Criteria, q.Limit)
}

// Topology returns the best-known topology at an instant; t == 0 means the
// current cursor, which in live mode yields the cheap authoritative path.
func (d *Dashboard) Topology(t int64) telemetry.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if t == 0 {
		if d.live {
			return d.topo.Snapshot(telemetry.ModeLive, 0)
		}
		t = d.cursorNs
	}
	return d.topo.Snapshot(telemetry.ModeHistorical, t)
}

// Transactions returns copies of the retained transactions in insertion
// order. Copies are taken under the lock so readers never share mutable
// records with the writer.
func (d *Dashboard) Transactions() []telemetry.Transaction {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := d.txs.All()
	out := make([]telemetry.Transaction, 0, len(all))
	for _, tx := range all {
		out = append(out, *tx)
	}
	return out
}

// Transaction returns a copy of one transaction by id.
func (d *Dashboard) Transaction(id string) (telemetry.Transaction, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tx := d.txs.Get(id)
	if tx == nil {
		return telemetry.Transaction{}, false
	}
	return *tx, true
}

// Stats is the summary projection for the stats tab.
type Stats struct {
	Ops          ingest.OpStats  `json:"ops"`
	Identity     ingest.Identity `json:"identity"`
	EventCount   int             `json:"event_count"`
	TxCount      int             `json:"tx_count"`
	LivePeers    int             `json:"live_peers"`
	RangeStartNs int64           `json:"range_start_ns"`
	RangeEndNs   int64           `json:"range_end_ns"`
}

// Summary returns aggregate statistics about current state.
func (d *Dashboard) Summary() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	start, end := d.events.TimeRange()
	return Stats{
		Ops:          d.stats,
		Identity:     d.identity,
		EventCount:   d.events.Len(),
		TxCount:      d.txs.Len(),
		LivePeers:    len(d.topo.LivePeerIDs()),
		RangeStartNs: start,
		RangeEndNs:   end,
	}
}

// CodecContext builds the resolution context for view-state decoding from
// the currently loaded collections.
func (d *Dashboard) CodecContext() telemetry.CodecContext {
	d.mu.RLock()
	defer d.mu.RUnlock()

	contracts := make([]string, 0, len(d.contracts))
	for key := range d.contracts {
		contracts = append(contracts, key)
	}
	return telemetry.CodecContext{
		Contracts:    contracts,
		Peers:        d.topo.LivePeerIDs(),
		Transactions: d.txs.IDs(),
	}
}

// DecodeViewState resolves a shared view-state string against current
// collections. A decoded historical instant also moves the cursor.
func (d *Dashboard) DecodeViewState(raw string) telemetry.ViewState {
	s := telemetry.DecodeViewState(raw, d.CodecContext())
	if s.Live {
		d.GoLive()
	} else {
		d.SetCursor(s.CurrentTime)
	}
	return s
}
