package telemetry

import (
	"errors"
	"log/slog"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
)

// TxStatus is the lifecycle status of a transaction.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxSuccess  TxStatus = "success"
	TxNotFound TxStatus = "not_found"
	TxFailed   TxStatus = "failed"
	TxComplete TxStatus = "complete"
)

// terminal reports whether the status will never be downgraded by later
// events.
func (s TxStatus) terminal() bool {
	switch s {
	case TxSuccess, TxNotFound, TxFailed, TxComplete:
		return true
	}
	return false
}

// Transaction is a logical multi-event operation grouped by a shared id,
// with a derived status and duration.
type Transaction struct {
	ID      string   `json:"id"`
	Op      Op       `json:"op"`
	StartNs int64    `json:"start_ns"`
	EndNs   int64    `json:"end_ns"`
	Status  TxStatus `json:"status"`
	// DurationMs is computed only once an end marker has been observed.
	DurationMs float64 `json:"duration_ms,omitempty"`
	Events     []Event `json:"events"`

	endSeen bool
}

// AggregatorConfig holds configuration for the Aggregator.
type AggregatorConfig struct {
	Logger *slog.Logger

	// Capacity is the retained transaction target. Defaults to 5000.
	Capacity int

	// EvictionSlack is the fraction of Capacity the aggregator may overshoot
	// before the eviction pass runs, amortizing its cost. Defaults to 0.10.
	EvictionSlack float64
}

func (cfg *AggregatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Capacity < 0 {
		return errors.New("capacity must not be negative")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 5000
	}
	if cfg.EvictionSlack < 0 {
		return errors.New("eviction slack must not be negative")
	}
	if cfg.EvictionSlack == 0 {
		cfg.EvictionSlack = 0.10
	}
	return nil
}

// Aggregator groups raw events into transactions and tracks each
// transaction's lifecycle. The id-keyed map is the single source of truth;
// the order slice only records insertion order for listing and eviction.
//
// Aggregator is not safe for concurrent use; the owning state object
// serializes access.
type Aggregator struct {
	log *slog.Logger
	cfg AggregatorConfig

	txs   map[string]*Transaction
	order []string
}

// NewAggregator creates an empty Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		log: cfg.Logger,
		cfg: cfg,
		txs: make(map[string]*Transaction),
	}, nil
}

// Len returns the number of retained transactions.
func (a *Aggregator) Len() int { return len(a.txs) }

// Ingest consumes one event, creating or advancing the transaction it
// belongs to. Events bearing the all-zero sentinel id belong to no
// transaction and are ignored.
func (a *Aggregator) Ingest(ev Event) {
	if IsSentinelTx(ev.TxID) {
		return
	}

	tx, ok := a.txs[ev.TxID]
	if !ok {
		tx = a.create(ev)
		a.evict()
		return
	}
	a.advance(tx, ev)
}

// Get returns the transaction for an id, or nil when unknown (or evicted).
func (a *Aggregator) Get(txID string) *Transaction {
	return a.txs[txID]
}

// All returns the retained transactions in insertion order.
func (a *Aggregator) All() []*Transaction {
	out := make([]*Transaction, 0, len(a.order))
	for _, id := range a.order {
		if tx, ok := a.txs[id]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// IDs returns the retained transaction ids in insertion order.
func (a *Aggregator) IDs() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Reload replaces all state from a history backfill: events are re-ingested
// in order on a clean slate.
func (a *Aggregator) Reload(events []Event) {
	a.txs = make(map[string]*Transaction)
	a.order = a.order[:0]
	for _, ev := range events {
		a.Ingest(ev)
	}
	a.log.Info("aggregator: reloaded from history", "transactions", len(a.txs))
}

func (a *Aggregator) create(ev Event) *Transaction {
	tx := &Transaction{
		ID:      ev.TxID,
		Op:      OpForType(ev.Type),
		StartNs: ev.Timestamp,
		EndNs:   ev.Timestamp,
		Status:  TxComplete,
		Events:  []Event{ev},
	}
	if status := TerminalStatus(ev.Type); status != "" {
		// A single event can be both start and end (disconnect).
		tx.Status = status
		tx.endSeen = true
		tx.DurationMs = 0
	} else if IsStartMarker(ev.Type) {
		tx.Status = TxPending
	}
	a.txs[ev.TxID] = tx
	a.order = append(a.order, ev.TxID)
	return tx
}

func (a *Aggregator) advance(tx *Transaction, ev Event) {
	tx.Events = append(tx.Events, ev)

	// end_ns tracks the latest observed timestamp, not the logical end;
	// this degrades gracefully under minor out-of-order arrival.
	if ev.Timestamp > tx.EndNs {
		tx.EndNs = ev.Timestamp
	}
	if ev.Timestamp < tx.StartNs {
		tx.StartNs = ev.Timestamp
	}
	if tx.Op == OpOther {
		if op := OpForType(ev.Type); op != OpOther {
			tx.Op = op
		}
	}

	if status := TerminalStatus(ev.Type); status != "" {
		tx.Status = status
		tx.endSeen = true
	} else if IsStartMarker(ev.Type) && !tx.endSeen {
		// A start marker never downgrades a terminal status.
		tx.Status = TxPending
	}

	if tx.endSeen {
		tx.DurationMs = float64(tx.EndNs-tx.StartNs) / 1e6
	}
}

// evict drops the oldest transactions once the capacity bound is exceeded by
// its slack factor. Bounded-memory policy, not a fault: no error is raised.
func (a *Aggregator) evict() {
	limit := a.cfg.Capacity + int(float64(a.cfg.Capacity)*a.cfg.EvictionSlack)
	if len(a.order) <= limit {
		return
	}
	drop := len(a.order) - a.cfg.Capacity
	for _, id := range a.order[:drop] {
		delete(a.txs, id)
	}
	a.order = append(a.order[:0], a.order[drop:]...)
	metrics.TransactionsEvicted.Add(float64(drop))
	a.log.Debug("aggregator: evicted oldest transactions", "dropped", drop, "retained", len(a.txs))
}
