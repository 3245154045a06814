package telemetry

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
)

// EventLogConfig holds configuration for the EventLog.
type EventLogConfig struct {
	Logger *slog.Logger

	// MaxEvents caps retained events when > 0 (ring-buffer mode for
	// unattended long-running sessions). 0 means unbounded.
	MaxEvents int

	// EvictionSlack is the fraction of MaxEvents the log may overshoot
	// before the oldest block is dropped in one copy, so eviction cost is
	// amortized instead of paid per append. Defaults to 0.10.
	EvictionSlack float64
}

func (cfg *EventLogConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.MaxEvents < 0 {
		return errors.New("max events must not be negative")
	}
	if cfg.EvictionSlack < 0 {
		return errors.New("eviction slack must not be negative")
	}
	if cfg.EvictionSlack == 0 {
		cfg.EvictionSlack = 0.10
	}
	return nil
}

// EventLog is the append-only, approximately time-ordered event store.
//
// Events arrive in emission order from the live feed and pre-sorted from
// history backfills, so the backing slice is sorted except for small local
// disorder from source clock skew. Append tracks the largest observed
// displacement below the running maximum timestamp (which bounds how far any
// later event can sit below any earlier one) and Windowed widens its binary
// search anchors by that skew, so window queries stay exact without
// re-sorting on every append.
//
// EventLog is not safe for concurrent use; the owning state object
// serializes access.
type EventLog struct {
	log *slog.Logger
	cfg EventLogConfig

	events []Event

	// maxTs is the largest timestamp appended so far; maxSkew is the
	// largest observed displacement below it, in nanoseconds.
	maxTs   int64
	maxSkew int64

	rangeStart int64
	rangeEnd   int64
}

// NewEventLog creates an empty EventLog.
func NewEventLog(cfg EventLogConfig) (*EventLog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EventLog{log: cfg.Logger, cfg: cfg}, nil
}

// Len returns the number of retained events.
func (l *EventLog) Len() int { return len(l.events) }

// TimeRange returns the known span of the log: the range declared by the
// last bulk load, widened by any events appended since.
func (l *EventLog) TimeRange() (start, end int64) {
	return l.rangeStart, l.rangeEnd
}

// Append inserts a single event in arrival order.
func (l *EventLog) Append(ev Event) {
	if ev.Timestamp > l.maxTs {
		l.maxTs = ev.Timestamp
	} else if len(l.events) > 0 {
		if skew := l.maxTs - ev.Timestamp; skew > l.maxSkew {
			l.maxSkew = skew
			l.log.Debug("event log: out-of-order arrival",
				"skew", time.Duration(skew).String(),
				"event_type", ev.Type)
		}
	}
	l.events = append(l.events, ev)
	if l.rangeStart == 0 || ev.Timestamp < l.rangeStart {
		l.rangeStart = ev.Timestamp
	}
	if ev.Timestamp > l.rangeEnd {
		l.rangeEnd = ev.Timestamp
	}
	l.evict()
	metrics.EventLogSize.Set(float64(len(l.events)))
}

// BulkLoad replaces the log wholesale with a history backfill and
// re-establishes sortedness. The declared time range may be wider than the
// events themselves (a quiet period has a range but few events).
func (l *EventLog) BulkLoad(events []Event, rangeStart, rangeEnd int64) {
	l.events = make([]Event, len(events))
	copy(l.events, events)
	sort.SliceStable(l.events, func(i, j int) bool {
		return l.events[i].Timestamp < l.events[j].Timestamp
	})
	l.maxSkew = 0
	l.maxTs = 0
	l.rangeStart = rangeStart
	l.rangeEnd = rangeEnd
	if n := len(l.events); n > 0 {
		l.maxTs = l.events[n-1].Timestamp
		if l.rangeStart == 0 || l.events[0].Timestamp < l.rangeStart {
			l.rangeStart = l.events[0].Timestamp
		}
		if l.events[n-1].Timestamp > l.rangeEnd {
			l.rangeEnd = l.events[n-1].Timestamp
		}
	}
	l.evict()
	metrics.EventLogSize.Set(float64(len(l.events)))
	l.log.Info("event log: bulk load",
		"events", len(l.events),
		"start", time.Unix(0, l.rangeStart).UTC(),
		"end", time.Unix(0, l.rangeEnd).UTC())
}

// evict drops the oldest block once ring-buffer mode overshoots its slack.
// Dropped events whose transactions have no other surviving member simply
// become unreachable; that is the documented bounded-memory policy, not a
// fault.
func (l *EventLog) evict() {
	if l.cfg.MaxEvents == 0 {
		return
	}
	limit := l.cfg.MaxEvents + int(float64(l.cfg.MaxEvents)*l.cfg.EvictionSlack)
	if len(l.events) <= limit {
		return
	}
	drop := len(l.events) - l.cfg.MaxEvents
	l.events = append(l.events[:0], l.events[drop:]...)
	if len(l.events) > 0 {
		l.rangeStart = l.events[0].Timestamp
	}
	metrics.EventsEvicted.Add(float64(drop))
	l.log.Debug("event log: evicted oldest events", "dropped", drop, "retained", len(l.events))
}

// Windowed returns all events with timestamp in [center-radius, center+radius].
func (l *EventLog) Windowed(center, radius int64) []Event {
	start := time.Now()
	defer func() {
		metrics.WindowQueryDuration.Observe(time.Since(start).Seconds())
	}()

	lo := center - radius
	hi := center + radius

	var out []Event
	l.Range(lo, hi, func(ev Event) bool {
		out = append(out, ev)
		return true
	})
	return out
}

// Range visits every event with timestamp in [lo, hi] in log order, until fn
// returns false. Uses a binary search anchor widened by the observed skew,
// O(log n + k); reverts to a linear scan when tracked disorder exceeds the
// window size and the anchor can no longer be trusted.
func (l *EventLog) Range(lo, hi int64, fn func(Event) bool) {
	if len(l.events) == 0 || lo > hi {
		return
	}

	if l.maxSkew > hi-lo {
		l.scanLinear(lo, hi, fn)
		return
	}

	// Anchor below lo by the observed skew so locally disordered events at
	// the window's lower edge are not skipped.
	anchor := lo - l.maxSkew
	i := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].Timestamp >= anchor
	})
	// Events past hi by more than the skew cannot be followed by in-window
	// events anymore.
	for ; i < len(l.events); i++ {
		ts := l.events[i].Timestamp
		if ts > hi {
			if ts > hi+l.maxSkew {
				return
			}
			continue
		}
		if ts < lo {
			continue
		}
		if !fn(l.events[i]) {
			return
		}
	}
}

func (l *EventLog) scanLinear(lo, hi int64, fn func(Event) bool) {
	for i := range l.events {
		ts := l.events[i].Timestamp
		if ts < lo || ts > hi {
			continue
		}
		if !fn(l.events[i]) {
			return
		}
	}
}
