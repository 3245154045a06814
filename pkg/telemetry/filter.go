package telemetry

import "strings"

// DefaultFilterLimit is the display truncation applied when a caller does
// not ask for a specific limit.
const DefaultFilterLimit = 30

// Criteria is the active selection a filter pass composes into one
// predicate. Zero-valued fields are absent criteria.
type Criteria struct {
	PeerID     string
	TxID       string
	ContractID string
	Text       string
}

// IsZero reports whether no criterion is set.
func (c Criteria) IsZero() bool {
	return c.PeerID == "" && c.TxID == "" && c.ContractID == "" && c.Text == ""
}

// FilterResult is a filtered event slice truncated for display, plus the
// untruncated match count. Truncation never corrupts the count.
type FilterResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
}

// ApplyFilter evaluates the criteria against a windowed event slice in a
// single pass. An event passes iff it satisfies every present criterion.
// The returned events are the most recent limit matches in window order;
// limit <= 0 means DefaultFilterLimit.
func ApplyFilter(window []Event, c Criteria, limit int) FilterResult {
	if limit <= 0 {
		limit = DefaultFilterLimit
	}

	var res FilterResult
	text := strings.ToLower(c.Text)
	for i := range window {
		if !matches(&window[i], c, text) {
			continue
		}
		res.Total++
		res.Events = append(res.Events, window[i])
		if len(res.Events) > limit {
			// Keep the most recent matches; the window is time ordered.
			res.Events = res.Events[1:]
		}
	}
	return res
}

func matches(ev *Event, c Criteria, textLower string) bool {
	if c.PeerID != "" && !referencesPeer(ev, c.PeerID) {
		return false
	}
	if c.TxID != "" && ev.TxID != c.TxID {
		return false
	}
	if c.ContractID != "" && ev.ContractID != c.ContractID {
		return false
	}
	if textLower != "" && !matchesText(ev, textLower) {
		return false
	}
	return true
}

func referencesPeer(ev *Event, peerID string) bool {
	if ev.PeerID == peerID || ev.FromPeer == peerID || ev.ToPeer == peerID {
		return true
	}
	if ev.Connection != nil && (ev.Connection.From == peerID || ev.Connection.To == peerID) {
		return true
	}
	return false
}

func matchesText(ev *Event, textLower string) bool {
	return strings.Contains(strings.ToLower(ev.Type), textLower) ||
		strings.Contains(strings.ToLower(ev.PeerID), textLower) ||
		strings.Contains(strings.ToLower(ev.ContractID), textLower)
}
