package telemetry

import (
	"net/url"
	"strings"
	"time"
)

// Tab is the dashboard tab a shared view opens on.
type Tab string

const (
	TabEvents       Tab = "events"
	TabTransactions Tab = "transactions"
	TabTopology     Tab = "topology"
	TabStats        Tab = "stats"
)

// DefaultTab is omitted from encoded view states.
const DefaultTab = TabEvents

func validTab(t Tab) bool {
	switch t {
	case TabEvents, TabTransactions, TabTopology, TabStats:
		return true
	}
	return false
}

// Identifier prefix lengths used to keep encoded view states compact.
const (
	contractPrefixLen = 16
	peerPrefixLen     = 16
	txPrefixLen       = 12
)

// ViewState is the active selection and navigation mode of a dashboard
// view: pure projection parameters, owned by the UI and never persisted
// server-side.
type ViewState struct {
	SelectedContract string `json:"selected_contract,omitempty"`
	SelectedPeer     string `json:"selected_peer,omitempty"`
	SelectedTx       string `json:"selected_tx,omitempty"`
	ActiveTab        Tab    `json:"active_tab"`
	// CurrentTime is the pinned instant in nanoseconds; meaningful only
	// when Live is false.
	CurrentTime int64 `json:"current_time,omitempty"`
	Live        bool  `json:"live"`
}

// CodecContext supplies the currently loaded collections needed to resolve
// truncated identifiers while decoding.
type CodecContext struct {
	Contracts    []string
	Peers        []string
	Transactions []string
}

// EncodeViewState serializes a selection to a flat key-value query string.
// Fields at their default value (tab = events, mode = live) are omitted;
// identifiers are truncated to fixed prefixes for compactness.
func EncodeViewState(s ViewState) string {
	v := url.Values{}
	if s.SelectedContract != "" {
		v.Set("contract", truncate(s.SelectedContract, contractPrefixLen))
	}
	if s.SelectedPeer != "" {
		v.Set("peer", truncate(s.SelectedPeer, peerPrefixLen))
	}
	if s.SelectedTx != "" {
		v.Set("tx", truncate(s.SelectedTx, txPrefixLen))
	}
	if s.ActiveTab != "" && s.ActiveTab != DefaultTab {
		v.Set("tab", string(s.ActiveTab))
	}
	if !s.Live {
		v.Set("time", time.Unix(0, s.CurrentTime).UTC().Format(time.RFC3339Nano))
	}
	return v.Encode()
}

// DecodeViewState parses a flat key-value representation back into a
// selection, resolving truncated identifiers against the context by prefix
// match. Unresolvable references and malformed values degrade to unset,
// never an error; unknown keys are ignored for forward compatibility.
func DecodeViewState(raw string, ctx CodecContext) ViewState {
	s := ViewState{ActiveTab: DefaultTab, Live: true}

	v, err := url.ParseQuery(raw)
	if err != nil {
		return s
	}

	if p := v.Get("contract"); p != "" {
		s.SelectedContract = resolvePrefix(p, ctx.Contracts)
	}
	if p := v.Get("peer"); p != "" {
		s.SelectedPeer = resolvePrefix(p, ctx.Peers)
	}
	if p := v.Get("tx"); p != "" {
		s.SelectedTx = resolvePrefix(p, ctx.Transactions)
	}
	if tab := Tab(v.Get("tab")); tab != "" && validTab(tab) {
		s.ActiveTab = tab
	}
	if ts := v.Get("time"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			s.CurrentTime = t.UnixNano()
			s.Live = false
		}
	}
	return s
}

// resolvePrefix finds the first known id that starts with the decoded
// prefix, or empty when none matches.
func resolvePrefix(prefix string, known []string) string {
	for _, id := range known {
		if strings.HasPrefix(id, prefix) {
			return id
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
