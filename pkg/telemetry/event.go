// Package telemetry implements the reconstruction and aggregation core of
// the network dashboard: a bounded time-ordered event log, incremental
// transaction aggregation, point-in-time topology reconstruction, filter
// evaluation, and the shareable view-state codec.
package telemetry

import (
	"strings"
)

// ConnectionRef is the unordered peer pair an event may reference.
type ConnectionRef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Event is a single timestamped occurrence reported by the monitored
// network. Timestamps are nanoseconds since epoch, approximately ordered by
// arrival (see EventLog).
type Event struct {
	Timestamp       int64          `json:"timestamp"`
	Type            string         `json:"event_type"`
	PeerID          string         `json:"peer_id,omitempty"`
	FromPeer        string         `json:"from_peer,omitempty"`
	ToPeer          string         `json:"to_peer,omitempty"`
	Connection      *ConnectionRef `json:"connection,omitempty"`
	TxID            string         `json:"tx_id,omitempty"`
	ContractID      string         `json:"contract_full,omitempty"`
	StateHash       string         `json:"state_hash,omitempty"`
	StateHashBefore string         `json:"state_hash_before,omitempty"`
	StateHashAfter  string         `json:"state_hash_after,omitempty"`
	Location        *float64       `json:"location,omitempty"`
}

// Op is the logical operation kind a transaction performs, classified from
// its events' type tags.
type Op string

const (
	OpPut        Op = "put"
	OpGet        Op = "get"
	OpUpdate     Op = "update"
	OpSubscribe  Op = "subscribe"
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
	OpOther      Op = "other"
)

// OpForType classifies an event type tag into an operation kind.
func OpForType(eventType string) Op {
	switch {
	case strings.HasPrefix(eventType, "put"):
		return OpPut
	case strings.HasPrefix(eventType, "get"):
		return OpGet
	case strings.HasPrefix(eventType, "update"):
		return OpUpdate
	case strings.HasPrefix(eventType, "subscribe"), eventType == "subscribed":
		return OpSubscribe
	case strings.HasPrefix(eventType, "disconnect"):
		return OpDisconnect
	case strings.HasPrefix(eventType, "connect"), eventType == "connected":
		return OpConnect
	default:
		return OpOther
	}
}

// IsStartMarker reports whether the event type marks the start of a
// transaction for its operation kind.
func IsStartMarker(eventType string) bool {
	if strings.HasSuffix(eventType, "_request") {
		return true
	}
	return eventType == "connecting"
}

// TerminalStatus returns the terminal transaction status an event type
// implies, or empty when the type is not an end marker.
func TerminalStatus(eventType string) TxStatus {
	switch {
	case strings.Contains(eventType, "fail"):
		return TxFailed
	case strings.HasSuffix(eventType, "_not_found"):
		return TxNotFound
	case strings.HasSuffix(eventType, "_success"),
		eventType == "subscribed",
		eventType == "connected":
		return TxSuccess
	case strings.HasPrefix(eventType, "disconnect"):
		return TxComplete
	default:
		return ""
	}
}

// IsConnectEvent reports whether the event establishes a peer connection for
// topology purposes. Only the completion marker establishes a connection;
// "connecting" attempts do not.
func IsConnectEvent(eventType string) bool {
	return eventType == "connected"
}

// IsDisconnectEvent reports whether the event tears a peer connection down.
func IsDisconnectEvent(eventType string) bool {
	return strings.HasPrefix(eventType, "disconnect")
}

// IsSentinelTx reports whether a transaction id is the reserved all-zero
// sentinel meaning "no transaction". Separator characters are ignored so
// both bare hex and dashed forms are recognized.
func IsSentinelTx(id string) bool {
	if id == "" {
		return true
	}
	seen := false
	for _, r := range id {
		switch r {
		case '0':
			seen = true
		case '-', ':':
		default:
			return false
		}
	}
	return seen
}

// peers returns every peer id the event references, connection members
// included. Used by filtering and topology inference.
func (e *Event) peers() []string {
	ids := make([]string, 0, 4)
	if e.PeerID != "" {
		ids = append(ids, e.PeerID)
	}
	if e.FromPeer != "" {
		ids = append(ids, e.FromPeer)
	}
	if e.ToPeer != "" {
		ids = append(ids, e.ToPeer)
	}
	if e.Connection != nil {
		if e.Connection.From != "" {
			ids = append(ids, e.Connection.From)
		}
		if e.Connection.To != "" {
			ids = append(ids, e.Connection.To)
		}
	}
	return ids
}

// connectionPair returns the unordered peer pair a connection-affecting
// event references, preferring the explicit connection field and falling
// back to from/to. ok is false when fewer than two distinct peers are named.
func (e *Event) connectionPair() (a, b string, ok bool) {
	if e.Connection != nil && e.Connection.From != "" && e.Connection.To != "" {
		a, b = e.Connection.From, e.Connection.To
	} else if e.FromPeer != "" && e.ToPeer != "" {
		a, b = e.FromPeer, e.ToPeer
	} else {
		return "", "", false
	}
	if a == b {
		return "", "", false
	}
	return a, b, true
}
