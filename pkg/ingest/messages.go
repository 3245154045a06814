// Package ingest is the dashboard's ingestion boundary: the tagged inbound
// message shapes delivered by the telemetry feed, their required-field
// validation, and the websocket feed client. Invalid messages are rejected
// here, never partially processed.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

// Message type tags carried in the envelope.
const (
	TypeState   = "state"
	TypeHistory = "history"
	TypeEvent   = "event"
)

// ErrInvalidMessage wraps every validation failure so callers can count
// drops with a single errors.Is check.
var ErrInvalidMessage = errors.New("invalid message")

// envelope is the outer shape of every feed message.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PeerInfo is a live peer as reported in a state snapshot.
type PeerInfo struct {
	ID              string  `json:"id"`
	Location        float64 `json:"location"`
	IPHash          string  `json:"ip_hash,omitempty"`
	TelemetryPeerID string  `json:"telemetry_peer_id,omitempty"`
}

// ConnectionInfo is a live connection as reported in a state snapshot.
type ConnectionInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ContractInfo describes a subscribed contract and the state hash each
// subscribed peer last reported for it.
type ContractInfo struct {
	Key             string            `json:"key"`
	Subscribers     []string          `json:"subscribers,omitempty"`
	PeerStateHashes map[string]string `json:"peer_state_hashes,omitempty"`
}

// OpStats are the aggregate operation counters reported in a state
// snapshot.
type OpStats struct {
	Puts       uint64 `json:"puts"`
	Gets       uint64 `json:"gets"`
	Updates    uint64 `json:"updates"`
	Subscribes uint64 `json:"subscribes"`
	Connects   uint64 `json:"connects"`
}

// Identity is the reporting node's own identity metadata.
type Identity struct {
	OwnPeerID     string            `json:"own_peer_id,omitempty"`
	GatewayPeerID string            `json:"gateway_peer_id,omitempty"`
	DisplayNames  map[string]string `json:"display_names,omitempty"`
}

// StateMessage is the refreshable authoritative current-state snapshot.
type StateMessage struct {
	Peers       []PeerInfo       `json:"peers"`
	Connections []ConnectionInfo `json:"connections"`
	Contracts   []ContractInfo   `json:"contracts,omitempty"`
	Stats       OpStats          `json:"stats"`
	Identity    Identity         `json:"identity"`
}

func (m *StateMessage) validate() error {
	for i, p := range m.Peers {
		if p.ID == "" {
			return fmt.Errorf("%w: state peer %d missing id", ErrInvalidMessage, i)
		}
	}
	for i, c := range m.Connections {
		if c.From == "" || c.To == "" {
			return fmt.Errorf("%w: state connection %d missing endpoint", ErrInvalidMessage, i)
		}
	}
	return nil
}

// TimeRange is the span a history backfill covers, in nanoseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// HistoryMessage is the bulk backfill a client receives when it first
// attaches: it replaces the event log, the aggregator state, and the
// peer-presence index wholesale.
type HistoryMessage struct {
	Events       []telemetry.Event          `json:"events"`
	Range        TimeRange                  `json:"range"`
	PeerPresence []telemetry.PresenceRecord `json:"peer_presence,omitempty"`
}

func (m *HistoryMessage) validate() error {
	if m.Range.Start > m.Range.End {
		return fmt.Errorf("%w: history range start %d after end %d",
			ErrInvalidMessage, m.Range.Start, m.Range.End)
	}
	for i := range m.Events {
		if err := validateEvent(&m.Events[i]); err != nil {
			return fmt.Errorf("%w: history event %d: %v", ErrInvalidMessage, i, err)
		}
	}
	return nil
}

// EventMessage is a single incremental event.
type EventMessage struct {
	Event telemetry.Event `json:"event"`
}

func (m *EventMessage) validate() error {
	if err := validateEvent(&m.Event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func validateEvent(ev *telemetry.Event) error {
	if ev.Timestamp <= 0 {
		return errors.New("missing timestamp")
	}
	if ev.Type == "" {
		return errors.New("missing event_type")
	}
	return nil
}

// Parse decodes and validates one feed message. The returned value is
// *StateMessage, *HistoryMessage, or *EventMessage. Malformed input returns
// an error wrapping ErrInvalidMessage; the caller drops the message with a
// diagnostic, never propagates it as a fatal fault.
func Parse(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrInvalidMessage, err)
	}

	switch env.Type {
	case TypeState:
		var m StateMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed state payload: %v", ErrInvalidMessage, err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return &m, nil
	case TypeHistory:
		var m HistoryMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed history payload: %v", ErrInvalidMessage, err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return &m, nil
	case TypeEvent:
		var m EventMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("%w: malformed event payload: %v", ErrInvalidMessage, err)
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return &m, nil
	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, env.Type)
	}
}
