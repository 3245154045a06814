package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("state message", func(t *testing.T) {
		t.Parallel()

		data := []byte(`{
			"type": "state",
			"payload": {
				"peers": [{"id": "peer-a", "location": 0.25}, {"id": "peer-b", "location": 0.75}],
				"connections": [{"from": "peer-a", "to": "peer-b"}],
				"contracts": [{"key": "contract-1", "subscribers": ["peer-a"]}],
				"stats": {"puts": 10, "gets": 20, "updates": 0, "subscribes": 1, "connects": 2},
				"identity": {"own_peer_id": "peer-a"}
			}
		}`)

		msg, err := Parse(data)
		require.NoError(t, err)

		state, ok := msg.(*StateMessage)
		require.True(t, ok)
		require.Len(t, state.Peers, 2)
		assert.Equal(t, "peer-a", state.Peers[0].ID)
		assert.Equal(t, 0.25, state.Peers[0].Location)
		require.Len(t, state.Connections, 1)
		assert.Equal(t, uint64(20), state.Stats.Gets)
		assert.Equal(t, "peer-a", state.Identity.OwnPeerID)
	})

	t.Run("history message", func(t *testing.T) {
		t.Parallel()

		// The trailing transactions key is feed metadata this consumer does
		// not use; it must be tolerated, not rejected.
		data := []byte(`{
			"type": "history",
			"payload": {
				"events": [
					{"timestamp": 1000, "event_type": "put_request", "tx_id": "tx-1"},
					{"timestamp": 1500, "event_type": "put_success", "tx_id": "tx-1"}
				],
				"range": {"start": 500, "end": 2000},
				"peer_presence": [{"peer_id": "peer-a", "location": 0.5}],
				"transactions": ["tx-1"]
			}
		}`)

		msg, err := Parse(data)
		require.NoError(t, err)

		history, ok := msg.(*HistoryMessage)
		require.True(t, ok)
		require.Len(t, history.Events, 2)
		assert.Equal(t, int64(1000), history.Events[0].Timestamp)
		assert.Equal(t, int64(500), history.Range.Start)
		assert.Equal(t, int64(2000), history.Range.End)
		require.Len(t, history.PeerPresence, 1)
	})

	t.Run("event message", func(t *testing.T) {
		t.Parallel()

		data := []byte(`{
			"type": "event",
			"payload": {"event": {"timestamp": 42, "event_type": "get_request", "peer_id": "peer-a"}}
		}`)

		msg, err := Parse(data)
		require.NoError(t, err)

		ev, ok := msg.(*EventMessage)
		require.True(t, ok)
		assert.Equal(t, int64(42), ev.Event.Timestamp)
		assert.Equal(t, "get_request", ev.Event.Type)
	})

	t.Run("invalid inputs wrap ErrInvalidMessage", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name string
			data string
		}{
			{"not json", `{{{`},
			{"missing type tag", `{"payload": {}}`},
			{"unknown type", `{"type": "snapshot", "payload": {}}`},
			{"event missing timestamp", `{"type": "event", "payload": {"event": {"event_type": "put_request"}}}`},
			{"event missing event_type", `{"type": "event", "payload": {"event": {"timestamp": 42}}}`},
			{"history inverted range", `{"type": "history", "payload": {"events": [], "range": {"start": 100, "end": 50}}}`},
			{"history invalid event", `{"type": "history", "payload": {"events": [{"timestamp": 0, "event_type": "x"}], "range": {"start": 0, "end": 1}}}`},
			{"state peer missing id", `{"type": "state", "payload": {"peers": [{"location": 0.5}], "connections": []}}`},
			{"state connection missing endpoint", `{"type": "state", "payload": {"peers": [], "connections": [{"from": "peer-a"}]}}`},
			{"malformed payload", `{"type": "state", "payload": 42}`},
		}
		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				msg, err := Parse([]byte(tc.data))
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMessage)
				assert.Nil(t, msg)
			})
		}
	})
}

func TestDropReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "malformed", dropReason([]byte(`{{`)))
	assert.Equal(t, "malformed", dropReason([]byte(`{"payload": {}}`)))
	assert.Equal(t, "unknown_type", dropReason([]byte(`{"type": "snapshot"}`)))
	assert.Equal(t, "invalid_event", dropReason([]byte(`{"type": "event", "payload": {}}`)))
	assert.Equal(t, "invalid_state", dropReason([]byte(`{"type": "state"}`)))
}
