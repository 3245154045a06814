package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpForType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType string
		want      Op
	}{
		{"put_request", OpPut},
		{"put_success", OpPut},
		{"get_not_found", OpGet},
		{"update_request", OpUpdate},
		{"subscribe_request", OpSubscribe},
		{"subscribed", OpSubscribe},
		{"connecting", OpConnect},
		{"connected", OpConnect},
		{"disconnected", OpDisconnect},
		{"broadcast_emitted", OpOther},
		{"", OpOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OpForType(tt.eventType), "type %q", tt.eventType)
	}
}

func TestMarkerClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, IsStartMarker("put_request"))
	assert.True(t, IsStartMarker("subscribe_request"))
	assert.True(t, IsStartMarker("connecting"))
	assert.False(t, IsStartMarker("put_success"))
	assert.False(t, IsStartMarker("subscribed"))

	assert.Equal(t, TxSuccess, TerminalStatus("put_success"))
	assert.Equal(t, TxSuccess, TerminalStatus("subscribed"))
	assert.Equal(t, TxSuccess, TerminalStatus("connected"))
	assert.Equal(t, TxFailed, TerminalStatus("put_failure"))
	assert.Equal(t, TxFailed, TerminalStatus("get_failed"))
	assert.Equal(t, TxNotFound, TerminalStatus("get_not_found"))
	assert.Equal(t, TxComplete, TerminalStatus("disconnected"))
	assert.Empty(t, string(TerminalStatus("put_request")))
	assert.Empty(t, string(TerminalStatus("state_updated")))
}

func TestIsSentinelTx(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSentinelTx(""))
	assert.True(t, IsSentinelTx("0"))
	assert.True(t, IsSentinelTx("0000000000000000"))
	assert.True(t, IsSentinelTx("00000000-0000-0000-0000-000000000000"))
	assert.False(t, IsSentinelTx("00000000000000a0"))
	assert.False(t, IsSentinelTx("tx-1"))
	assert.False(t, IsSentinelTx("--"))
}

func TestEventConnectionPair(t *testing.T) {
	t.Parallel()

	ev := Event{Connection: &ConnectionRef{From: "a", To: "b"}}
	a, b, ok := ev.connectionPair()
	assert.True(t, ok)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)

	ev = Event{FromPeer: "x", ToPeer: "y"}
	a, b, ok = ev.connectionPair()
	assert.True(t, ok)
	assert.Equal(t, "x", a)
	assert.Equal(t, "y", b)

	ev = Event{PeerID: "solo"}
	_, _, ok = ev.connectionPair()
	assert.False(t, ok)

	ev = Event{FromPeer: "same", ToPeer: "same"}
	_, _, ok = ev.connectionPair()
	assert.False(t, ok)
}
