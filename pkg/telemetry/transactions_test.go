package telemetry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/logger"
)

func newTestAggregator(t *testing.T, cfg AggregatorConfig) *Aggregator {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	a, err := NewAggregator(cfg)
	require.NoError(t, err)
	return a
}

func TestAggregatorLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("put request then success", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "T1", Type: "put_request", Timestamp: 1000})

		tx := a.Get("T1")
		require.NotNil(t, tx)
		assert.Equal(t, OpPut, tx.Op)
		assert.Equal(t, TxPending, tx.Status)
		assert.Equal(t, int64(1000), tx.StartNs)
		assert.Equal(t, int64(1000), tx.EndNs)

		a.Ingest(Event{TxID: "T1", Type: "put_success", Timestamp: 1500})
		assert.Equal(t, TxSuccess, tx.Status)
		assert.Equal(t, int64(1500), tx.EndNs)
		assert.InDelta(t, 0.0005, tx.DurationMs, 1e-12)
		assert.Len(t, tx.Events, 2)
	})

	t.Run("get not found", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "G1", Type: "get_request", Timestamp: 100})
		a.Ingest(Event{TxID: "G1", Type: "get_not_found", Timestamp: 300})

		tx := a.Get("G1")
		require.NotNil(t, tx)
		assert.Equal(t, OpGet, tx.Op)
		assert.Equal(t, TxNotFound, tx.Status)
	})

	t.Run("put failure", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "P1", Type: "put_request", Timestamp: 100})
		a.Ingest(Event{TxID: "P1", Type: "put_failure", Timestamp: 200})
		assert.Equal(t, TxFailed, a.Get("P1").Status)
	})

	t.Run("subscribe", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "S1", Type: "subscribe_request", Timestamp: 100})
		assert.Equal(t, TxPending, a.Get("S1").Status)
		a.Ingest(Event{TxID: "S1", Type: "subscribed", Timestamp: 400})
		tx := a.Get("S1")
		assert.Equal(t, OpSubscribe, tx.Op)
		assert.Equal(t, TxSuccess, tx.Status)
	})

	t.Run("connect", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "C1", Type: "connecting", Timestamp: 100})
		assert.Equal(t, TxPending, a.Get("C1").Status)
		a.Ingest(Event{TxID: "C1", Type: "connected", Timestamp: 350})
		tx := a.Get("C1")
		assert.Equal(t, OpConnect, tx.Op)
		assert.Equal(t, TxSuccess, tx.Status)
	})

	t.Run("disconnect is immediately complete", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "D1", Type: "disconnected", Timestamp: 700})
		tx := a.Get("D1")
		require.NotNil(t, tx)
		assert.Equal(t, OpDisconnect, tx.Op)
		assert.Equal(t, TxComplete, tx.Status)
		assert.Equal(t, tx.StartNs, tx.EndNs)
		assert.Zero(t, tx.DurationMs)
	})

	t.Run("unrecognized type is complete with no duration", func(t *testing.T) {
		t.Parallel()
		a := newTestAggregator(t, AggregatorConfig{})
		a.Ingest(Event{TxID: "O1", Type: "broadcast_emitted", Timestamp: 100})
		tx := a.Get("O1")
		require.NotNil(t, tx)
		assert.Equal(t, OpOther, tx.Op)
		assert.Equal(t, TxComplete, tx.Status)
		assert.Zero(t, tx.DurationMs)
	})
}

func TestAggregatorSentinelTx(t *testing.T) {
	t.Parallel()

	a := newTestAggregator(t, AggregatorConfig{})
	for _, id := range []string{
		"",
		"0",
		"000000000000000000000000",
		"00000000-0000-0000-0000-000000000000",
	} {
		a.Ingest(Event{TxID: id, Type: "put_request", Timestamp: 100})
	}
	assert.Zero(t, a.Len())
}

// Once a transaction reaches a terminal status, no later event for the same
// id downgrades it back to pending.
func TestAggregatorStatusMonotonicity(t *testing.T) {
	t.Parallel()

	a := newTestAggregator(t, AggregatorConfig{})
	a.Ingest(Event{TxID: "T1", Type: "put_request", Timestamp: 1000})
	a.Ingest(Event{TxID: "T1", Type: "put_success", Timestamp: 2000})
	// Late duplicate of the request, delivered out of order.
	a.Ingest(Event{TxID: "T1", Type: "put_request", Timestamp: 1500})

	tx := a.Get("T1")
	assert.Equal(t, TxSuccess, tx.Status)
	assert.Equal(t, int64(2000), tx.EndNs)
	assert.Len(t, tx.Events, 3)
}

func TestAggregatorEndNsTracksLatestTimestamp(t *testing.T) {
	t.Parallel()

	a := newTestAggregator(t, AggregatorConfig{})
	a.Ingest(Event{TxID: "T1", Type: "get_request", Timestamp: 1000})
	// Non-marker event for the same transaction, later timestamp.
	a.Ingest(Event{TxID: "T1", Type: "state_updated", Timestamp: 5000})

	tx := a.Get("T1")
	assert.Equal(t, int64(5000), tx.EndNs)
	assert.Equal(t, TxPending, tx.Status)
	// No end marker seen, so no duration yet.
	assert.Zero(t, tx.DurationMs)
}

func TestAggregatorEvictionBound(t *testing.T) {
	t.Parallel()

	capacity := 50
	a := newTestAggregator(t, AggregatorConfig{Capacity: capacity, EvictionSlack: 0.10})
	for i := 0; i < 1000; i++ {
		a.Ingest(Event{
			TxID:      fmt.Sprintf("tx-%04d", i),
			Type:      "get_request",
			Timestamp: int64(i),
		})
		assert.LessOrEqual(t, a.Len(), capacity+capacity/10)
	}

	// The oldest transactions are gone, the newest survive, in order.
	assert.Nil(t, a.Get("tx-0000"))
	require.NotNil(t, a.Get("tx-0999"))
	all := a.All()
	require.NotEmpty(t, all)
	assert.Equal(t, "tx-0999", all[len(all)-1].ID)
}

func TestAggregatorReload(t *testing.T) {
	t.Parallel()

	a := newTestAggregator(t, AggregatorConfig{})
	a.Ingest(Event{TxID: "old", Type: "get_request", Timestamp: 1})

	a.Reload([]Event{
		{TxID: "new1", Type: "put_request", Timestamp: 100},
		{TxID: "new1", Type: "put_success", Timestamp: 200},
		{TxID: "new2", Type: "get_request", Timestamp: 300},
	})

	assert.Nil(t, a.Get("old"))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, TxSuccess, a.Get("new1").Status)
	assert.Equal(t, TxPending, a.Get("new2").Status)
}
