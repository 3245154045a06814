package feedsim

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/ingest"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/logger"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()

	g, err := NewGenerator(GeneratorConfig{
		Logger: logger.NewNop(),
		Clock:  clockwork.NewFakeClockAt(time.Unix(1000, 0)),
		Seed:   42,
	})
	require.NoError(t, err)
	return g
}

func TestGenerator(t *testing.T) {
	t.Parallel()

	t.Run("state message survives the ingest parser", func(t *testing.T) {
		t.Parallel()

		g := newTestGenerator(t)
		data, err := json.Marshal(Envelope(ingest.TypeState, g.State()))
		require.NoError(t, err)

		msg, err := ingest.Parse(data)
		require.NoError(t, err)

		state, ok := msg.(*ingest.StateMessage)
		require.True(t, ok)
		assert.Len(t, state.Peers, 12)
		assert.NotEmpty(t, state.Identity.OwnPeerID)
	})

	t.Run("history covers the configured span with valid events", func(t *testing.T) {
		t.Parallel()

		g := newTestGenerator(t)
		data, err := json.Marshal(Envelope(ingest.TypeHistory, g.History()))
		require.NoError(t, err)

		msg, err := ingest.Parse(data)
		require.NoError(t, err)

		history, ok := msg.(*ingest.HistoryMessage)
		require.True(t, ok)
		assert.NotEmpty(t, history.Events)
		assert.Less(t, history.Range.Start, history.Range.End)
		for _, ev := range history.Events {
			assert.GreaterOrEqual(t, ev.Timestamp, history.Range.Start)
			assert.NotEmpty(t, ev.Type)
			assert.NotEmpty(t, ev.TxID)
		}
	})

	t.Run("live events pair requests with outcomes", func(t *testing.T) {
		t.Parallel()

		g := newTestGenerator(t)

		req := g.Next()
		res := g.Next()
		assert.LessOrEqual(t, req.Event.Timestamp, res.Event.Timestamp)
		assert.Equal(t, req.Event.TxID, res.Event.TxID)
		assert.NotEqual(t, telemetry.TxStatus(""), telemetry.TerminalStatus(res.Event.Type))
	})

	t.Run("safe under concurrent clients", func(t *testing.T) {
		t.Parallel()

		g := newTestGenerator(t)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					ev := g.Next()
					assert.NotEmpty(t, ev.Event.Type)
					if j%50 == 0 {
						assert.NotEmpty(t, g.State().Peers)
					}
				}
			}()
		}
		wg.Wait()
	})

	t.Run("fixed seed is reproducible", func(t *testing.T) {
		t.Parallel()

		a := newTestGenerator(t)
		b := newTestGenerator(t)
		assert.Equal(t, a.State().Peers, b.State().Peers)
	})
}
