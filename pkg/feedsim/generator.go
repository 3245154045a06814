// Package feedsim generates a plausible synthetic telemetry stream for
// local development and demos: an initial state snapshot, a history
// backfill, then a steady trickle of live events with realistic
// request/response pairing so aggregated transactions look real.
package feedsim

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/ingest"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

// GeneratorConfig holds configuration for the Generator.
type GeneratorConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Peers is the size of the synthetic network. Defaults to 12.
	Peers int

	// Contracts is the number of synthetic contracts. Defaults to 6.
	Contracts int

	// HistorySpan is how far back the synthetic backfill reaches.
	// Defaults to 15 minutes.
	HistorySpan time.Duration

	// Seed fixes the random source for reproducible streams; 0 seeds from
	// the clock.
	Seed int64
}

func (cfg *GeneratorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Peers <= 0 {
		cfg.Peers = 12
	}
	if cfg.Contracts <= 0 {
		cfg.Contracts = 6
	}
	if cfg.HistorySpan <= 0 {
		cfg.HistorySpan = 15 * time.Minute
	}
	return nil
}

// Generator produces the synthetic message stream. One Generator is shared
// by every attached client, so all message-producing methods serialize on
// an internal mutex.
type Generator struct {
	log *slog.Logger
	cfg GeneratorConfig

	mu    sync.Mutex
	rng   *rand.Rand
	queue []telemetry.Event

	peers     []ingest.PeerInfo
	contracts []string
	conns     map[telemetry.Connection]struct{}
}

// NewGenerator creates a Generator with a synthetic peer population.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = cfg.Clock.Now().UnixNano()
	}

	gofakeit.Seed(seed)

	g := &Generator{
		log:   cfg.Logger,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		conns: make(map[telemetry.Connection]struct{}),
	}

	for i := 0; i < cfg.Peers; i++ {
		g.peers = append(g.peers, ingest.PeerInfo{
			ID:       g.hexID(43),
			Location: g.rng.Float64(),
			IPHash:   g.hexID(16),
		})
	}
	for i := 0; i < cfg.Contracts; i++ {
		g.contracts = append(g.contracts, g.hexID(52))
	}

	// Sparse random mesh.
	for i := range g.peers {
		for j := i + 1; j < len(g.peers); j++ {
			if g.rng.Float64() < 0.25 {
				g.conns[telemetry.NewConnection(g.peers[i].ID, g.peers[j].ID)] = struct{}{}
			}
		}
	}

	return g, nil
}

// State builds the authoritative current-state snapshot message.
func (g *Generator) State() *ingest.StateMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	conns := make([]ingest.ConnectionInfo, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, ingest.ConnectionInfo{From: c.A, To: c.B})
	}

	contracts := make([]ingest.ContractInfo, 0, len(g.contracts))
	for _, key := range g.contracts {
		info := ingest.ContractInfo{Key: key, PeerStateHashes: make(map[string]string)}
		for _, p := range g.peers {
			if g.rng.Float64() < 0.4 {
				info.Subscribers = append(info.Subscribers, p.ID)
				info.PeerStateHashes[p.ID] = g.hexID(64)
			}
		}
		contracts = append(contracts, info)
	}

	return &ingest.StateMessage{
		Peers:       g.peers,
		Connections: conns,
		Contracts:   contracts,
		Stats: ingest.OpStats{
			Puts:       uint64(g.rng.Intn(5000)),
			Gets:       uint64(g.rng.Intn(20000)),
			Updates:    uint64(g.rng.Intn(3000)),
			Subscribes: uint64(g.rng.Intn(800)),
			Connects:   uint64(g.rng.Intn(400)),
		},
		Identity: ingest.Identity{
			OwnPeerID:     g.peers[0].ID,
			GatewayPeerID: g.peers[1%len(g.peers)].ID,
			DisplayNames: map[string]string{
				g.peers[0].ID: gofakeit.Username(),
			},
		},
	}
}

// History builds a backfill covering the configured span up to now.
func (g *Generator) History() *ingest.HistoryMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	end := g.cfg.Clock.Now().UnixNano()
	start := end - g.cfg.HistorySpan.Nanoseconds()

	var events []telemetry.Event
	ts := start
	for ts < end {
		ts += int64(g.rng.Intn(2_000_000_000)) // up to 2s apart
		if ts >= end {
			break
		}
		events = append(events, g.burst(ts)...)
	}

	presence := make([]telemetry.PresenceRecord, 0, len(g.peers))
	for _, p := range g.peers {
		presence = append(presence, telemetry.PresenceRecord{
			PeerID:   p.ID,
			Location: p.Location,
			IPHash:   p.IPHash,
		})
	}

	return &ingest.HistoryMessage{
		Events:       events,
		Range:        ingest.TimeRange{Start: start, End: end},
		PeerPresence: presence,
	}
}

// Next returns the next live event message, generating a fresh
// request/outcome pair when the queue is empty so every request is
// eventually resolved.
func (g *Generator) Next() *ingest.EventMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) == 0 {
		g.queue = g.burst(g.cfg.Clock.Now().UnixNano())
	}
	ev := g.queue[0]
	g.queue = g.queue[1:]
	return &ingest.EventMessage{Event: ev}
}

// burst produces one transaction's worth of events starting at ts.
func (g *Generator) burst(ts int64) []telemetry.Event {
	peer := g.peers[g.rng.Intn(len(g.peers))]
	contract := g.contracts[g.rng.Intn(len(g.contracts))]
	txID := uuid.New().String()
	loc := peer.Location

	type pair struct {
		start  string
		end    string
		weight float64
	}
	pairs := []pair{
		{"put_request", "put_success", 0.2},
		{"get_request", "get_success", 0.4},
		{"get_request", "get_not_found", 0.1},
		{"update_request", "update_success", 0.15},
		{"subscribe_request", "subscribed", 0.15},
	}

	roll := g.rng.Float64()
	var chosen pair
	acc := 0.0
	for _, p := range pairs {
		acc += p.weight
		if roll < acc {
			chosen = p
			break
		}
	}
	if chosen.start == "" {
		chosen = pairs[len(pairs)-1]
	}

	req := telemetry.Event{
		Timestamp:  ts,
		Type:       chosen.start,
		PeerID:     peer.ID,
		TxID:       txID,
		ContractID: contract,
		Location:   &loc,
	}
	res := telemetry.Event{
		Timestamp:  ts + int64(g.rng.Intn(400_000_000)), // up to 400ms later
		Type:       chosen.end,
		PeerID:     peer.ID,
		TxID:       txID,
		ContractID: contract,
		StateHash:  g.hexID(64),
	}
	return []telemetry.Event{req, res}
}

func (g *Generator) hexID(n int) string {
	const hex = "0123456789abcdef"
	b := make([]byte, n)
	for i := range b {
		b[i] = hex[g.rng.Intn(len(hex))]
	}
	return string(b)
}

// Envelope wraps a message payload for the wire.
func Envelope(msgType string, payload any) map[string]any {
	return map[string]any{"type": msgType, "payload": payload}
}
