// Package server exposes the dashboard core over HTTP for the rendering
// layer: windowed/filtered events, topology snapshots, transactions, the
// view-state codec, and a websocket push channel for live events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/dashboard"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

// Config holds configuration for the Server.
type Config struct {
	Logger    *slog.Logger
	Dashboard *dashboard.Dashboard

	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Dashboard == nil {
		return errors.New("dashboard is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// Server is the HTTP surface of the dashboard.
type Server struct {
	log *slog.Logger
	cfg Config
	hub *hub
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		log: cfg.Logger,
		cfg: cfg,
		hub: newHub(cfg.Logger),
	}, nil
}

// BroadcastEvent pushes an ingested event to connected UI clients. Wire it
// as the dashboard's OnEvent callback.
func (s *Server) BroadcastEvent(ev telemetry.Event) {
	s.hub.BroadcastEvent(ev)
}

// Router builds the chi router for the API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/ws", s.hub.handle)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/topology", s.handleTopology)
		r.Get("/transactions", s.handleTransactions)
		r.Get("/transactions/{id}", s.handleTransaction)
		r.Get("/stats", s.handleStats)
		r.Get("/view", s.handleViewDecode)
		r.Post("/view", s.handleViewEncode)
	})

	return r
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "address", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.hub.close()
		return err
	case <-ctx.Done():
	}

	s.hub.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Dashboard.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for feed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type eventsResponse struct {
	Events []telemetry.Event `json:"events"`
	Total  int               `json:"total"`
	Center int64             `json:"center_ns"`
	Radius int64             `json:"radius_ns"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	center, err := parseInt64(q.Get("center"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid center")
		return
	}
	radius, err := parseInt64(q.Get("radius"))
	if err != nil || radius < 0 {
		writeError(w, http.StatusBadRequest, "invalid radius")
		return
	}
	limit, err := parseInt64(q.Get("limit"))
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	res := s.cfg.Dashboard.Events(dashboard.EventsQuery{
		Center: center,
		Radius: radius,
		Criteria: telemetry.Criteria{
			PeerID:     q.Get("peer"),
			TxID:       q.Get("tx"),
			ContractID: q.Get("contract"),
			Text:       q.Get("q"),
		},
		Limit: int(limit),
	})

	events := res.Events
	if events == nil {
		events = []telemetry.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events: events,
		Total:  res.Total,
		Center: center,
		Radius: radius,
	})
}

type topologyResponse struct {
	Peers       map[string]telemetry.Peer `json:"peers"`
	Connections []telemetry.Connection    `json:"connections"`
	TimeNs      int64                     `json:"time_ns"`
	Live        bool                      `json:"live"`
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	var at int64
	if ts := r.URL.Query().Get("time"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid time, want RFC3339")
			return
		}
		at = t.UnixNano()
	}

	snap := s.cfg.Dashboard.Topology(at)
	cursor, live := s.cfg.Dashboard.Cursor()
	if at != 0 {
		cursor, live = at, false
	}
	writeJSON(w, http.StatusOK, topologyResponse{
		Peers:       snap.Peers,
		Connections: snap.ConnectionList(),
		TimeNs:      cursor,
		Live:        live,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.cfg.Dashboard.Transactions()
	if txs == nil {
		txs = []telemetry.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, ok := s.cfg.Dashboard.Transaction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown transaction")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Dashboard.Summary())
}

func (s *Server) handleViewDecode(w http.ResponseWriter, r *http.Request) {
	state := s.cfg.Dashboard.DecodeViewState(r.URL.Query().Get("state"))
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleViewEncode(w http.ResponseWriter, r *http.Request) {
	var state telemetry.ViewState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, http.StatusBadRequest, "invalid view state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": telemetry.EncodeViewState(state)})
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
