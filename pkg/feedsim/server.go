package feedsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/ingest"
)

// ServerConfig holds configuration for the feed server.
type ServerConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Generator *Generator

	ListenAddr string

	// EventInterval is the pacing of live events. Defaults to 250ms.
	EventInterval time.Duration

	// StateInterval is how often the state snapshot is re-sent.
	// Defaults to 10s.
	StateInterval time.Duration
}

func (cfg *ServerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = 250 * time.Millisecond
	}
	if cfg.StateInterval <= 0 {
		cfg.StateInterval = 10 * time.Second
	}
	return nil
}

// Server serves the synthetic telemetry stream over a websocket endpoint,
// speaking the same protocol the dashboard's feed client consumes.
type Server struct {
	log      *slog.Logger
	cfg      ServerConfig
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a feed server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		log: cfg.Logger,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.serveStream(ctx, w, r)
	})

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("feed server listening", "addr", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("failed to serve feed: %w", err)
	}
}

func (s *Server) serveStream(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade feed connection", "error", err)
		return
	}
	defer conn.Close()

	s.log.Info("feed client attached", "remote", r.RemoteAddr)

	gen := s.cfg.Generator
	if err := s.send(conn, ingest.TypeState, gen.State()); err != nil {
		return
	}
	if err := s.send(conn, ingest.TypeHistory, gen.History()); err != nil {
		return
	}

	eventTick := s.cfg.Clock.NewTicker(s.cfg.EventInterval)
	defer eventTick.Stop()
	stateTick := s.cfg.Clock.NewTicker(s.cfg.StateInterval)
	defer stateTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-eventTick.Chan():
			if err := s.send(conn, ingest.TypeEvent, gen.Next()); err != nil {
				s.log.Info("feed client detached", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-stateTick.Chan():
			if err := s.send(conn, ingest.TypeState, gen.State()); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, msgType string, payload any) error {
	data, err := json.Marshal(Envelope(msgType, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
