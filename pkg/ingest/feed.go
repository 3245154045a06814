package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
)

// Handler consumes parsed feed messages. Implemented by the dashboard state
// object.
type Handler interface {
	HandleState(m *StateMessage)
	HandleHistory(m *HistoryMessage)
	HandleEvent(m *EventMessage)
}

// FeedConfig holds configuration for the Feed.
type FeedConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Handler Handler

	// URL is the upstream telemetry websocket endpoint.
	URL string

	// RedialInterval is the pause between connection attempts. Defaults to
	// 5 seconds. Transport backoff policy beyond this flat pacing is out of
	// scope for the core.
	RedialInterval time.Duration

	// Dialer lets tests substitute the websocket dialer. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (cfg *FeedConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Handler == nil {
		return errors.New("handler is required")
	}
	if cfg.URL == "" {
		return errors.New("feed url is required")
	}
	if cfg.RedialInterval < 0 {
		return errors.New("redial interval must not be negative")
	}
	if cfg.RedialInterval == 0 {
		cfg.RedialInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return nil
}

// Feed reads the upstream telemetry stream and dispatches each parsed
// message to the handler. Malformed messages are dropped with a diagnostic
// and counted; they never tear the connection down.
type Feed struct {
	log *slog.Logger
	cfg FeedConfig
}

// NewFeed creates a Feed.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Feed{log: cfg.Logger, cfg: cfg}, nil
}

// Run connects and consumes the feed until the context is cancelled,
// redialing on connection loss.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := f.consume(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			f.log.Warn("feed: connection lost", "url", f.cfg.URL, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.cfg.Clock.After(f.cfg.RedialInterval):
		}
	}
}

// consume dials once and reads messages until the connection drops or the
// context is cancelled.
func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := f.cfg.Dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close()
	f.log.Info("feed: connected", "url", f.cfg.URL)

	// Close the connection when the context is cancelled so the blocking
	// read below returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read feed message: %w", err)
		}
		f.dispatch(data)
	}
}

func (f *Feed) dispatch(data []byte) {
	msg, err := Parse(data)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues(dropReason(data)).Inc()
		f.log.Warn("feed: dropping invalid message", "error", err)
		return
	}

	switch m := msg.(type) {
	case *StateMessage:
		f.cfg.Handler.HandleState(m)
	case *HistoryMessage:
		f.cfg.Handler.HandleHistory(m)
	case *EventMessage:
		f.cfg.Handler.HandleEvent(m)
	}
}

func dropReason(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "malformed"
	}
	switch env.Type {
	case TypeState, TypeHistory, TypeEvent:
		return "invalid_" + env.Type
	default:
		return "unknown_type"
	}
}
