package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/dashboard"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/ingest"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/logger"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/metrics"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/server"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/telemetry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr     = "0.0.0.0:3020"
	defaultMetricsAddr    = "0.0.0.0:0"
	defaultFeedURL        = "ws://127.0.0.1:3021/ws"
	defaultMaxEvents      = 200_000
	defaultTxCapacity     = 5000
	defaultActivityWindow = 5 * time.Minute
	defaultWindowRadius   = 1 * time.Minute
	defaultRedialInterval = 5 * time.Second

	feedURLEnvVar    = "DASHBOARD_FEED_URL"
	listenAddrEnvVar = "DASHBOARD_LISTEN_ADDR"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address (or set DASHBOARD_LISTEN_ADDR env var)")
	feedURLFlag := flag.String("feed-url", defaultFeedURL, "Upstream telemetry websocket URL (or set DASHBOARD_FEED_URL env var)")
	maxEventsFlag := flag.Int("max-events", defaultMaxEvents, "Maximum events retained in the log (0 = unbounded)")
	txCapacityFlag := flag.Int("tx-capacity", defaultTxCapacity, "Maximum tracked transactions")
	activityWindowFlag := flag.Duration("activity-window", defaultActivityWindow, "Historical peer activity window radius")
	windowRadiusFlag := flag.Duration("window-radius", defaultWindowRadius, "Default event query window radius")
	redialIntervalFlag := flag.Duration("redial-interval", defaultRedialInterval, "Pause between feed connection attempts")

	flag.Parse()

	// Load .env file. godotenv does not override existing env vars, so
	// process env and explicit exports take precedence.
	_ = godotenv.Load()

	// Override flags with environment variables if set
	if envFeedURL := os.Getenv(feedURLEnvVar); envFeedURL != "" {
		*feedURLFlag = envFeedURL
	}
	if envListenAddr := os.Getenv(listenAddrEnvVar); envListenAddr != "" {
		*listenAddrFlag = envListenAddr
	}

	log := logger.New(*verboseFlag)

	log.Info("dashboard starting",
		"version", version,
		"commit", commit,
		"feed_url", *feedURLFlag,
		"listen_addr", *listenAddrFlag,
		"max_events", *maxEventsFlag,
		"tx_capacity", *txCapacityFlag,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("dashboard: received signal", "signal", sig.String())
		cancel()
	}()

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	clock := clockwork.NewRealClock()

	srvRef := &serverRef{}
	dash, err := dashboard.New(dashboard.Config{
		Logger:              log,
		Clock:               clock,
		MaxEvents:           *maxEventsFlag,
		TxCapacity:          *txCapacityFlag,
		ActivityWindow:      *activityWindowFlag,
		DefaultWindowRadius: *windowRadiusFlag,
		OnEvent:             srvRef.broadcast,
	})
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		Dashboard:  dash,
		ListenAddr: *listenAddrFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	srvRef.srv = srv

	feed, err := ingest.NewFeed(ingest.FeedConfig{
		Logger:         log,
		Clock:          clock,
		Handler:        dash,
		URL:            *feedURLFlag,
		RedialInterval: *redialIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create feed: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	group.Go(func() error {
		return feed.Run(groupCtx)
	})

	groupErrCh := make(chan error, 1)
	go func() {
		groupErrCh <- group.Wait()
	}()

	select {
	case <-ctx.Done():
		log.Info("dashboard: shutting down", "reason", ctx.Err())
		return nil
	case err := <-groupErrCh:
		if err != nil {
			log.Error("dashboard: component error causing shutdown", "error", err)
		}
		return err
	case err := <-metricsServerErrCh:
		log.Error("dashboard: metrics server error causing shutdown", "error", err)
		return err
	}
}

// serverRef breaks the construction cycle between the dashboard's OnEvent
// hook and the server that consumes it.
type serverRef struct {
	srv *server.Server
}

func (r *serverRef) broadcast(ev telemetry.Event) {
	if r.srv != nil {
		r.srv.BroadcastEvent(ev)
	}
}
