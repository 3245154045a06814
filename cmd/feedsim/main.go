package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/feedsim"
	"github.com/kustomzone/freenet-telemetry-dashboard-sub000/pkg/logger"
)

const (
	defaultListenAddr    = "0.0.0.0:3021"
	defaultPeers         = 12
	defaultContracts     = 6
	defaultHistorySpan   = 15 * time.Minute
	defaultEventInterval = 250 * time.Millisecond
	defaultStateInterval = 10 * time.Second

	listenAddrEnvVar = "FEEDSIM_LISTEN_ADDR"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Websocket listen address (or set FEEDSIM_LISTEN_ADDR env var)")
	peersFlag := flag.Int("peers", defaultPeers, "Synthetic network size")
	contractsFlag := flag.Int("contracts", defaultContracts, "Synthetic contract count")
	historySpanFlag := flag.Duration("history-span", defaultHistorySpan, "Backfill span sent to new clients")
	eventIntervalFlag := flag.Duration("event-interval", defaultEventInterval, "Pacing of live events")
	stateIntervalFlag := flag.Duration("state-interval", defaultStateInterval, "Pacing of state snapshot refreshes")
	seedFlag := flag.Int64("seed", 0, "Random seed (0 = derive from clock)")

	flag.Parse()

	_ = godotenv.Load()

	if envListenAddr := os.Getenv(listenAddrEnvVar); envListenAddr != "" {
		*listenAddrFlag = envListenAddr
	}

	log := logger.New(*verboseFlag)

	log.Info("feedsim starting",
		"listen_addr", *listenAddrFlag,
		"peers", *peersFlag,
		"contracts", *contractsFlag,
		"history_span", historySpanFlag.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("feedsim: received signal", "signal", sig.String())
		cancel()
	}()

	clock := clockwork.NewRealClock()

	gen, err := feedsim.NewGenerator(feedsim.GeneratorConfig{
		Logger:      log,
		Clock:       clock,
		Peers:       *peersFlag,
		Contracts:   *contractsFlag,
		HistorySpan: *historySpanFlag,
		Seed:        *seedFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	srv, err := feedsim.NewServer(feedsim.ServerConfig{
		Logger:        log,
		Clock:         clock,
		Generator:     gen,
		ListenAddr:    *listenAddrFlag,
		EventInterval: *eventIntervalFlag,
		StateInterval: *stateIntervalFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create feed server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("feed server error: %w", err)
	}
	return nil
}
