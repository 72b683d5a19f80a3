// Command canmaster runs one CANopen master process against a single CAN
// interface: it loads the EDS database, opens the bus, wires the node
// supervisor and SDO engine together, serves the REST admin interface, and
// drives the event loop until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/marel/canmaster/pkg/canerr"
	"github.com/marel/canmaster/pkg/eds"
	"github.com/marel/canmaster/pkg/master"
	"github.com/marel/canmaster/pkg/restapi"
	"github.com/marel/canmaster/pkg/supervisor"
	"github.com/marel/canmaster/pkg/transport"
)

const defaultEDSRoot = "/var/marel/canmaster/eds.d"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("canmaster", flag.ContinueOnError)
	workerThreads := fs.Int("worker-threads", 4, "number of SDO transfer workers")
	_ = fs.Int("worker-stack-size", 0, "unused on this runtime, accepted for CLI compatibility")
	jobQueueLength := fs.Int("job-queue-length", 256, "per-node SDO job FIFO capacity")
	_ = fs.Int("sdo-queue-length", 1024, "unused on this runtime, accepted for CLI compatibility")
	restPort := fs.Int("rest-port", 9191, "TCP port for the REST admin interface")
	strict := fs.Bool("strict", false, "disable node quirks such as ZeroGuardStatus")
	useTCP := fs.Bool("use-tcp", false, "treat the positional argument as a host:port TCP tunnel instead of a SocketCAN interface")
	rangeFlag := fs.String("range", "", "managed node-id interval A-B, default 1-127")
	heartbeatPeriodMs := fs.Int("heartbeat-period", 10000, "node-guarding poll period in milliseconds for nodes without heartbeat")
	heartbeatTimeoutMs := fs.Int("heartbeat-timeout", 1000, "heartbeat consumer timeout in milliseconds")
	ntimeoutsMax := fs.Int("ntimeouts-max", 0, "SDO, heartbeat, guard and EMCY timeouts tolerated before forcing Reset-Node")
	edsRoot := fs.String("eds-root", defaultEDSRoot, "directory scanned for .eds files")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: canmaster [flags] <interface|host:port>")
		return 1
	}
	channel := fs.Arg(0)

	rangeLo, rangeHi, err := parseRange(*rangeFlag)
	if err != nil {
		logger.Error("invalid --range", "error", err)
		return 1
	}

	db, err := eds.LoadAll(*edsRoot, logger)
	if err != nil {
		logger.Error("failed to load EDS database", "root", *edsRoot, "error", err)
		return 1
	}
	logger.Info("EDS database loaded", "records", db.Len(), "root", *edsRoot)

	transportName := "socketcan"
	if *useTCP {
		transportName = "tcp"
	}
	bus, err := transport.Open(transportName, channel)
	if err != nil {
		logger.Error("failed to open CAN transport", "transport", transportName, "channel", channel, "error", err)
		return 1
	}
	defer bus.Close()

	cfg := master.Config{
		Workers:        *workerThreads,
		WorkerQueueLen: *jobQueueLength,
		RangeLo:        rangeLo,
		RangeHi:        rangeHi,
		Supervisor: supervisor.Config{
			NTimeoutsMax:     uint32(*ntimeoutsMax),
			HeartbeatTimeout: time.Duration(*heartbeatTimeoutMs) * time.Millisecond,
			GuardPeriod:      time.Duration(*heartbeatPeriodMs) * time.Millisecond,
		},
	}
	_ = strict // quirks are opted into per-node via supervisor.Quirk; --strict's effect is to never set any

	m := master.New(bus, db, cfg, logger)

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(*restPort),
		Handler: restapi.New(m.Table(), m.Engine(), logger).Handler(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("REST admin interface failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			logger.Error("event loop terminated", "error", err)
			shutdownHTTP(httpServer, logger)
			return 1
		}
	}

	shutdownHTTP(httpServer, logger)
	return 0
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("REST admin interface shutdown error", "error", err)
	}
}

// parseRange parses "A-B" into (A, B), defaulting to the full [1,127]
// managed interval when s is empty.
func parseRange(s string) (uint8, uint8, error) {
	if s == "" {
		return 1, 127, nil
	}
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("range must be A-B, got %q: %w", s, canerr.ErrConfig)
	}
	a, err := strconv.ParseUint(lo, 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range lower bound %q: %w: %w", lo, canerr.ErrConfig, err)
	}
	b, err := strconv.ParseUint(hi, 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range upper bound %q: %w: %w", hi, canerr.ErrConfig, err)
	}
	if a < 1 || b > 127 || a > b {
		return 0, 0, fmt.Errorf("range %q out of bounds, must be within 1-127: %w", s, canerr.ErrConfig)
	}
	return uint8(a), uint8(b), nil
}
