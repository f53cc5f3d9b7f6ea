package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/orbitmesh/swim"
	"github.com/orbitmesh/swim/internal/api"
	"github.com/orbitmesh/swim/internal/config"
	"github.com/orbitmesh/swim/internal/hostdemo"
	"github.com/orbitmesh/swim/internal/metrics"
	"github.com/orbitmesh/swim/internal/store"
)

func init() {
	runCmd.Flags().Uint64Var(&runSelf, "self", 0, "this node's member ID (overrides the config file's [self])")
	runCmd.Flags().StringSliceVar(&runSeeds, "seed", nil, "address of a peer to join at startup (host:port); repeatable")
}

var (
	runSelf  uint64
	runSeeds []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this node's SWIM daemon",
	Long: `Run starts the UDP gossip transport, the incarnation store, and the
debug/admin HTTP API, then drives the SWIM tick loop until interrupted.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	self := swim.MemberID(cfg.Self)
	if runSelf != 0 {
		self = swim.MemberID(runSelf)
	}
	if self == swim.InvalidMember {
		return fmt.Errorf("a nonzero --self member ID (or [self] in %s) is required", configPath)
	}

	logger := log.New(os.Stderr, fmt.Sprintf("swimd[%d] ", self), log.LstdFlags)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	defer db.Close()

	rec := metrics.New(prometheus.DefaultRegisterer)

	memberStore, err := hostdemo.NewStore(self, db)
	if err != nil {
		return fmt.Errorf("new member store: %w", err)
	}

	swimCtx, err := swim.New(swim.Config{
		Self:           self,
		Ops:            memberStore,
		Period:         config.ParseDuration(cfg.Swim.Period, swim.DefaultPeriod),
		PingTimeout:    config.ParseDuration(cfg.Swim.PingTimeout, swim.DefaultPingTimeout),
		SuspectTimeout: config.ParseDuration(cfg.Swim.SuspectTimeout, swim.DefaultSuspectTimeout),
		SubgroupSize:   cfg.Swim.SubgroupSize,
		PiggybackTxMax: cfg.Swim.PiggybackTxMax,
		Metrics:        rec,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("new swim context: %w", err)
	}
	defer swimCtx.Close()

	transport, err := hostdemo.Attach(memberStore, swimCtx, cfg.Transport.BindAddr, logger)
	if err != nil {
		return fmt.Errorf("attach transport: %w", err)
	}
	defer transport.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := transport.Serve(ctx); err != nil {
			logger.Printf("transport exited: %v", err)
		}
	}()

	for _, addr := range append(cfg.Transport.Seeds, runSeeds...) {
		joinSeed(logger, memberStore, addr)
	}

	apiSrv := api.NewServer(memberStore)
	if cfg.API.EnableMetrics {
		apiSrv.EnableMetrics()
	}
	httpAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpSrv := &http.Server{Addr: httpAddr, Handler: apiSrv.Handler()}
	go func() {
		logger.Printf("debug API listening on %s", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("api server exited: %v", err)
		}
	}()

	logger.Printf("swim node %d listening on %s", self, transport.LocalAddr())

	period := config.ParseDuration(cfg.Swim.Period, swim.DefaultPeriod)
	err = runTickLoop(ctx, swimCtx, period)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)

	if err != nil {
		return fmt.Errorf("tick loop: %w", err)
	}
	return nil
}

// runTickLoop calls swimCtx.Progress back to back, each call bounded by
// period, until ctx is canceled. It does not sleep between calls, so an early
// ErrCanceled return is followed at once by the next call. ErrTimedOut and
// ErrCanceled are the engine's normal "nothing more to do this pass" signals,
// not failures; anything else aborts the daemon.
func runTickLoop(ctx context.Context, swimCtx *swim.Context, period time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		err := swimCtx.Progress(ctx, period)
		if err != nil && !errors.Is(err, swim.ErrTimedOut) && !errors.Is(err, swim.ErrCanceled) {
			return err
		}
	}
}

func joinSeed(logger *log.Logger, s *hostdemo.Store, addr string) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		logger.Printf("resolve seed %s: %v", addr, err)
		return
	}
	// The seed's member ID is unknown here; the seed is registered under
	// its own announced ID only when a request from it arrives. The
	// resolved address is logged and not stored, so the dping rotation
	// cannot reach the seed before that first contact.
	logger.Printf("seed %s resolved at %s, awaiting first contact", addr, udpAddr)
}
