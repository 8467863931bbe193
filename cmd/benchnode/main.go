package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/cogbench/internal/bench"
	"github.com/DoyleJ11/cogbench/internal/config"
	"github.com/DoyleJ11/cogbench/internal/httpapi"
	"github.com/DoyleJ11/cogbench/internal/hub"
	"github.com/DoyleJ11/cogbench/internal/logging"
	"github.com/DoyleJ11/cogbench/internal/peer"
	"github.com/DoyleJ11/cogbench/internal/store"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	db, err := store.OpenBolt(cfg.StorePath())
	if err != nil {
		log.Fatal("open local store", zap.Error(err))
	}
	defer db.Close()

	var ids peer.IdentityProvider = db
	self, err := ids.LoadOrCreate(cfg.Name())
	if err != nil {
		log.Fatal("load identity", zap.Error(err))
	}

	sink, closeSink, err := openSink(cfg, db)
	if err != nil {
		log.Fatal("open sink", zap.String("sink", cfg.Sink), zap.Error(err))
	}
	defer closeSink()

	palette, err := cfg.ColorPalette()
	if err != nil {
		log.Fatal("palette", zap.Error(err))
	}

	log = log.With(zap.String("peer_id", string(self.ID)), zap.String("role", cfg.Role))
	log.Info("starting benchmark node",
		zap.String("name", self.DisplayName),
		zap.String("addr", cfg.Addr()),
		zap.String("sink", cfg.Sink),
		zap.Strings("benchmarks", cfg.Benchmarks),
		zap.Strings("palette", palette.Hexes()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := peer.NewSession(self, peer.NewMDNS(cfg.ServiceType, cfg.Domain, log), peer.Options{
		Port:          cfg.Port,
		InviteTimeout: cfg.InviteTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}, log)

	h := hub.NewHub(ctx, cfg.Benchmarks, bench.Deps{
		Role:    cfg.EngineRole(),
		Palette: palette,
		Sender:  sess,
		Sink:    sink,
		Clock:   clockwork.NewRealClock(),
		Log:     log,
	})
	sess.OnReceive(func(payload []byte, from peer.ID) {
		h.Deliver(payload, string(from))
	})
	sess.OnStateChange(func(id peer.ID, st peer.State) {
		log.Info("peer state changed", zap.String("peer", string(id)), zap.Stringer("state", st))
	})

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		log.Fatal("listen", zap.String("addr", cfg.Addr()), zap.Error(err))
	}
	srv := &http.Server{
		Handler:           httpapi.SetupRoutes(h, sess, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// links are hijacked connections; Shutdown does not wait for them
		return multierr.Combine(sess.Disconnect(), srv.Shutdown(shutdownCtx))
	})

	if cfg.AutoConnect {
		if err := sess.Connect(gctx); err != nil {
			log.Error("start session", zap.Error(err))
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("node stopped with error", zap.Error(err))
	}

	h.Inbox() <- hub.ShutdownHub{}
	<-h.Done()
	log.Info("benchmark node stopped")
}

// openSink picks the results sink. The returned close func is always safe
// to call.
func openSink(cfg config.Config, db *store.BoltStore) (store.Sink, func(), error) {
	noop := func() {}
	switch cfg.Sink {
	case config.SinkBolt:
		return db, noop, nil
	case config.SinkPostgres:
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case config.SinkMemory:
		return store.NewMemorySink(), noop, nil
	default:
		fs, err := store.NewFileSink(cfg.ResultsDir())
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	}
}
