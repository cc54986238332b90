package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/cluster"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/config"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/httpapi"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/logging"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/storage"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/sensorsm"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/types"
)

const shutdownTimeout = 5 * time.Second

// Run wires together the server components and serves until SIGINT or
// SIGTERM.
func Run() error {
	cfg, err := ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Node.Listen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting node", "id", cfg.Node.ID, "listen", cfg.Node.Listen, "peers", cfg.Cluster.Peers)
	err = Serve(ctx, cfg, ln, logger)
	logger.Info("node stopped")
	return err
}

// Serve runs one node on ln until ctx is cancelled. It owns ln.
func Serve(ctx context.Context, cfg config.Config, ln net.Listener, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	sm := sensorsm.New()
	node, err := raft.NewNode(raft.Config{
		ID:    types.NodeID(cfg.Node.ID),
		Peers: cfg.Cluster.Peers,
		Timing: raft.TimingConfig{
			ElectionTimeoutMin: cfg.Raft.ElectionTimeoutMin,
			ElectionTimeoutMax: cfg.Raft.ElectionTimeoutMax,
			HeartbeatInterval:  cfg.Raft.HeartbeatInterval,
			ApplyInterval:      cfg.Raft.ApplyInterval,
		},
		CommitPolicy: types.CommitPolicy(cfg.Raft.CommitPolicy),
		Logger:       logger,
	}, storage.NewMemLogStore(), transport.NewTCPTransport(cfg.Raft.RPCTimeout), sm)
	if err != nil {
		ln.Close()
		return err
	}
	svc := cluster.New(node, sm)

	g, gctx := errgroup.WithContext(ctx)
	if err := node.Start(gctx); err != nil {
		ln.Close()
		return err
	}

	lis := NewListener(NewHandler(svc, logger), ListenerConfig{
		MaxConnections: cfg.Server.MaxConnections,
		IdleTimeout:    cfg.Server.IdleTimeout,
		Logger:         logger,
	})
	g.Go(func() error {
		return lis.Serve(gctx, ln)
	})

	if cfg.Node.HTTP != "" {
		srv := &http.Server{
			Addr:              cfg.Node.HTTP,
			Handler:           httpapi.New(svc, logger).Handler(),
			ReadHeaderTimeout: shutdownTimeout,
		}
		g.Go(func() error {
			logger.Info("admin API listening", "addr", cfg.Node.HTTP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return node.Stop(sctx)
	})

	return g.Wait()
}
