package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ListenerConfig bounds the TCP front end.
type ListenerConfig struct {
	MaxConnections int64
	IdleTimeout    time.Duration
	Logger         *slog.Logger
}

// Listener serves the line protocol. At most MaxConnections connections are
// handled at once; further clients wait in the accept backlog.
type Listener struct {
	handler *Handler
	sem     *semaphore.Weighted
	idle    time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewListener(h *Handler, cfg ListenerConfig) *Listener {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Listener{
		handler: h,
		sem:     semaphore.NewWeighted(cfg.MaxConnections),
		idle:    cfg.IdleTimeout,
		logger:  cfg.Logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled. On return the
// listener and every open connection are closed.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	shutdown := func() {
		ln.Close()
		l.closeAll()
	}
	stop := context.AfterFunc(ctx, shutdown)
	defer func() {
		stop()
		shutdown()
		l.wg.Wait()
	}()

	l.logger.Info("listening", "addr", ln.Addr().String())
	for {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			l.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !l.track(conn) {
			conn.Close()
			l.sem.Release(1)
			return nil
		}
		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	log := l.logger.With("conn", uuid.NewString(), "remote", conn.RemoteAddr().String())
	defer func() {
		l.untrack(conn)
		conn.Close()
		l.sem.Release(1)
		l.wg.Done()
		log.Debug("connection closed")
	}()
	log.Debug("connection opened")

	// bufio.Reader rather than Scanner: AppendEntries lines carry the whole
	// log and outgrow Scanner's token limit.
	r := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(l.idle))
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", "err", err)
			}
			return
		}

		reply, ok := l.handler.Handle(ctx, line)
		if !ok {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(l.idle))
		if _, err := io.WriteString(conn, reply+"\n"); err != nil {
			log.Debug("write failed", "err", err)
			return
		}
	}
}

// track registers conn. It reports false once shutdown has started.
func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, conn)
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		c.Close()
	}
	l.conns = nil
}
