package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
)

// ErrNotLeader is returned when the server answered ERR not_leader.
var ErrNotLeader = errors.New("server is not the leader")

const notLeaderReply = "ERR not_leader"

// SimulatorConfig configures a simulated sensor node.
type SimulatorConfig struct {
	NodeID  int
	Servers []string // host:port, tried round-robin

	Interval         time.Duration // between cycles, default 2s
	DataDelay        time.Duration // between heartbeat and reading, default 100ms
	Timeout          time.Duration // dial and per-line I/O, default 5s
	ReconnectBackoff time.Duration // default 1s

	Rand   *rand.Rand
	Logger *slog.Logger
}

// Simulator plays one sensor: every cycle it sends a heartbeat and then a
// random reading to the server it believes is the leader, moving on to the
// next server whenever that one refuses or fails.
type Simulator struct {
	cfg    SimulatorConfig
	rand   *rand.Rand
	logger *slog.Logger

	current int
	conn    net.Conn
	reader  *bufio.Reader
	sent    int
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.NodeID <= 0 {
		return nil, fmt.Errorf("node id must be positive, got %d", cfg.NodeID)
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New("at least one server is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.DataDelay <= 0 {
		cfg.DataDelay = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = time.Second
	}
	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.NodeID)))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		cfg:    cfg,
		rand:   r,
		logger: logger.With("sensor", cfg.NodeID),
	}, nil
}

// Server returns the address the simulator is currently talking to.
func (s *Simulator) Server() string {
	return s.cfg.Servers[s.current]
}

// Sent returns how many readings the cluster has accepted.
func (s *Simulator) Sent() int {
	return s.sent
}

// Run cycles until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.disconnect()
	for {
		if err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Info("cycle failed, switching server", "next", s.Server(), "err", err)
			if !sleep(ctx, s.cfg.ReconnectBackoff) {
				return nil
			}
			continue
		}
		if !sleep(ctx, s.cfg.Interval) {
			return nil
		}
	}
}

// Cycle sends one heartbeat and one reading.
func (s *Simulator) Cycle(ctx context.Context) error {
	if err := s.send(ctx, command.Heartbeat(s.cfg.NodeID).Text); err != nil {
		return err
	}
	if !sleep(ctx, s.cfg.DataDelay) {
		return ctx.Err()
	}

	temp := 20 + s.rand.Intn(16)
	hum := 40 + s.rand.Intn(51)
	if err := s.send(ctx, command.SensorData(s.cfg.NodeID, temp, hum).Text); err != nil {
		return err
	}
	s.sent++
	if s.sent%5 == 0 {
		s.logger.Info("readings sent", "count", s.sent, "server", s.Server(), "temp", temp, "humidity", hum)
	}
	return nil
}

// send writes line and reads the one-line reply. Any failure, including a
// not_leader reply, drops the connection and advances to the next server.
func (s *Simulator) send(ctx context.Context, line string) error {
	if err := s.connect(ctx); err != nil {
		s.advance()
		return err
	}

	s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	if _, err := io.WriteString(s.conn, line+"\n"); err != nil {
		s.advance()
		return fmt.Errorf("write: %w", err)
	}
	reply, err := s.reader.ReadString('\n')
	if err != nil {
		s.advance()
		return fmt.Errorf("read: %w", err)
	}
	if strings.TrimSpace(reply) == notLeaderReply {
		s.advance()
		return ErrNotLeader
	}
	return nil
}

func (s *Simulator) connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.Server())
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.Server(), err)
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.logger.Info("connected", "server", s.Server())
	return nil
}

func (s *Simulator) advance() {
	s.disconnect()
	s.current = (s.current + 1) % len(s.cfg.Servers)
}

func (s *Simulator) disconnect() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.reader = nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
