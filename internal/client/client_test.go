package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/logging"
)

// fakeServer answers every line with reply and records what it received.
type fakeServer struct {
	addr  string
	reply string

	mu    sync.Mutex
	lines []string
}

func newFakeServer(t *testing.T, reply string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	fs := &fakeServer{addr: ln.Addr().String(), reply: reply}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fs.serve(conn)
		}
	}()
	return fs
}

func (fs *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.lines = append(fs.lines, strings.TrimSpace(line))
		fs.mu.Unlock()
		io.WriteString(conn, fs.reply+"\n")
	}
}

func (fs *fakeServer) received() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.lines...)
}

func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func newSim(t *testing.T, servers ...string) *Simulator {
	t.Helper()
	sim, err := NewSimulator(SimulatorConfig{
		NodeID:           3,
		Servers:          servers,
		DataDelay:        time.Millisecond,
		Interval:         10 * time.Millisecond,
		ReconnectBackoff: 10 * time.Millisecond,
		Timeout:          time.Second,
		Logger:           logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(sim.disconnect)
	return sim
}

func TestSimulator_CycleSendsHeartbeatThenReading(t *testing.T) {
	srv := newFakeServer(t, "OK replicated")
	sim := newSim(t, srv.addr)

	require.NoError(t, sim.Cycle(context.Background()))
	require.Equal(t, 1, sim.Sent())

	got := srv.received()
	require.Len(t, got, 2)
	require.Equal(t, "HEARTBEAT node=3", got[0])

	data := command.Parse(got[1])
	require.Equal(t, command.KindSensorData, data.Kind)
	require.Equal(t, 3, data.NodeID)
	require.GreaterOrEqual(t, data.Temperature, 20)
	require.LessOrEqual(t, data.Temperature, 35)
	require.GreaterOrEqual(t, data.Humidity, 40)
	require.LessOrEqual(t, data.Humidity, 90)
}

func TestSimulator_FailsOverOnNotLeader(t *testing.T) {
	follower := newFakeServer(t, "ERR not_leader")
	leader := newFakeServer(t, "OK replicated")
	sim := newSim(t, follower.addr, leader.addr)

	require.ErrorIs(t, sim.Cycle(context.Background()), ErrNotLeader)
	require.Equal(t, leader.addr, sim.Server())
	require.Equal(t, []string{"HEARTBEAT node=3"}, follower.received())

	require.NoError(t, sim.Cycle(context.Background()))
	require.Len(t, leader.received(), 2)
}

func TestSimulator_FailsOverOnDialError(t *testing.T) {
	leader := newFakeServer(t, "OK replicated")
	sim := newSim(t, deadAddr(t), leader.addr)

	require.Error(t, sim.Cycle(context.Background()))
	require.Equal(t, leader.addr, sim.Server())
	require.NoError(t, sim.Cycle(context.Background()))
}

func TestSimulator_RoundRobinWraps(t *testing.T) {
	a := newFakeServer(t, "ERR not_leader")
	b := newFakeServer(t, "ERR not_leader")
	sim := newSim(t, a.addr, b.addr)

	require.Error(t, sim.Cycle(context.Background()))
	require.Error(t, sim.Cycle(context.Background()))
	require.Equal(t, a.addr, sim.Server())
}

func TestSimulator_RunStopsOnCancel(t *testing.T) {
	srv := newFakeServer(t, "OK replicated")
	sim := newSim(t, srv.addr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	require.Eventually(t, func() bool { return len(srv.received()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}
}

func TestNewSimulator_Validation(t *testing.T) {
	_, err := NewSimulator(SimulatorConfig{NodeID: 0, Servers: []string{"a:1"}})
	require.Error(t, err)
	_, err = NewSimulator(SimulatorConfig{NodeID: 1})
	require.Error(t, err)
}

func TestQuery_ReadsUntilClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- strings.TrimSpace(line)
		io.WriteString(conn, "LAST 5 READINGS FOR NODE 2\nTotal Readings: 0\n\n")
	}()

	out, err := Query(context.Background(), ln.Addr().String(), NodeQuery(2))
	require.NoError(t, err)
	require.Equal(t, "QUERY NODE 2", <-got)
	require.Equal(t, "LAST 5 READINGS FOR NODE 2\nTotal Readings: 0", out)
}

func TestQuery_Unreachable(t *testing.T) {
	_, err := Query(context.Background(), deadAddr(t), StatsQuery())
	require.Error(t, err)
}

func TestQuery_TimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	start := time.Now()
	_, err = Query(context.Background(), ln.Addr().String(), StatusQuery())
	require.Error(t, err)
	require.Less(t, time.Since(start), QueryTimeout+time.Second)
}
