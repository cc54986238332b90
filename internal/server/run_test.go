package server

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/config"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/logging"
)

// send writes one line, half-closes and returns everything the server wrote.
func send(addr, line string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return "", err
	}
	conn.(*net.TCPConn).CloseWrite()
	out, err := io.ReadAll(conn)
	return strings.TrimRight(string(out), "\n"), err
}

type testNode struct {
	addr string
	done chan error
}

func startCluster(t *testing.T, size int) []testNode {
	t.Helper()
	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range listeners {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = ln
		addrs[i] = ln.Addr().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	nodes := make([]testNode, size)
	for i := range nodes {
		cfg := config.Default()
		cfg.Node.ID = i + 1
		cfg.Node.Listen = addrs[i]
		for j, a := range addrs {
			if j != i {
				cfg.Cluster.Peers = append(cfg.Cluster.Peers, a)
			}
		}
		require.NoError(t, cfg.Validate())

		nodes[i] = testNode{addr: addrs[i], done: make(chan error, 1)}
		go func(n testNode, ln net.Listener) {
			n.done <- Serve(ctx, cfg, ln, logging.Discard())
		}(nodes[i], listeners[i])
	}

	t.Cleanup(func() {
		cancel()
		for _, n := range nodes {
			select {
			case err := <-n.done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Errorf("node %s did not stop", n.addr)
			}
		}
	})
	return nodes
}

// currentLeader returns the index of the only node reporting leadership.
func currentLeader(nodes []testNode) (int, bool) {
	leader := -1
	for i, n := range nodes {
		out, err := send(n.addr, "QUERY STATUS")
		if err != nil {
			return -1, false
		}
		if strings.HasSuffix(out, "Leader=Yes") {
			if leader != -1 {
				return -1, false
			}
			leader = i
		}
	}
	return leader, leader != -1
}

func findLeader(t *testing.T, nodes []testNode) int {
	t.Helper()
	var leader int
	require.Eventually(t, func() bool {
		var ok bool
		leader, ok = currentLeader(nodes)
		return ok
	}, 5*time.Second, 50*time.Millisecond)
	return leader
}

// submitToLeader sends line once to the current leader. A not_leader reply
// means nothing was appended, so only that case is retried.
func submitToLeader(t *testing.T, nodes []testNode, line string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		i, ok := currentLeader(nodes)
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		out, err := send(nodes[i].addr, line)
		require.NoError(t, err)
		if out == ReplyNotLeader {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		require.Equal(t, ReplyReplicated, out)
		return
	}
	t.Fatalf("no leader accepted %q", line)
}

func TestServe_ThreeNodeReplication(t *testing.T) {
	nodes := startCluster(t, 3)
	start := time.Now()

	for _, n := range nodes {
		out, err := send(n.addr, "QUERY STATUS")
		require.NoError(t, err)
		require.Equal(t, "Logs=0, Leader=No", out)
	}

	// Default timing: a 150-300ms election timeout plus loopback vote RPCs.
	require.Eventually(t, func() bool {
		_, ok := currentLeader(nodes)
		return ok
	}, 700*time.Millisecond, 10*time.Millisecond, "no leader within the election bound")
	t.Logf("leader elected after %s", time.Since(start))

	leader := findLeader(t, nodes)
	follower := (leader + 1) % len(nodes)

	out, err := send(nodes[follower].addr, "HEARTBEAT node=1")
	require.NoError(t, err)
	require.Equal(t, ReplyNotLeader, out)

	submitToLeader(t, nodes, "HEARTBEAT node=1")

	for _, n := range nodes {
		require.Eventually(t, func() bool {
			out, err := send(n.addr, "QUERY STATS")
			return err == nil && strings.Contains(out, "Total Heartbeats: 1\n")
		}, 5*time.Second, 50*time.Millisecond, "node %s never applied the heartbeat", n.addr)
	}
}

func TestServe_DataRoundTrip(t *testing.T) {
	nodes := startCluster(t, 3)

	submitToLeader(t, nodes, "DATA node=7 temp=30 humidity=55")

	for _, n := range nodes {
		require.Eventually(t, func() bool {
			out, err := send(n.addr, "QUERY NODE 7")
			return err == nil && strings.Contains(out, "[1] Temperature=30°C, Humidity=55%")
		}, 5*time.Second, 50*time.Millisecond)
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := ParseFlags([]string{
		"-port", "6001",
		"-peers", "127.0.0.1:6002, 127.0.0.1:6003",
		"-commit-policy", "majority",
	}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, ":6001", cfg.Node.Listen)
	require.Equal(t, 6001, cfg.Node.ID)
	require.Equal(t, []string{"127.0.0.1:6002", "127.0.0.1:6003"}, cfg.Cluster.Peers)
	require.Equal(t, "majority", cfg.Raft.CommitPolicy)
}

func TestParseFlags_FileThenOverrides(t *testing.T) {
	cfg, err := ParseFlags([]string{
		"-config", "../config/testdata/node1.yaml",
		"-id", "9",
		"-log-level", "warn",
	}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Node.ID)
	require.Equal(t, "127.0.0.1:5001", cfg.Node.Listen)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "majority", cfg.Raft.CommitPolicy)
}

func TestParseFlags_Invalid(t *testing.T) {
	_, err := ParseFlags([]string{"-commit-policy", "sometimes"}, io.Discard)
	require.ErrorContains(t, err, "commit_policy")

	_, err = ParseFlags([]string{"-peers", "nohost"}, io.Discard)
	require.ErrorContains(t, err, "host:port")

	_, err = ParseFlags([]string{"extra"}, io.Discard)
	require.Error(t, err)
}
