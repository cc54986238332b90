package cluster

import (
	"context"
	"errors"
	"strings"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/sensorsm"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/types"
)

// ErrEmptyCommand is returned when a submitted command has no text.
var ErrEmptyCommand = errors.New("empty command")

// RaftNode is the subset of raft.Node that Service needs.
type RaftNode interface {
	transport.RPCHandler
	Submit(cmd command.Command) (int, error)
	IsLeader() bool
	LeaderHint() types.LeaderHint
	Status() types.NodeStatus
	LogLength() int
	WaitApplied(ctx context.Context, index int) error
}

// Stats is a consistent snapshot of the sensor registry.
type Stats struct {
	TotalReadings   int                    `json:"total_readings"`
	TotalHeartbeats int                    `json:"total_heartbeats"`
	Nodes           []sensorsm.NodeSummary `json:"nodes"`
}

// NodeReadings holds the most recent readings of one sensor node.
type NodeReadings struct {
	NodeID   int                      `json:"node_id"`
	Total    int                      `json:"total"`
	Readings []sensorsm.SensorReading `json:"readings"`
}

// Service wraps Raft + the sensor state machine into a single API for the
// TCP and HTTP front ends.
type Service struct {
	node RaftNode
	sm   *sensorsm.SensorStateMachine
}

// New creates a new Service.
func New(node RaftNode, sm *sensorsm.SensorStateMachine) *Service {
	return &Service{node: node, sm: sm}
}

func (s *Service) IsLeader() bool {
	return s.node.IsLeader()
}

func (s *Service) LeaderHint() types.LeaderHint {
	return s.node.LeaderHint()
}

func (s *Service) Status() types.NodeStatus {
	return s.node.Status()
}

func (s *Service) LogLength() int {
	return s.node.LogLength()
}

// RPCHandler returns the handler for inbound peer messages.
func (s *Service) RPCHandler() transport.RPCHandler {
	return s.node
}

// --- Writes ---

// Submit parses text and appends it, unchanged, to the replicated log. It
// returns the log index of the new entry, or raft.ErrNotLeader on a
// non-leader.
func (s *Service) Submit(text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyCommand
	}
	return s.node.Submit(command.Parse(text))
}

// SubmitAndWait submits text and blocks until the entry is applied locally.
func (s *Service) SubmitAndWait(ctx context.Context, text string) (int, error) {
	idx, err := s.Submit(text)
	if err != nil {
		return 0, err
	}
	if err := s.node.WaitApplied(ctx, idx); err != nil {
		return idx, err
	}
	return idx, nil
}

// --- Reads (local, possibly stale on followers) ---

// Stats derives every total from one summary so the numbers always agree.
func (s *Service) Stats() Stats {
	nodes := s.sm.Summary()
	st := Stats{Nodes: nodes}
	for _, n := range nodes {
		st.TotalReadings += n.Readings
		st.TotalHeartbeats += n.Heartbeats
	}
	return st
}

// NodeReadings returns at most limit of the latest readings for node, oldest
// first. A limit of zero or less returns all of them.
func (s *Service) NodeReadings(node, limit int) NodeReadings {
	all := s.sm.ReadingsByNode(node)
	out := NodeReadings{NodeID: node, Total: len(all), Readings: all}
	if limit > 0 && len(all) > limit {
		out.Readings = all[len(all)-limit:]
	}
	return out
}
