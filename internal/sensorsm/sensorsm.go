package sensorsm

import (
	"sort"
	"sync"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/storage"
)

// SensorReading is one applied DATA command.
type SensorReading struct {
	NodeID      int    `json:"node_id"`
	Temperature int    `json:"temperature"`
	Humidity    int    `json:"humidity"`
	Term        uint64 `json:"term"`
}

// NodeSummary aggregates what the registry knows about one sensor node.
type NodeSummary struct {
	NodeID     int `json:"node_id"`
	Readings   int `json:"readings"`
	Heartbeats int `json:"heartbeats"`
}

// SensorStateMachine is the replicated sensor registry. It is only ever
// mutated by Apply, in log order.
type SensorStateMachine struct {
	mu         sync.Mutex
	readings   []SensorReading
	heartbeats map[int]int
}

// New creates an empty SensorStateMachine.
func New() *SensorStateMachine {
	return &SensorStateMachine{
		heartbeats: make(map[int]int),
	}
}

// Apply applies one committed log entry. Entries that carry no heartbeat or
// sensor data are ignored.
func (sm *SensorStateMachine) Apply(e storage.LogEntry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch e.Cmd.Kind {
	case command.KindHeartbeat:
		sm.heartbeats[e.Cmd.NodeID]++
	case command.KindSensorData:
		sm.readings = append(sm.readings, SensorReading{
			NodeID:      e.Cmd.NodeID,
			Temperature: e.Cmd.Temperature,
			Humidity:    e.Cmd.Humidity,
			Term:        e.Term,
		})
	}
}

// AllReadings returns every reading in application order.
func (sm *SensorStateMachine) AllReadings() []SensorReading {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SensorReading, len(sm.readings))
	copy(out, sm.readings)
	return out
}

// ReadingsByNode returns the readings of one sensor node in application order.
func (sm *SensorStateMachine) ReadingsByNode(id int) []SensorReading {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var out []SensorReading
	for _, r := range sm.readings {
		if r.NodeID == id {
			out = append(out, r)
		}
	}
	return out
}

// ReadingsPerNode counts readings by sensor node.
func (sm *SensorStateMachine) ReadingsPerNode() map[int]int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make(map[int]int)
	for _, r := range sm.readings {
		out[r.NodeID]++
	}
	return out
}

// HeartbeatsByNode returns a copy of the heartbeat counters.
func (sm *SensorStateMachine) HeartbeatsByNode() map[int]int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make(map[int]int, len(sm.heartbeats))
	for k, v := range sm.heartbeats {
		out[k] = v
	}
	return out
}

func (sm *SensorStateMachine) TotalReadings() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.readings)
}

func (sm *SensorStateMachine) TotalHeartbeats() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	total := 0
	for _, c := range sm.heartbeats {
		total += c
	}
	return total
}

// Summary returns one entry per sensor node that has readings or heartbeats,
// ordered by node id, taken from a single consistent view of the registry.
func (sm *SensorStateMachine) Summary() []NodeSummary {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	byNode := make(map[int]*NodeSummary)
	get := func(id int) *NodeSummary {
		s, ok := byNode[id]
		if !ok {
			s = &NodeSummary{NodeID: id}
			byNode[id] = s
		}
		return s
	}
	for _, r := range sm.readings {
		get(r.NodeID).Readings++
	}
	for id, c := range sm.heartbeats {
		get(id).Heartbeats = c
	}

	out := make([]NodeSummary, 0, len(byNode))
	for _, s := range byNode {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
