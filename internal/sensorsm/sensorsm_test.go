package sensorsm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/storage"
)

func apply(sm *SensorStateMachine, term uint64, text string) {
	sm.Apply(storage.LogEntry{Term: term, Cmd: command.Parse(text)})
}

func TestSensorSM_DataReading(t *testing.T) {
	sm := New()
	apply(sm, 2, "DATA node=7 temp=30 humidity=55")

	got := sm.ReadingsByNode(7)
	require.Equal(t, []SensorReading{{NodeID: 7, Temperature: 30, Humidity: 55, Term: 2}}, got)
	require.Equal(t, 1, sm.TotalReadings())
	require.Empty(t, sm.ReadingsByNode(8))
}

func TestSensorSM_HeartbeatAggregation(t *testing.T) {
	sm := New()
	for i := 0; i < 5; i++ {
		apply(sm, 1, "HEARTBEAT node=3")
	}
	apply(sm, 1, "HEARTBEAT node=4")

	hb := sm.HeartbeatsByNode()
	require.Equal(t, 5, hb[3])
	require.Equal(t, 1, hb[4])
	require.Equal(t, 6, sm.TotalHeartbeats())
	require.Equal(t, 0, sm.TotalReadings())
}

func TestSensorSM_MalformedIgnored(t *testing.T) {
	sm := New()
	apply(sm, 1, "DATA node=abc temp=bad")
	apply(sm, 1, "HEARTBEAT node=")
	apply(sm, 1, "hello world")

	require.Equal(t, 0, sm.TotalReadings())
	require.Equal(t, 0, sm.TotalHeartbeats())
	require.Empty(t, sm.Summary())
}

func TestSensorSM_ApplicationOrder(t *testing.T) {
	sm := New()
	apply(sm, 1, "DATA node=1 temp=20 humidity=40")
	apply(sm, 1, "DATA node=2 temp=21 humidity=41")
	apply(sm, 2, "DATA node=1 temp=22 humidity=42")

	all := sm.AllReadings()
	require.Len(t, all, 3)
	require.Equal(t, []int{20, 21, 22}, []int{all[0].Temperature, all[1].Temperature, all[2].Temperature})

	node1 := sm.ReadingsByNode(1)
	require.Len(t, node1, 2)
	require.Equal(t, 20, node1[0].Temperature)
	require.Equal(t, uint64(2), node1[1].Term)

	require.Equal(t, map[int]int{1: 2, 2: 1}, sm.ReadingsPerNode())
}

func TestSensorSM_SnapshotsAreCopies(t *testing.T) {
	sm := New()
	apply(sm, 1, "DATA node=1 temp=20 humidity=40")
	apply(sm, 1, "HEARTBEAT node=1")

	all := sm.AllReadings()
	all[0].Temperature = 99
	hb := sm.HeartbeatsByNode()
	hb[1] = 99

	require.Equal(t, 20, sm.AllReadings()[0].Temperature)
	require.Equal(t, 1, sm.HeartbeatsByNode()[1])
}

func TestSensorSM_Summary(t *testing.T) {
	sm := New()
	apply(sm, 1, "DATA node=2 temp=20 humidity=40")
	apply(sm, 1, "DATA node=2 temp=20 humidity=40")
	apply(sm, 1, "HEARTBEAT node=2")
	apply(sm, 1, "HEARTBEAT node=1")

	require.Equal(t, []NodeSummary{
		{NodeID: 1, Readings: 0, Heartbeats: 1},
		{NodeID: 2, Readings: 2, Heartbeats: 1},
	}, sm.Summary())
}

func TestSensorSM_ConcurrentReads(t *testing.T) {
	sm := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			apply(sm, 1, "DATA node=1 temp=20 humidity=40")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = sm.Summary()
			_ = sm.TotalReadings()
		}
	}()
	wg.Wait()
	require.Equal(t, 200, sm.TotalReadings())
}
