package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/cluster"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/transport"
)

// Client-facing replies.
const (
	ReplyOK               = "OK"
	ReplyReplicated       = "OK replicated"
	ReplyAppended         = "OK appended"
	ReplyError            = "ERR"
	ReplyNotLeader        = "ERR not_leader"
	ReplyNoRaft           = "ERR no_raft"
	ReplyInvalidQuery     = "ERR invalid_query"
	ReplyUnknownQueryType = "ERR unknown_query_type"
)

const (
	verbHeartbeat = "HEARTBEAT"
	verbData      = "DATA"
	verbQuery     = "QUERY"
	prefixCmd     = "CMD "

	// nodeQueryLimit is how many readings QUERY NODE shows.
	nodeQueryLimit = 5
)

// Handler answers single protocol lines. Peer RPCs, sensor commands and
// queries all share one listener.
type Handler struct {
	svc    *cluster.Service
	logger *slog.Logger
}

// NewHandler returns a Handler backed by svc. A nil svc answers every
// command with ERR no_raft.
func NewHandler(svc *cluster.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Handle returns the reply for one line, without the trailing newline.
// Empty lines get no reply and ok is false.
func (h *Handler) Handle(ctx context.Context, line string) (reply string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", false
	}

	if transport.IsPeerMessage(line) {
		return h.handlePeer(ctx, line), true
	}

	switch transport.Verb(line) {
	case verbHeartbeat, verbData:
		return h.submit(line, ReplyReplicated), true
	case verbQuery:
		return h.query(line), true
	}

	if text, found := strings.CutPrefix(line, prefixCmd); found {
		return h.submit(text, ReplyAppended), true
	}
	return ReplyOK, true
}

func (h *Handler) handlePeer(ctx context.Context, line string) string {
	if h.svc == nil {
		return ReplyNoRaft
	}
	out, err := transport.Dispatch(ctx, h.svc.RPCHandler(), line)
	if err != nil {
		h.logger.Warn("bad peer message", "verb", transport.Verb(line), "err", err)
		return ReplyError
	}
	return out
}

func (h *Handler) submit(text, okReply string) string {
	if h.svc == nil {
		return ReplyNoRaft
	}
	idx, err := h.svc.Submit(text)
	switch {
	case errors.Is(err, raft.ErrNotLeader):
		return ReplyNotLeader
	case errors.Is(err, cluster.ErrEmptyCommand):
		return ReplyError
	case err != nil:
		h.logger.Error("submit failed", "err", err)
		return ReplyError
	}
	h.logger.Debug("command appended", "index", idx)
	return okReply
}

// --- Queries ---

func (h *Handler) query(line string) string {
	if h.svc == nil {
		return ReplyNoRaft
	}
	f := strings.Fields(line)
	if len(f) < 2 {
		return ReplyInvalidQuery
	}

	switch f[1] {
	case "STATS":
		return formatStats(h.svc.Stats())
	case "NODE":
		if len(f) < 3 {
			return ReplyInvalidQuery
		}
		id, err := strconv.Atoi(f[2])
		if err != nil {
			return ReplyInvalidQuery
		}
		return formatNode(h.svc.NodeReadings(id, nodeQueryLimit))
	case "STATUS":
		return formatStatus(h.svc.LogLength(), h.svc.IsLeader())
	default:
		return ReplyUnknownQueryType
	}
}

func formatStats(st cluster.Stats) string {
	var b strings.Builder
	b.WriteString("=== CLUSTER STATISTICS ===\n")
	fmt.Fprintf(&b, "Total Sensor Readings: %d\n", st.TotalReadings)
	fmt.Fprintf(&b, "Total Heartbeats: %d\n", st.TotalHeartbeats)
	b.WriteString("\nPer-Node Summary:\n")
	for _, n := range st.Nodes {
		fmt.Fprintf(&b, "  Node %d: %d readings, %d heartbeats\n", n.NodeID, n.Readings, n.Heartbeats)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatNode(nr cluster.NodeReadings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LAST %d READINGS FOR NODE %d\n", nodeQueryLimit, nr.NodeID)
	fmt.Fprintf(&b, "Total Readings: %d\n\n", nr.Total)
	for i, r := range nr.Readings {
		fmt.Fprintf(&b, "  [%d] Temperature=%d°C, Humidity=%d%%\n", i+1, r.Temperature, r.Humidity)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatStatus(logs int, leader bool) string {
	yes := "No"
	if leader {
		yes = "Yes"
	}
	return fmt.Sprintf("Logs=%d, Leader=%s", logs, yes)
}
