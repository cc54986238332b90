package raft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/storage"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/types"
)

var ErrNotLeader = errors.New("not leader")

// TimingConfig holds configurable timing parameters for elections and heartbeats.
type TimingConfig struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	// TickInterval is how often a follower checks its election clock.
	TickInterval  time.Duration
	ApplyInterval time.Duration
}

// DefaultTimingConfig returns sensible defaults for production.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  100 * time.Millisecond,
		TickInterval:       10 * time.Millisecond,
		ApplyInterval:      20 * time.Millisecond,
	}
}

func (t TimingConfig) withDefaults() TimingConfig {
	d := DefaultTimingConfig()
	if t.ElectionTimeoutMin == 0 {
		t.ElectionTimeoutMin = d.ElectionTimeoutMin
	}
	if t.ElectionTimeoutMax == 0 {
		t.ElectionTimeoutMax = d.ElectionTimeoutMax
	}
	if t.HeartbeatInterval == 0 {
		t.HeartbeatInterval = d.HeartbeatInterval
	}
	if t.TickInterval == 0 {
		t.TickInterval = d.TickInterval
	}
	if t.ApplyInterval == 0 {
		t.ApplyInterval = d.ApplyInterval
	}
	return t
}

// Config holds configuration for a Raft node.
type Config struct {
	ID           types.NodeID
	Peers        []string // host:port of the other nodes (not including self)
	Timing       TimingConfig
	CommitPolicy types.CommitPolicy
	Rand         *rand.Rand // optional: for deterministic randomness in tests
	Logger       *slog.Logger
}

// StateMachine receives committed entries, one at a time, in log order.
type StateMachine interface {
	Apply(entry storage.LogEntry)
}

// Node is a Raft node.
type Node struct {
	cfg    Config
	log    storage.LogStore
	tp     transport.Transport
	sm     StateMachine
	logger *slog.Logger

	// mu guards every field below it. It is never held across a peer call
	// or a state machine Apply.
	mu              sync.Mutex
	role            types.Role
	currentTerm     uint64
	votedFor        types.NodeID
	leaderHint      types.LeaderHint
	commitIndex     int
	lastApplied     int
	lastContact     time.Time // election clock
	electionTimeout time.Duration
	electionStart   time.Time
	matchIndex      map[string]int
	metrics         types.ElectionMetrics
	rand            *rand.Rand

	applierCh chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewNode creates a new Raft node. tp may be nil for a single node cluster.
func NewNode(cfg Config, log storage.LogStore, tp transport.Transport, sm StateMachine) (*Node, error) {
	if cfg.ID == types.NoNode {
		return nil, fmt.Errorf("node id must be non-zero")
	}
	cfg.Timing = cfg.Timing.withDefaults()
	if cfg.Timing.ElectionTimeoutMin > cfg.Timing.ElectionTimeoutMax {
		return nil, fmt.Errorf("election timeout min %s exceeds max %s", cfg.Timing.ElectionTimeoutMin, cfg.Timing.ElectionTimeoutMax)
	}
	if cfg.CommitPolicy == "" {
		cfg.CommitPolicy = types.CommitImmediate
	}
	if !cfg.CommitPolicy.Valid() {
		return nil, fmt.Errorf("unknown commit policy %q", cfg.CommitPolicy)
	}

	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		cfg:         cfg,
		log:         log,
		tp:          tp,
		sm:          sm,
		logger:      logger.With("node", cfg.ID),
		role:        types.RoleFollower,
		matchIndex:  make(map[string]int),
		applierCh:   make(chan struct{}, 1),
		rand:        r,
		lastContact: time.Now(),
	}
	n.electionTimeout = n.randomElectionTimeout()
	return n, nil
}

// Start starts the election/heartbeat loop and the applier loop.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.lastContact = time.Now()
	n.mu.Unlock()

	n.wg.Add(2)
	go n.run()
	go n.applierLoop()
	n.logger.Info("raft node started", "peers", n.cfg.Peers, "commit_policy", n.cfg.CommitPolicy)
	return nil
}

// Stop shuts down the node and waits for its loops to exit.
func (n *Node) Stop(ctx context.Context) error {
	if n.cancel == nil {
		return nil
	}
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		n.logger.Info("raft node stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == types.RoleLeader
}

func (n *Node) LeaderHint() types.LeaderHint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderHint
}

// LogLength returns the number of entries in the log.
func (n *Node) LogLength() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log.Len()
}

func (n *Node) Status() types.NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return types.NodeStatus{
		ID:           n.cfg.ID,
		Role:         n.role,
		Term:         n.currentTerm,
		VotedFor:     n.votedFor,
		CommitIndex:  n.commitIndex,
		LastApplied:  n.lastApplied,
		LogLength:    n.log.Len(),
		CommitPolicy: n.cfg.CommitPolicy,
		LeaderHint:   n.leaderHint,
		Metrics:      n.metrics,
	}
}

// Submit appends cmd to the log. Only valid on the leader.
//
// With CommitImmediate the entry is committed as soon as it is appended,
// before any follower has stored it. With CommitMajority it is committed
// once a majority of the cluster holds it.
func (n *Node) Submit(cmd command.Command) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != types.RoleLeader {
		return 0, ErrNotLeader
	}

	n.log.Append(storage.LogEntry{Term: n.currentTerm, Cmd: cmd})
	idx := n.log.Len()

	switch n.cfg.CommitPolicy {
	case types.CommitMajority:
		n.advanceCommitIndexLocked()
	default:
		n.commitIndex = idx
	}
	n.signalApplier()
	return idx, nil
}

// WaitApplied blocks until the entry at index has been applied to the state
// machine or ctx is done.
func (n *Node) WaitApplied(ctx context.Context, index int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		n.mu.Lock()
		applied := n.lastApplied
		n.mu.Unlock()
		if applied >= index {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- Election / heartbeat loop ---

func (n *Node) randomElectionTimeout() time.Duration {
	lo := n.cfg.Timing.ElectionTimeoutMin
	spread := n.cfg.Timing.ElectionTimeoutMax - lo
	if spread <= 0 {
		return lo
	}
	return lo + time.Duration(n.rand.Int63n(int64(spread)+1))
}

func (n *Node) run() {
	defer n.wg.Done()
	for {
		if n.IsLeader() {
			n.broadcastAppendEntries()
			if !n.sleep(n.cfg.Timing.HeartbeatInterval) {
				return
			}
			continue
		}

		if !n.sleep(n.cfg.Timing.TickInterval) {
			return
		}
		if n.electionDue() {
			n.startElection()
		}
	}
}

// sleep waits for d and reports false if the node was stopped meanwhile.
func (n *Node) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-n.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (n *Node) electionDue() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role != types.RoleLeader && time.Since(n.lastContact) >= n.electionTimeout
}

func (n *Node) quorum() int {
	return (len(n.cfg.Peers)+1)/2 + 1
}

func (n *Node) startElection() {
	n.mu.Lock()
	now := time.Now()
	n.currentTerm++
	n.role = types.RoleCandidate
	n.votedFor = n.cfg.ID
	n.lastContact = now
	n.electionStart = now
	n.electionTimeout = n.randomElectionTimeout()
	n.metrics.ElectionsStarted++
	term := n.currentTerm

	req := transport.RequestVoteRequest{
		Term:         term,
		CandidateID:  n.cfg.ID,
		LastLogIndex: n.log.Len(),
		LastLogTerm:  n.log.LastTerm(),
	}

	peers := make([]string, len(n.cfg.Peers))
	copy(peers, n.cfg.Peers)

	votes := 1 // vote for self
	if votes >= n.quorum() {
		n.becomeLeaderLocked()
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	n.logger.Debug("starting election", "term", term)

	// Votes are requested one peer at a time.
	for _, p := range peers {
		if n.ctx.Err() != nil {
			return
		}
		resp, err := n.sendRequestVote(p, req)
		if err != nil {
			n.logger.Debug("request vote failed", "peer", p, "term", term, "err", err)
			continue
		}
		var pending bool
		votes, pending = n.tallyVote(term, resp, votes)
		if !pending {
			return
		}
	}
}

// tallyVote records one vote response. It reports false once the election
// for term is decided or abandoned.
func (n *Node) tallyVote(term uint64, resp transport.RequestVoteResponse, votes int) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.currentTerm {
		n.stepDownLocked(resp.Term)
		return votes, false
	}
	if n.role != types.RoleCandidate || n.currentTerm != term {
		return votes, false
	}
	if resp.Term == term && resp.VoteGranted {
		votes++
	}
	if votes >= n.quorum() {
		n.becomeLeaderLocked()
		return votes, false
	}
	return votes, true
}

func (n *Node) becomeLeaderLocked() {
	now := time.Now()
	n.role = types.RoleLeader
	n.leaderHint = types.LeaderHint{LeaderID: n.cfg.ID}
	n.lastContact = now
	n.metrics.ElectionsWon++
	n.metrics.LastElection = now.Sub(n.electionStart)
	for _, p := range n.cfg.Peers {
		n.matchIndex[p] = 0
	}
	n.logger.Info("became leader", "term", n.currentTerm, "election_time", n.metrics.LastElection)
}

// stepDownLocked adopts newTerm if it is higher and reverts to follower.
func (n *Node) stepDownLocked(newTerm uint64) {
	if newTerm > n.currentTerm {
		n.currentTerm = newTerm
		n.votedFor = types.NoNode
	}
	if n.role != types.RoleFollower {
		n.logger.Info("stepping down", "term", n.currentTerm, "from", n.role)
	}
	n.role = types.RoleFollower
}

// broadcastAppendEntries sends the whole log to every peer, one at a time.
// Followers replace their log with it.
func (n *Node) broadcastAppendEntries() {
	n.mu.Lock()
	if n.role != types.RoleLeader {
		n.mu.Unlock()
		return
	}
	term := n.currentTerm
	commitIndex := n.commitIndex
	entries, err := n.log.Slice(1, n.log.Len())
	if err != nil {
		n.mu.Unlock()
		n.logger.Error("read log for replication", "err", err)
		return
	}
	peers := make([]string, len(n.cfg.Peers))
	copy(peers, n.cfg.Peers)
	n.mu.Unlock()

	req := transport.AppendEntriesRequest{
		Term:         term,
		LeaderID:     n.cfg.ID,
		PrevLogIndex: transport.ReplaceLog,
		PrevLogTerm:  0,
		LeaderCommit: commitIndex,
		Entries:      entries,
	}

	for _, p := range peers {
		if n.ctx.Err() != nil {
			return
		}
		resp, err := n.sendAppendEntries(p, req)
		if err != nil {
			n.logger.Debug("append entries failed", "peer", p, "term", term, "err", err)
			continue
		}
		if !n.handleAppendResponse(p, term, len(entries), resp) {
			return
		}
	}
}

// handleAppendResponse reports false once this node is no longer leader for term.
func (n *Node) handleAppendResponse(peer string, term uint64, sent int, resp transport.AppendEntriesResponse) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.currentTerm {
		n.stepDownLocked(resp.Term)
		return false
	}
	if n.role != types.RoleLeader || n.currentTerm != term {
		return false
	}
	if resp.Success && sent > n.matchIndex[peer] {
		n.matchIndex[peer] = sent
		if n.cfg.CommitPolicy == types.CommitMajority {
			n.advanceCommitIndexLocked()
			n.signalApplier()
		}
	}
	return true
}

// advanceCommitIndexLocked moves commitIndex to the highest entry of the
// current term that a majority of the cluster holds.
func (n *Node) advanceCommitIndexLocked() {
	if n.role != types.RoleLeader {
		return
	}
	for idx := n.log.Len(); idx > n.commitIndex; idx-- {
		term, err := n.log.TermAt(idx)
		if err != nil || term != n.currentTerm {
			return
		}

		replicaCount := 1
		for _, peer := range n.cfg.Peers {
			if n.matchIndex[peer] >= idx {
				replicaCount++
			}
		}
		if replicaCount >= n.quorum() {
			n.commitIndex = idx
			return
		}
	}
}

func (n *Node) sendRequestVote(peer string, req transport.RequestVoteRequest) (transport.RequestVoteResponse, error) {
	if n.tp == nil {
		return transport.RequestVoteResponse{}, fmt.Errorf("no transport")
	}
	n.countMessage()
	return n.tp.RequestVote(n.ctx, peer, req)
}

func (n *Node) sendAppendEntries(peer string, req transport.AppendEntriesRequest) (transport.AppendEntriesResponse, error) {
	if n.tp == nil {
		return transport.AppendEntriesResponse{}, fmt.Errorf("no transport")
	}
	n.countMessage()
	return n.tp.AppendEntries(n.ctx, peer, req)
}

func (n *Node) countMessage() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.metrics.MessagesSent++
}

// --- RPC handlers ---

// HandleRequestVote handles an incoming RequestVote RPC.
func (n *Node) HandleRequestVote(ctx context.Context, req transport.RequestVoteRequest) (transport.RequestVoteResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term > n.currentTerm {
		n.stepDownLocked(req.Term)
	}

	if req.Term < n.currentTerm {
		return transport.RequestVoteResponse{Term: n.currentTerm, VoteGranted: false}, nil
	}

	canVote := n.votedFor == types.NoNode || n.votedFor == req.CandidateID

	lastIdx := n.log.Len()
	lastTerm := n.log.LastTerm()
	logOK := req.LastLogTerm > lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIdx)

	if canVote && logOK {
		n.votedFor = req.CandidateID
		n.lastContact = time.Now()
		n.logger.Debug("granted vote", "candidate", req.CandidateID, "term", n.currentTerm)
		return transport.RequestVoteResponse{Term: n.currentTerm, VoteGranted: true}, nil
	}

	return transport.RequestVoteResponse{Term: n.currentTerm, VoteGranted: false}, nil
}

// HandleAppendEntries handles an incoming AppendEntries RPC.
func (n *Node) HandleAppendEntries(ctx context.Context, req transport.AppendEntriesRequest) (transport.AppendEntriesResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return transport.AppendEntriesResponse{Term: n.currentTerm, Success: false}, nil
	}

	// Valid AppendEntries from the leader of this term or a newer one.
	n.stepDownLocked(req.Term)
	n.lastContact = time.Now()
	n.leaderHint = types.LeaderHint{LeaderID: req.LeaderID}

	if req.PrevLogIndex == transport.ReplaceLog {
		n.log.ReplaceAll(req.Entries)
	} else {
		if req.PrevLogIndex < 0 || req.PrevLogIndex > n.log.Len() {
			return transport.AppendEntriesResponse{Term: n.currentTerm, Success: false}, nil
		}
		prevTerm, err := n.log.TermAt(req.PrevLogIndex)
		if err != nil || prevTerm != req.PrevLogTerm {
			return transport.AppendEntriesResponse{Term: n.currentTerm, Success: false}, nil
		}
		if err := n.log.TruncateFrom(req.PrevLogIndex + 1); err != nil {
			return transport.AppendEntriesResponse{Term: n.currentTerm, Success: false}, nil
		}
		n.log.Append(req.Entries...)
	}

	lastIdx := n.log.Len()
	// A replacement can be shorter than what this node already committed
	// under early commit. commitIndex is clamped but lastApplied is not
	// rolled back, so entries later written at indices <= lastApplied are
	// never applied here.
	if n.commitIndex > lastIdx {
		n.logger.Warn("leader log is shorter than local commit index", "commit_index", n.commitIndex, "log_length", lastIdx)
		n.commitIndex = lastIdx
	}
	if req.LeaderCommit > n.commitIndex {
		n.commitIndex = min(req.LeaderCommit, lastIdx)
	}

	n.signalApplier()

	return transport.AppendEntriesResponse{Term: n.currentTerm, Success: true}, nil
}

// --- Applier ---

func (n *Node) signalApplier() {
	select {
	case n.applierCh <- struct{}{}:
	default:
	}
}

func (n *Node) applierLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.Timing.ApplyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		case <-n.applierCh:
		}
		n.applyCommitted()
	}
}

// applyCommitted applies entries one at a time with the node lock released
// during each Apply.
func (n *Node) applyCommitted() {
	for {
		entry, ok := n.nextToApply()
		if !ok {
			return
		}
		n.sm.Apply(entry)
	}
}

func (n *Node) nextToApply() (storage.LogEntry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lastApplied >= n.commitIndex || n.lastApplied >= n.log.Len() {
		return storage.LogEntry{}, false
	}
	entry, err := n.log.Entry(n.lastApplied + 1)
	if err != nil {
		return storage.LogEntry{}, false
	}
	n.lastApplied++
	return entry, true
}
