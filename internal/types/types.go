package types

import "time"

// NodeID identifies a node in the cluster. It travels on the wire as a
// decimal integer.
type NodeID int

// NoNode is the zero value used when no vote has been cast or no leader is known.
const NoNode NodeID = 0

// Role is the election role of a node.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// MarshalText lets roles render as strings in JSON.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// CommitPolicy controls when a leader considers a submitted entry committed.
type CommitPolicy string

const (
	// CommitImmediate commits on local append, before any peer acknowledges.
	CommitImmediate CommitPolicy = "immediate"
	// CommitMajority commits once a majority holds the entry.
	CommitMajority CommitPolicy = "majority"
)

func (p CommitPolicy) Valid() bool {
	return p == CommitImmediate || p == CommitMajority
}

// LeaderHint tells clients where the leader is.
type LeaderHint struct {
	LeaderID NodeID `json:"leader_id,omitempty"`
}

// ElectionMetrics counts election and RPC activity on a node.
type ElectionMetrics struct {
	ElectionsStarted uint64        `json:"elections_started"`
	ElectionsWon     uint64        `json:"elections_won"`
	MessagesSent     uint64        `json:"messages_sent"`
	LastElection     time.Duration `json:"last_election_ns"`
}

// NodeStatus holds status info about a Raft node.
type NodeStatus struct {
	ID           NodeID          `json:"id"`
	Role         Role            `json:"role"`
	Term         uint64          `json:"term"`
	VotedFor     NodeID          `json:"voted_for,omitempty"`
	CommitIndex  int             `json:"commit_index"`
	LastApplied  int             `json:"last_applied"`
	LogLength    int             `json:"log_length"`
	CommitPolicy CommitPolicy    `json:"commit_policy"`
	LeaderHint   LeaderHint      `json:"leader_hint"`
	Metrics      ElectionMetrics `json:"metrics"`
}
