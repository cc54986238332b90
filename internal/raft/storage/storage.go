package storage

import (
	"fmt"
	"sync"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
)

// LogEntry is a single entry in the Raft log. Its index is its 1-based
// position in the log.
type LogEntry struct {
	Term uint64          `json:"term"`
	Cmd  command.Command `json:"cmd"`
}

// LogStore holds the Raft log.
type LogStore interface {
	Len() int
	TermAt(index int) (uint64, error)
	LastTerm() uint64
	Entry(index int) (LogEntry, error)
	Append(entries ...LogEntry)
	TruncateFrom(index int) error
	ReplaceAll(entries []LogEntry)
	Slice(lo, hi int) ([]LogEntry, error)
}

// MemLogStore is an in-memory LogStore.
type MemLogStore struct {
	mu      sync.Mutex
	entries []LogEntry // entries[i] has index i+1
}

func NewMemLogStore() *MemLogStore {
	return &MemLogStore{}
}

func (s *MemLogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TermAt returns the term of the entry at index. Index 0 is the empty prefix
// and has term 0.
func (s *MemLogStore) TermAt(index int) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == 0 {
		return 0, nil
	}
	if index < 0 || index > len(s.entries) {
		return 0, fmt.Errorf("index %d out of range [1, %d]", index, len(s.entries))
	}
	return s.entries[index-1].Term, nil
}

// LastTerm returns the term of the last entry, or 0 for an empty log.
func (s *MemLogStore) LastTerm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0
	}
	return s.entries[len(s.entries)-1].Term
}

func (s *MemLogStore) Entry(index int) (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || index > len(s.entries) {
		return LogEntry{}, fmt.Errorf("index %d out of range [1, %d]", index, len(s.entries))
	}
	return s.entries[index-1], nil
}

func (s *MemLogStore) Append(entries ...LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

// TruncateFrom drops the entry at index and everything after it. Truncating
// at len+1 is a no-op.
func (s *MemLogStore) TruncateFrom(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 1 || index > len(s.entries)+1 {
		return fmt.Errorf("index %d out of range [1, %d]", index, len(s.entries)+1)
	}
	s.entries = s.entries[:index-1]
	return nil
}

// ReplaceAll discards the whole log and stores a copy of entries.
func (s *MemLogStore) ReplaceAll(entries []LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]LogEntry, len(entries))
	copy(s.entries, entries)
}

// Slice returns a copy of the entries with indexes in [lo, hi].
// An empty range (hi == lo-1) returns no entries.
func (s *MemLogStore) Slice(lo, hi int) ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo < 1 || hi > len(s.entries) || lo > hi+1 {
		return nil, fmt.Errorf("invalid range [%d, %d], log length %d", lo, hi, len(s.entries))
	}
	result := make([]LogEntry, hi-lo+1)
	copy(result, s.entries[lo-1:hi])
	return result, nil
}
