package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/raft/storage"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/types"
)

// Message verbs of the peer protocol.
const (
	VerbRequestVote          = "ReqVote"
	VerbRequestVoteResp      = "ReqVote_RESP"
	VerbAppendEntries        = "AppendEntries"
	VerbAppendEntriesResp    = "AppendEntries_RESP"
	ReplaceLog               = -1 // PrevLogIndex value asking the follower to replace its whole log
	spacePlaceholder         = "~"
	placeholderRune          = '~'
	entrySeparator           = "|"
	appendEntriesHeaderCount = 7
)

var (
	ErrMalformed      = errors.New("malformed peer message")
	ErrUnknownMessage = errors.New("unknown peer message")
)

// Commands are written with every whitespace rune replaced so that each
// entry stays a single strings.Fields token. The receiver turns
// placeholders back into spaces.
var unescapeCommand = strings.NewReplacer(spacePlaceholder, " ")

func escapeCommand(cmd string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return placeholderRune
		}
		return r
	}, cmd)
}

// --- RPC DTOs ---

type RequestVoteRequest struct {
	Term         uint64
	CandidateID  types.NodeID
	LastLogIndex int
	LastLogTerm  uint64
}

type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     types.NodeID
	PrevLogIndex int
	PrevLogTerm  uint64
	LeaderCommit int
	Entries      []storage.LogEntry
}

type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

// --- Encoding ---

func (r RequestVoteRequest) MarshalText() ([]byte, error) {
	return fmt.Appendf(nil, "%s %d %d %d %d", VerbRequestVote, r.Term, r.CandidateID, r.LastLogIndex, r.LastLogTerm), nil
}

func (r RequestVoteResponse) MarshalText() ([]byte, error) {
	return fmt.Appendf(nil, "%s %d %d", VerbRequestVoteResp, r.Term, boolFlag(r.VoteGranted)), nil
}

func (r AppendEntriesRequest) MarshalText() ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %d %d %d %d %d", VerbAppendEntries,
		r.Term, r.LeaderID, r.PrevLogIndex, r.PrevLogTerm, r.LeaderCommit, len(r.Entries))
	for _, e := range r.Entries {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(e.Term, 10))
		b.WriteString(entrySeparator)
		b.WriteString(escapeCommand(e.Cmd.Text))
	}
	return []byte(b.String()), nil
}

func (r AppendEntriesResponse) MarshalText() ([]byte, error) {
	return fmt.Appendf(nil, "%s %d %d", VerbAppendEntriesResp, r.Term, boolFlag(r.Success)), nil
}

// --- Decoding ---

func (r *RequestVoteRequest) UnmarshalText(text []byte) error {
	f, err := fieldsFor(text, VerbRequestVote, 5)
	if err != nil {
		return err
	}
	var p parser
	r.Term = p.parseUint(f[1])
	r.CandidateID = types.NodeID(p.parseInt(f[2]))
	r.LastLogIndex = p.parseInt(f[3])
	r.LastLogTerm = p.parseUint(f[4])
	return p.err
}

func (r *RequestVoteResponse) UnmarshalText(text []byte) error {
	f, err := fieldsFor(text, VerbRequestVoteResp, 3)
	if err != nil {
		return err
	}
	var p parser
	r.Term = p.parseUint(f[1])
	r.VoteGranted = p.parseFlag(f[2])
	return p.err
}

func (r *AppendEntriesRequest) UnmarshalText(text []byte) error {
	f := strings.Fields(string(text))
	if len(f) < appendEntriesHeaderCount || f[0] != VerbAppendEntries {
		return fmt.Errorf("%w: %q", ErrMalformed, truncate(text))
	}
	var p parser
	r.Term = p.parseUint(f[1])
	r.LeaderID = types.NodeID(p.parseInt(f[2]))
	r.PrevLogIndex = p.parseInt(f[3])
	r.PrevLogTerm = p.parseUint(f[4])
	r.LeaderCommit = p.parseInt(f[5])
	count := p.parseInt(f[6])
	if p.err != nil {
		return p.err
	}
	if count < 0 || len(f) != appendEntriesHeaderCount+count {
		return fmt.Errorf("%w: entry count %d does not match %d tokens", ErrMalformed, count, len(f)-appendEntriesHeaderCount)
	}

	r.Entries = make([]storage.LogEntry, 0, count)
	for _, tok := range f[appendEntriesHeaderCount:] {
		termStr, cmd, ok := strings.Cut(tok, entrySeparator)
		if !ok {
			return fmt.Errorf("%w: entry %q has no separator", ErrMalformed, tok)
		}
		term := p.parseUint(termStr)
		if p.err != nil {
			return p.err
		}
		r.Entries = append(r.Entries, storage.LogEntry{
			Term: term,
			Cmd:  command.Parse(unescapeCommand.Replace(cmd)),
		})
	}
	return nil
}

func (r *AppendEntriesResponse) UnmarshalText(text []byte) error {
	f, err := fieldsFor(text, VerbAppendEntriesResp, 3)
	if err != nil {
		return err
	}
	var p parser
	r.Term = p.parseUint(f[1])
	r.Success = p.parseFlag(f[2])
	return p.err
}

// Verb returns the first token of a line.
func Verb(line string) string {
	f := strings.Fields(line)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// IsPeerMessage reports whether line is a peer RPC request.
func IsPeerMessage(line string) bool {
	switch Verb(line) {
	case VerbRequestVote, VerbAppendEntries:
		return true
	}
	return false
}

func fieldsFor(text []byte, verb string, n int) ([]string, error) {
	f := strings.Fields(string(text))
	if len(f) != n || f[0] != verb {
		return nil, fmt.Errorf("%w: want %s with %d tokens, got %q", ErrMalformed, verb, n, truncate(text))
	}
	return f, nil
}

// parser keeps the first conversion error so decoders can read every field
// and check once.
type parser struct {
	err error
}

func (p *parser) parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v
}

func (p *parser) parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v
}

func (p *parser) parseFlag(s string) bool {
	switch s {
	case "1":
		return true
	case "0":
		return false
	}
	if p.err == nil {
		p.err = fmt.Errorf("%w: flag %q", ErrMalformed, s)
	}
	return false
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncate(text []byte) string {
	const limit = 64
	if len(text) > limit {
		return string(text[:limit]) + "..."
	}
	return string(text)
}
