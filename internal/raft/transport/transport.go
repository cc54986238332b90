package transport

import (
	"bufio"
	"context"
	"encoding"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultTimeout bounds one outbound peer call: dial, write and read.
const DefaultTimeout = time.Second

// --- Interfaces ---

// RPCHandler is implemented by the Raft node to handle incoming RPCs.
type RPCHandler interface {
	HandleRequestVote(ctx context.Context, req RequestVoteRequest) (RequestVoteResponse, error)
	HandleAppendEntries(ctx context.Context, req AppendEntriesRequest) (AppendEntriesResponse, error)
}

// Transport is the interface the Raft node uses to send RPCs. Peers are
// addressed by host:port.
type Transport interface {
	RequestVote(ctx context.Context, peer string, req RequestVoteRequest) (RequestVoteResponse, error)
	AppendEntries(ctx context.Context, peer string, req AppendEntriesRequest) (AppendEntriesResponse, error)
}

// --- TCPTransport (client) ---

// TCPTransport opens one connection per call, writes a single request line
// and reads a single response line.
type TCPTransport struct {
	timeout time.Duration
	dialer  net.Dialer
}

func NewTCPTransport(timeout time.Duration) *TCPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPTransport{timeout: timeout}
}

func (t *TCPTransport) RequestVote(ctx context.Context, peer string, req RequestVoteRequest) (RequestVoteResponse, error) {
	var resp RequestVoteResponse
	if err := t.call(ctx, peer, req, &resp); err != nil {
		return RequestVoteResponse{}, err
	}
	return resp, nil
}

func (t *TCPTransport) AppendEntries(ctx context.Context, peer string, req AppendEntriesRequest) (AppendEntriesResponse, error) {
	var resp AppendEntriesResponse
	if err := t.call(ctx, peer, req, &resp); err != nil {
		return AppendEntriesResponse{}, err
	}
	return resp, nil
}

func (t *TCPTransport) call(ctx context.Context, peer string, req encoding.TextMarshaler, resp encoding.TextUnmarshaler) error {
	line, err := req.MarshalText()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write to %s: %w", peer, err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read from %s: %w", peer, err)
	}
	return resp.UnmarshalText([]byte(strings.TrimSpace(reply)))
}

// --- Server side ---

// Dispatch decodes one peer request line, hands it to h and returns the
// encoded response line without a trailing newline.
func Dispatch(ctx context.Context, h RPCHandler, line string) (string, error) {
	var (
		resp encoding.TextMarshaler
		err  error
	)

	switch Verb(line) {
	case VerbRequestVote:
		var req RequestVoteRequest
		if err := req.UnmarshalText([]byte(line)); err != nil {
			return "", err
		}
		resp, err = h.HandleRequestVote(ctx, req)

	case VerbAppendEntries:
		var req AppendEntriesRequest
		if err := req.UnmarshalText([]byte(line)); err != nil {
			return "", err
		}
		resp, err = h.HandleAppendEntries(ctx, req)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMessage, Verb(line))
	}

	if err != nil {
		return "", err
	}
	out, err := resp.MarshalText()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
