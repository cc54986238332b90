package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// QueryTimeout bounds a whole query: dial, write and read.
const QueryTimeout = 2 * time.Second

// Query sends one line to addr and returns everything the server writes
// back before closing. The write side is half-closed after sending so the
// server ends the conversation once it has replied.
func Query(ctx context.Context, addr, line string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return "", fmt.Errorf("write to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	out, err := io.ReadAll(conn)
	if err != nil {
		return string(out), fmt.Errorf("read from %s: %w", addr, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// StatsQuery, StatusQuery and NodeQuery build the QUERY lines.
func StatsQuery() string  { return "QUERY STATS" }
func StatusQuery() string { return "QUERY STATUS" }
func NodeQuery(id int) string {
	return fmt.Sprintf("QUERY NODE %d", id)
}
