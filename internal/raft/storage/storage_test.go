package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/command"
)

func entry(term uint64, text string) LogEntry {
	return LogEntry{Term: term, Cmd: command.Parse(text)}
}

func TestMemLogStore_AppendSliceTermAt(t *testing.T) {
	s := NewMemLogStore()
	require.Equal(t, 0, s.Len())
	require.Equal(t, uint64(0), s.LastTerm())

	term, err := s.TermAt(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), term)

	s.Append(entry(1, "a"), entry(1, "b"), entry(2, "c"))
	require.Equal(t, 3, s.Len())
	require.Equal(t, uint64(2), s.LastTerm())

	term, err = s.TermAt(2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), term)

	_, err = s.TermAt(4)
	require.Error(t, err)

	got, err := s.Slice(1, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].Cmd.Text)
	require.Equal(t, "c", got[2].Cmd.Text)

	got, err = s.Slice(2, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].Cmd.Text)

	got, err = s.Slice(4, 3)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = s.Slice(0, 2)
	require.Error(t, err)
	_, err = s.Slice(2, 4)
	require.Error(t, err)
}

func TestMemLogStore_SliceReturnsCopy(t *testing.T) {
	s := NewMemLogStore()
	s.Append(entry(1, "a"))

	got, err := s.Slice(1, 1)
	require.NoError(t, err)
	got[0].Term = 99

	term, err := s.TermAt(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), term)
}

func TestMemLogStore_TruncateFrom(t *testing.T) {
	s := NewMemLogStore()
	s.Append(entry(1, "a"), entry(1, "b"), entry(2, "c"))

	require.NoError(t, s.TruncateFrom(4))
	require.Equal(t, 3, s.Len())

	require.NoError(t, s.TruncateFrom(2))
	require.Equal(t, 1, s.Len())

	e, err := s.Entry(1)
	require.NoError(t, err)
	require.Equal(t, "a", e.Cmd.Text)

	require.Error(t, s.TruncateFrom(0))
	require.Error(t, s.TruncateFrom(3))
}

func TestMemLogStore_ReplaceAll(t *testing.T) {
	s := NewMemLogStore()
	s.Append(entry(1, "a"), entry(1, "b"), entry(1, "c"))

	replacement := []LogEntry{entry(3, "x"), entry(4, "y")}
	s.ReplaceAll(replacement)
	replacement[0].Term = 100

	got, err := s.Slice(1, s.Len())
	require.NoError(t, err)
	require.Equal(t, []LogEntry{entry(3, "x"), entry(4, "y")}, got)

	s.ReplaceAll(nil)
	require.Equal(t, 0, s.Len())
}
