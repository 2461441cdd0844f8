package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSetGet(t *testing.T) {
	s := NewStore()
	s.Set("x", Int(1))
	v, err := s.Get("x")
	require.NoError(t, err)
	require.Equal(t, Int(1), v)
}

func TestStoreGetAbsentErrors(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing")
	require.Error(t, err)
	require.Equal(t, KindUnresolvedVariable, AsError(err).Kind)
}

func TestStoreOverwrite(t *testing.T) {
	s := NewStore()
	s.Set("x", Int(1))
	s.Set("x", Int(2))
	v, err := s.Get("x")
	require.NoError(t, err)
	require.Equal(t, Int(2), v)
}

func TestStoreCloneIsIndependent(t *testing.T) {
	s := NewStore()
	s.Set("x", Int(1))
	c := s.Clone()
	s.Set("x", Int(2))
	v, err := c.Get("x")
	require.NoError(t, err)
	require.Equal(t, Int(1), v, "clone must not observe later writes to the original")
}

func TestValidName(t *testing.T) {
	require.True(t, ValidName("abc_123"))
	require.False(t, ValidName(""))
	require.False(t, ValidName("has space"))
	require.False(t, ValidName("has-dash"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.Set("a", Int(1))
	s.Set("b", String("x"))
	snap := s.Snapshot()
	restored := LoadSnapshot(snap)
	v, err := restored.Get("a")
	require.NoError(t, err)
	require.Equal(t, Int(1), v)
	v, err = restored.Get("b")
	require.NoError(t, err)
	require.Equal(t, String("x"), v)
}
