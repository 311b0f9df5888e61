package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_VersionTracksChanges(t *testing.T) {
	s := New()
	assert.Equal(t, int64(0), s.Version())

	changed, err := s.Add("T1", rec("C1"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(1), s.Version())

	changed, err = s.Add("T1", rec("C1"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int64(1), s.Version(), "no-op does not bump the version")

	before := s.Current()
	_, err = s.Remove("T1", "C1")
	require.NoError(t, err)
	assert.False(t, sameMap(before, s.Current()))
	assert.Equal(t, 1, before.CountFor("T1"), "published snapshots are immutable")
}

func TestStore_Replace(t *testing.T) {
	s := New()
	_, _ = s.Add("T1", rec("C1"))

	require.NoError(t, s.Replace(Index{"T2": {rec("C9")}}))
	assert.Equal(t, 0, s.Current().CountFor("T1"))
	assert.Equal(t, 1, s.Current().CountFor("T2"))

	require.NoError(t, s.Replace(nil))
	assert.Equal(t, 0, s.Current().Len())
}

func TestStore_Dispose(t *testing.T) {
	s := New()
	_, _ = s.Add("T1", rec("C1"))

	s.Dispose()
	s.Dispose()

	assert.True(t, s.Disposed())
	_, err := s.Add("T1", rec("C2"))
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Equal(t, 0, s.Current().Len())
}

func TestStore_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	_, _ = a.Add("T1", rec("C1"))

	assert.Equal(t, 1, a.Current().CountFor("T1"))
	assert.Equal(t, 0, b.Current().CountFor("T1"))
}
