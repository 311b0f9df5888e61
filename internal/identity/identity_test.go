package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/certsync/internal/model"
)

func trainers() []model.Trainer {
	return []model.Trainer{
		{ID: "T1", UserID: "U1"},
		{ID: "T2", UserID: "U2"},
		{ID: "U1", UserID: "U9"}, // primary key equal to another trainer's alias
	}
}

func TestResolve_PrimaryKey(t *testing.T) {
	got := Resolve("T1", trainers())
	assert.Equal(t, Result{Key: "T1", Resolved: true}, got)
}

func TestResolve_SecondaryKey(t *testing.T) {
	got := Resolve("U2", trainers())
	assert.Equal(t, Result{Key: "T2", Resolved: true, ViaAlias: true}, got)
}

func TestResolve_PrimaryWinsOverSecondary(t *testing.T) {
	got := Resolve("U1", trainers())
	assert.Equal(t, "U1", got.Key, "a direct primary key match must win")
	assert.False(t, got.ViaAlias)
}

func TestResolve_Unresolved(t *testing.T) {
	got := Resolve(" T404 ", trainers())
	assert.Equal(t, Result{Key: "T404"}, got, "unresolved identifiers come back trimmed and unchanged")

	got = Resolve("T1", nil)
	assert.False(t, got.Resolved, "nothing resolves before trainers are loaded")
	assert.Equal(t, "T1", got.Key)
}

func TestResolve_Empty(t *testing.T) {
	assert.Equal(t, Result{}, Resolve("   ", trainers()))
}

func TestResolve_NFC(t *testing.T) {
	list := []model.Trainer{{ID: "jos\u00e9"}}
	got := Resolve("jose\u0301", list)
	assert.True(t, got.Resolved)
	assert.Equal(t, "jos\u00e9", got.Key)
}

func TestIndexMatchesResolve(t *testing.T) {
	list := trainers()
	idx := NewIndex(list)

	for _, raw := range []string{"T1", "T2", "U1", "U2", "U9", "nobody", "", " T2 "} {
		assert.Equal(t, Resolve(raw, list), idx.Resolve(raw), "raw=%q", raw)
	}
	assert.True(t, idx.Known("T2"))
	assert.False(t, idx.Known("U2"))
	assert.Equal(t, 3, idx.Len())
}

func TestAliases(t *testing.T) {
	assert.Equal(t, []string{"U1"}, Aliases("T1", trainers()))
	assert.Nil(t, Aliases("T404", trainers()))
	assert.Nil(t, Aliases("T1", []model.Trainer{{ID: "T1", UserID: "T1"}}))
}
