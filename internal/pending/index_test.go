package pending

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certsync/internal/model"
)

func rec(key string) model.CertificationRecord {
	return model.CertificationRecord{Key: key, Status: model.StatusPending}
}

// sameMap reports whether two indexes share the same underlying map.
func sameMap(a, b Index) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestAdd_InsertsAtFront(t *testing.T) {
	ix := Index{}
	ix, changed := ix.Add("T1", rec("C1"))
	require.True(t, changed)
	ix, changed = ix.Add("T1", rec("C2"))
	require.True(t, changed)

	require.Len(t, ix["T1"], 2)
	assert.Equal(t, "C2", ix["T1"][0].Key, "most recent first")
	assert.Equal(t, "C1", ix["T1"][1].Key)
	assert.Equal(t, "T1", ix["T1"][0].TrainerKey, "record is stamped with the store key")
}

func TestAdd_Idempotent(t *testing.T) {
	once, _ := Index{}.Add("T1", rec("C1"))
	twice, changed := once.Add("T1", rec("C1"))

	assert.False(t, changed)
	assert.True(t, sameMap(once, twice), "no-op returns the receiver")
	assert.Equal(t, 1, twice.CountFor("T1"))
}

func TestAdd_ReturnsNewMapAndSlice(t *testing.T) {
	before, _ := Index{}.Add("T1", rec("C1"))
	beforeSlice := before["T1"]

	after, changed := before.Add("T1", rec("C2"))
	require.True(t, changed)

	assert.False(t, sameMap(before, after), "top-level map must be new")
	assert.NotSame(t, &beforeSlice[0], &after["T1"][0], "affected slice must be new")
	assert.Len(t, before["T1"], 1, "receiver is untouched")
}

func TestRemove(t *testing.T) {
	ix, _ := Index{}.Add("T1", rec("C1"))
	ix, _ = ix.Add("T1", rec("C2"))

	ix, changed := ix.Remove("T1", "C1")
	require.True(t, changed)
	assert.Equal(t, 1, ix.CountFor("T1"))

	again, changed := ix.Remove("T1", "C1")
	assert.False(t, changed, "remove after remove is a no-op")
	assert.True(t, sameMap(ix, again))

	ix, _ = ix.Remove("T1", "C2")
	_, present := ix["T1"]
	assert.False(t, present, "trainer with no pending records is dropped")
}

func TestUpdate(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	level := "advanced"
	ix, _ := Index{}.Add("T1", model.CertificationRecord{Key: "C1", Name: "CPR", Status: model.StatusPending})

	ix, changed := ix.Update("T1", "C1", model.Patch{Level: &level}, now)
	require.True(t, changed)

	got, ok := ix.Get("T1", "C1")
	require.True(t, ok)
	assert.Equal(t, "advanced", got.Level)
	assert.Equal(t, "CPR", got.Name, "unpatched fields are kept")
	assert.Equal(t, now, got.UpdatedAt)

	_, changed = ix.Update("T1", "C404", model.Patch{Level: &level}, now)
	assert.False(t, changed, "update of an absent record is a no-op")
}

func TestCountFor_UnionsAliases(t *testing.T) {
	ix, _ := Index{}.Add("T1", rec("C1"))
	ix, _ = ix.Add("U1", rec("C1"))
	ix, _ = ix.Add("U1", rec("C2"))

	assert.Equal(t, 1, ix.CountFor("T1"))
	assert.Equal(t, 2, ix.CountFor("T1", "U1"), "C1 under both keys counts once")
	assert.Equal(t, 2, ix.CountFor("T1", "U1", "T1"))
	assert.Equal(t, 0, ix.CountFor("T404"))
}

func TestGroupByTrainer(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ix := GroupByTrainer([]model.CertificationRecord{
		{Key: "C1", TrainerKey: "T1", Status: model.StatusPending, CreatedAt: t0},
		{Key: "C2", TrainerKey: "T1", Status: model.StatusPending, CreatedAt: t0.Add(time.Hour)},
		{Key: "C3", TrainerKey: "T2"},
		{Key: "C1", TrainerKey: "T2", Status: model.StatusPending},
		{Key: "C4", TrainerKey: "T2", Status: model.StatusVerified},
		{Key: "C5", TrainerKey: ""},
	})

	assert.Equal(t, []string{"T1", "T2"}, ix.Keys())
	assert.Equal(t, "C2", ix["T1"][0].Key, "newest first")
	assert.Equal(t, 1, ix.CountFor("T2"), "duplicate and terminal records are skipped")
	assert.Equal(t, 3, ix.Len())
}
