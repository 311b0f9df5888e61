package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/pending"
)

func TestBuildSnapshot_CountsAliases(t *testing.T) {
	trainers := []model.Trainer{{ID: "T1", UserID: "U1"}, {ID: "T2"}}
	ix := pending.Index{
		"T1": {{Key: "C1"}, {Key: "C2"}},
		"U1": {{Key: "C2"}, {Key: "C3"}},
		"X9": {{Key: "C4"}},
	}

	s := buildSnapshot(3, true, trainers, ix)

	assert.Equal(t, int64(3), s.Version)
	assert.Equal(t, 3, s.CountFor("T1"), "C2 counted once across keys")
	assert.Equal(t, 0, s.CountFor("T2"))
	assert.Equal(t, 1, s.CountFor("X9"), "unknown keys keep their raw value")
	_, hasAlias := s.Counts["U1"]
	assert.False(t, hasAlias, "secondary keys fold into the primary")

	keys := make([]string, 0)
	for _, rec := range s.PendingFor("T1") {
		keys = append(keys, rec.Key)
	}
	assert.Equal(t, []string{"C1", "C2", "C3"}, keys)
}

func TestSnapshot_Trainer(t *testing.T) {
	s := buildSnapshot(1, true, []model.Trainer{{ID: "T1", Name: "Ada"}}, pending.Index{})

	got, ok := s.Trainer("T1")
	assert.True(t, ok)
	assert.Equal(t, "Ada", got.Name)

	_, ok = s.Trainer("T2")
	assert.False(t, ok)
}

func TestWatchers_CoalesceToNewest(t *testing.T) {
	w := newWatchers()
	ch := w.add(t.Context(), &Snapshot{Version: 1})

	w.publish(&Snapshot{Version: 2})
	w.publish(&Snapshot{Version: 3})

	got := <-ch
	assert.Equal(t, int64(3), got.Version)

	w.close()
	_, open := <-ch
	assert.False(t, open)
}
