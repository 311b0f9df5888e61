package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintWindow_Evicts(t *testing.T) {
	w := newFingerprintWindow(2)

	w.Add("C1", "a", false)
	w.Add("C1", "b", false)
	assert.True(t, w.Contains("a"))

	w.Add("C2", "c", false)
	assert.False(t, w.Contains("a"), "oldest entry evicted")
	assert.True(t, w.Contains("b"))
	assert.True(t, w.Contains("c"))
	assert.Equal(t, 2, w.Len())
}

func TestFingerprintWindow_AddExisting(t *testing.T) {
	w := newFingerprintWindow(2)

	w.Add("C1", "a", false)
	w.Add("C1", "a", false)
	w.Add("C1", "b", false)

	assert.True(t, w.Contains("a"), "re-adding does not consume a slot")
	assert.Equal(t, 2, w.Len())
}

func TestFingerprintWindow_Forget(t *testing.T) {
	w := newFingerprintWindow(4)

	w.Add("C1", "created", false)
	w.Add("C1", "verified", false)
	w.Add("C2", "other", false)

	w.Forget("C1")
	assert.False(t, w.Contains("created"))
	assert.False(t, w.Contains("verified"))
	assert.True(t, w.Contains("other"))
	assert.Equal(t, 1, w.Len())
}

func TestFingerprintWindow_Supersede(t *testing.T) {
	w := newFingerprintWindow(8)

	w.Add("C1", "created", false)
	w.Add("C1", "name-a", true)
	w.Add("C1", "name-b", true)
	w.Add("C2", "c2-update", true)

	w.Supersede("C1", "name-b")
	assert.True(t, w.Contains("created"), "non-revisable entries stay")
	assert.False(t, w.Contains("name-a"))
	assert.True(t, w.Contains("name-b"))
	assert.True(t, w.Contains("c2-update"), "other certifications untouched")
}

func TestFingerprintWindow_StaleSlotAfterForget(t *testing.T) {
	w := newFingerprintWindow(2)

	w.Add("C1", "a", false)
	w.Forget("C1")
	w.Add("C1", "b", false)
	w.Add("C1", "a", false) // reuses slot 0, whose old entry was forgotten

	assert.True(t, w.Contains("a"))
	assert.True(t, w.Contains("b"))

	w.Add("C1", "c", false) // evicts slot 1 ("b")
	assert.False(t, w.Contains("b"))
	assert.True(t, w.Contains("a"))
	assert.True(t, w.Contains("c"))
}

func TestFingerprintWindow_DefaultSize(t *testing.T) {
	w := newFingerprintWindow(0)
	assert.Len(t, w.ring, DefaultDedupWindow)
}
