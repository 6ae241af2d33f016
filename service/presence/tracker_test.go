package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerRemovesEmptySession(t *testing.T) {
	tr := NewMemoryTracker()
	tr.Add("s1", "u1")
	tr.Add("s1", "u2")
	tr.Add("s1", "u2")
	assert.Equal(t, 2, tr.Count("s1"))

	tr.Remove("s1", "u1")
	tr.Remove("s1", "u2")
	_, ok := tr.AllCounts()["s1"]
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Count("s1"))

	// 不存在的 session 静默
	tr.Remove("nope", "u1")
}

func TestTrackerReplace(t *testing.T) {
	tr := NewMemoryTracker()
	assert.True(t, tr.Replace("s1", []string{"b", "a"}))
	assert.Equal(t, []string{"a", "b"}, tr.Members("s1"))

	assert.False(t, tr.Replace("s1", []string{"a", "b"}))
	assert.True(t, tr.Replace("s1", []string{"a"}))

	assert.True(t, tr.Replace("s1", nil))
	assert.Empty(t, tr.AllCounts())
	assert.False(t, tr.Replace("s1", []string{}))
}

func TestTrackerAllCountsIsCopy(t *testing.T) {
	tr := NewMemoryTracker()
	tr.Add("s1", "u1")
	counts := tr.AllCounts()
	counts["s1"] = 99
	assert.Equal(t, 1, tr.Count("s1"))
}
