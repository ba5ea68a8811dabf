package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceTrackerSnapshotIsSortedAndUnique(t *testing.T) {
	p := NewPresenceTracker()
	assert.True(t, p.Join("carol"))
	assert.True(t, p.Join("alice"))
	assert.False(t, p.Join("alice"))
	assert.True(t, p.Join("bob"))

	assert.Equal(t, []string{"alice", "bob", "carol"}, p.Snapshot())
	assert.Equal(t, 3, p.Len())
}

func TestPresenceTrackerSharedIdentity(t *testing.T) {
	p := NewPresenceTracker()
	p.Join("alice")
	p.Join("alice")

	assert.False(t, p.Leave("alice"))
	assert.True(t, p.Contains("alice"))

	assert.True(t, p.Leave("alice"))
	assert.False(t, p.Contains("alice"))
	assert.False(t, p.Leave("alice"))
}

func TestPresenceTrackerEmptySnapshot(t *testing.T) {
	p := NewPresenceTracker()
	snap := p.Snapshot()
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}
