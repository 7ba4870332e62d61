package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceOnlineEdge(t *testing.T) {
	reg := NewPresenceRegistry()

	require.False(t, reg.IsOnline(1))

	first := reg.AddConnection(1, "c1")
	assert.True(t, first)
	assert.True(t, reg.IsOnline(1))

	second := reg.AddConnection(1, "c2")
	assert.False(t, second)

	// Idempotent re-add of a known connection is not an edge.
	assert.False(t, reg.AddConnection(1, "c2"))
}

func TestPresenceOfflineEdge(t *testing.T) {
	reg := NewPresenceRegistry()
	reg.AddConnection(1, "c1")
	reg.AddConnection(1, "c2")

	assert.False(t, reg.RemoveConnection(1, "c1"))
	assert.True(t, reg.IsOnline(1))

	assert.True(t, reg.RemoveConnection(1, "c2"))
	assert.False(t, reg.IsOnline(1))

	// Removing an unknown connection is a no-op, not an edge.
	assert.False(t, reg.RemoveConnection(1, "c2"))
	assert.False(t, reg.RemoveConnection(9, "cx"))
}

func TestPresenceAddRemoveRestoresState(t *testing.T) {
	reg := NewPresenceRegistry()
	reg.AddConnection(1, "c1")

	reg.AddConnection(1, "extra")
	reg.RemoveConnection(1, "extra")

	assert.True(t, reg.IsOnline(1))
	assert.ElementsMatch(t, []string{"c1"}, reg.ConnectionsOf(1))
}

func TestPresenceListOnline(t *testing.T) {
	reg := NewPresenceRegistry()
	reg.AddConnection(1, "c1")
	reg.AddConnection(2, "c2")
	reg.RemoveConnection(2, "c2")

	assert.ElementsMatch(t, []int{1}, reg.ListOnline())
}
