package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/common"
)

func ts(sid common.SessionID, counter uint64) common.LogicalTimestamp {
	return common.LogicalTimestamp{SID: sid, Counter: counter}
}

func TestRGAStringInsertAndDelete(t *testing.T) {
	sid := common.NewSessionID()
	node := NewRGAStringNode(ts(sid, 1))

	require.True(t, node.Insert(common.RootID, ts(sid, 2), "hello"))
	assert.Equal(t, "hello", node.String())
	assert.Equal(t, 5, node.Length())

	// Append after the last visible element.
	require.True(t, node.Insert(node.LastID(), ts(sid, 10), " world"))
	assert.Equal(t, "hello world", node.String())

	// Tombstone the first word; length shrinks but the ids remain anchors.
	require.True(t, node.Delete(ts(sid, 2), ts(sid, 6)))
	assert.Equal(t, " world", node.String())
	assert.Equal(t, 6, node.Length())
}

func TestRGAStringInsertAfterTombstone(t *testing.T) {
	sid := common.NewSessionID()
	node := NewRGAStringNode(ts(sid, 1))

	require.True(t, node.Insert(common.RootID, ts(sid, 2), "ab"))
	require.True(t, node.Delete(ts(sid, 3), ts(sid, 3)))
	assert.Equal(t, "a", node.String())

	// A deleted element still anchors later inserts.
	require.True(t, node.Insert(ts(sid, 3), ts(sid, 4), "c"))
	assert.Equal(t, "ac", node.String())
}

func TestRGAStringDuplicateInsertIgnored(t *testing.T) {
	sid := common.NewSessionID()
	node := NewRGAStringNode(ts(sid, 1))

	require.True(t, node.Insert(common.RootID, ts(sid, 2), "abc"))
	// Redelivery of the same run changes nothing.
	assert.True(t, node.Insert(common.RootID, ts(sid, 2), "abc"))
	assert.Equal(t, "abc", node.String())
	assert.Equal(t, 3, node.Length())
}

func TestRGAStringConcurrentInsertsConverge(t *testing.T) {
	sidA := common.NewSessionID()
	sidB := common.NewSessionID()

	// Two replicas insert different runs after the same anchor. Whichever
	// delivery order, both replicas must render the same text.
	build := func(first bool) string {
		node := NewRGAStringNode(common.RootID)
		if first {
			require.True(t, node.Insert(common.RootID, ts(sidA, 1), "AA"))
			require.True(t, node.Insert(common.RootID, ts(sidB, 1), "BB"))
		} else {
			require.True(t, node.Insert(common.RootID, ts(sidB, 1), "BB"))
			require.True(t, node.Insert(common.RootID, ts(sidA, 1), "AA"))
		}
		return node.String()
	}

	one := build(true)
	other := build(false)
	assert.Equal(t, one, other)
	assert.Len(t, one, 4)
	// Runs stay contiguous, they never interleave.
	assert.Contains(t, []string{"AABB", "BBAA"}, one)
}

func TestRGAStringHigherCounterOrdersFirst(t *testing.T) {
	sidA := common.NewSessionID()
	sidB := common.NewSessionID()

	node := NewRGAStringNode(common.RootID)
	require.True(t, node.Insert(common.RootID, ts(sidA, 5), "x"))
	// A causally later insert at the same anchor lands before the earlier
	// one: its id dominates the sibling skip.
	require.True(t, node.Insert(common.RootID, ts(sidB, 9), "y"))
	assert.Equal(t, "yx", node.String())
}
