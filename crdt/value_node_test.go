package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/common"
)

func TestLWWValueNewerWins(t *testing.T) {
	sid := common.NewSessionID()
	node := NewLWWValueNode(ts(sid, 1), "draft")

	assert.True(t, node.Set(ts(sid, 3), "running"))
	// An older concurrent write loses.
	assert.False(t, node.Set(ts(sid, 2), "stale"))
	assert.Equal(t, "running", node.Value())
	assert.Equal(t, ts(sid, 3), node.Timestamp())
}

func TestLWWValueReplayIsNoop(t *testing.T) {
	sid := common.NewSessionID()
	node := NewLWWValueNode(ts(sid, 1), 10)

	require.True(t, node.Set(ts(sid, 2), 20))
	assert.False(t, node.Set(ts(sid, 2), 20))
	assert.Equal(t, 20, node.Value())
}

func TestLWWValueJSONRoundTrip(t *testing.T) {
	sid := common.NewSessionID()
	node := NewLWWValueNode(ts(sid, 1), "typescript")
	require.True(t, node.Set(ts(sid, 4), "go"))

	data, err := json.Marshal(node)
	require.NoError(t, err)

	decoded, err := decodeNode(data)
	require.NoError(t, err)

	got, ok := decoded.(*LWWValueNode)
	require.True(t, ok)
	assert.Equal(t, "go", got.Value())
	assert.Equal(t, ts(sid, 4), got.Timestamp())
}
