package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/common"
)

func TestNewDocument(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	assert.NotNil(t, doc.Root())
	assert.Equal(t, common.RootID, doc.Root().ID())
	assert.Equal(t, sid, doc.SessionID())
}

func TestDocumentAddAndGetNode(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	id := ts(sid, 1)
	doc.AddNode(NewConstantNode(id, "test"))

	node, err := doc.GetNode(id)
	require.NoError(t, err)
	assert.Equal(t, "test", node.Value())
	assert.True(t, doc.HasNode(id))

	_, err = doc.GetNode(ts(common.NewSessionID(), 9))
	assert.Error(t, err)
}

func TestDocumentNextTimestampAdvancesPastObserved(t *testing.T) {
	sidLocal := common.NewSessionID()
	sidRemote := common.NewSessionID()
	doc := NewDocument(sidLocal)

	first := doc.NextTimestamp()
	assert.Equal(t, sidLocal, first.SID)

	// After observing a remote operation, locally minted ids must dominate
	// it so later local writes causally order after it.
	doc.Observe(ts(sidRemote, 50))
	next := doc.NextTimestamp()
	assert.Equal(t, sidLocal, next.SID)
	assert.Greater(t, next.Counter, uint64(50))
}

func TestDocumentNextTimestampSpan(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	start := doc.NextTimestampSpan(5)
	next := doc.NextTimestamp()
	assert.GreaterOrEqual(t, next.Counter, start.Counter+5)
}

func TestDocumentSnapshotRoundTrip(t *testing.T) {
	sid := common.NewSessionID()
	doc := NewDocument(sid)

	obj := NewLWWObjectNode(doc.NextTimestamp())
	doc.Observe(obj.ID())
	doc.AddNode(obj)

	str := NewRGAStringNode(doc.NextTimestamp())
	doc.Observe(str.ID())
	doc.AddNode(str)
	runID := doc.NextTimestampSpan(5)
	require.True(t, str.Insert(common.RootID, runID, "hello"))
	doc.Observe(runID.Increment(4))

	setTS := doc.NextTimestamp()
	doc.Observe(setTS)
	require.True(t, obj.Set("code", setTS, str))
	rootTS := doc.NextTimestamp()
	doc.Observe(rootTS)
	require.True(t, doc.Root().SetValue(rootTS, obj))

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	restored := NewDocument(common.NewSessionID())
	require.NoError(t, json.Unmarshal(data, restored))

	node, err := restored.GetNode(str.ID())
	require.NoError(t, err)
	restoredStr, ok := node.(*RGAStringNode)
	require.True(t, ok)
	assert.Equal(t, "hello", restoredStr.String())

	// The restored clock still dominates every persisted id.
	assert.Greater(t, restored.NextTimestamp().Counter, setTS.Counter)
}
