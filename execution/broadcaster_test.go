package execution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/common"
	"roomsync/roomdoc"
)

func newBroadcaster(t *testing.T) (*roomdoc.RoomDocument, *Broadcaster) {
	t.Helper()
	doc := roomdoc.New(common.NewSessionID())
	_, err := doc.Bootstrap("go", "active")
	require.NoError(t, err)
	return doc, NewBroadcaster(doc)
}

func TestLifecycleStartCompletes(t *testing.T) {
	_, b := newBroadcaster(t)
	assert.False(t, b.IsRunning())

	patch, event, err := b.Start()
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Equal(t, EventStart, event.Type)
	assert.True(t, b.IsRunning())

	out := b.Output("line 1\n")
	assert.Equal(t, EventOutput, out.Type)
	assert.Equal(t, "line 1\n", out.Output)
	// Intermediate output never lands in the replicated record.
	assert.Equal(t, "", b.Record().Output)

	patch, event, err = b.Complete("line 1\nline 2\n")
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Equal(t, EventComplete, event.Type)

	rec := b.Record()
	assert.False(t, rec.IsRunning)
	assert.Equal(t, "line 1\nline 2\n", rec.Output)
	assert.Equal(t, "", rec.Error)
}

func TestLifecycleFailure(t *testing.T) {
	_, b := newBroadcaster(t)

	_, _, err := b.Start()
	require.NoError(t, err)

	_, event, err := b.Fail("SyntaxError: unexpected token")
	require.NoError(t, err)
	assert.Equal(t, EventError, event.Type)

	rec := b.Record()
	assert.False(t, rec.IsRunning)
	assert.Equal(t, "SyntaxError: unexpected token", rec.Error)
}

func TestStartClearsPreviousRun(t *testing.T) {
	_, b := newBroadcaster(t)

	_, _, err := b.Start()
	require.NoError(t, err)
	_, _, err = b.Complete("old output")
	require.NoError(t, err)

	_, _, err = b.Start()
	require.NoError(t, err)
	rec := b.Record()
	assert.True(t, rec.IsRunning)
	assert.Equal(t, "", rec.Output)
	assert.Equal(t, "", rec.Error)
}

func TestTerminalTransitionAppendsHistoryAtomically(t *testing.T) {
	doc, b := newBroadcaster(t)

	_, _, err := b.Start()
	require.NoError(t, err)

	// A replica that saw the run start...
	snapshot, err := doc.Snapshot()
	require.NoError(t, err)
	replica := roomdoc.New(common.NewSessionID())
	require.NoError(t, replica.Hydrate(snapshot))
	require.True(t, NewBroadcaster(replica).IsRunning())

	patch, _, err := b.Complete("done")
	require.NoError(t, err)

	history := doc.ArrayValue(roomdoc.FieldExecutionHistory)
	require.Len(t, history, 1)
	entry, ok := history[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "done", entry["output"])

	// ...receives the record update and the history append as one delta.
	data, err := json.Marshal(patch)
	require.NoError(t, err)
	require.NoError(t, replica.ApplyEncodedPatch(data))

	rec := NewBroadcaster(replica).Record()
	assert.False(t, rec.IsRunning)
	assert.Equal(t, "done", rec.Output)
	require.Len(t, replica.ArrayValue(roomdoc.FieldExecutionHistory), 1)
}

func TestReconnectingReplicaSeesTerminalState(t *testing.T) {
	doc, b := newBroadcaster(t)

	_, _, err := b.Start()
	require.NoError(t, err)
	_, _, err = b.Complete("42\n")
	require.NoError(t, err)

	snapshot, err := doc.Snapshot()
	require.NoError(t, err)
	replica := roomdoc.New(common.NewSessionID())
	require.NoError(t, replica.Hydrate(snapshot))

	rec := NewBroadcaster(replica).Record()
	assert.False(t, rec.IsRunning)
	assert.Equal(t, "42\n", rec.Output)
	require.Len(t, replica.ArrayValue(roomdoc.FieldExecutionHistory), 1)
}
