package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUserJoin(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"user-join","email":"a@example.com","name":"Anna","color":"#f00"}`))
	require.NoError(t, err)

	join, ok := msg.(UserJoin)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", join.Email)
	assert.Equal(t, "Anna", join.Name)
	assert.Equal(t, "#f00", join.Color)
}

func TestDecodeDocUpdate(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"doc-update","doc":"code","patch":{"id":null,"ops":[]}}`))
	require.NoError(t, err)

	update, ok := msg.(DocUpdate)
	require.True(t, ok)
	assert.Equal(t, "code", update.Doc)
	assert.NotEmpty(t, update.Patch)
}

func TestDecodeFileOperations(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"file-create","path":"/src/main.go","kind":"file","content":"package main"}`))
	require.NoError(t, err)
	create, ok := msg.(FileCreate)
	require.True(t, ok)
	assert.Equal(t, "/src/main.go", create.Path)
	assert.Equal(t, "file", create.Kind)

	msg, err = Decode([]byte(`{"type":"file-move","path":"/a","newParent":"/b"}`))
	require.NoError(t, err)
	move, ok := msg.(FileMove)
	require.True(t, ok)
	assert.Equal(t, "/b", move.NewParent)
}

func TestDecodeExecution(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"execution","messageType":"output","data":{"output":"hi\n"}}`))
	require.NoError(t, err)

	exec, ok := msg.(ExecMessage)
	require.True(t, ok)
	assert.Equal(t, "output", exec.MessageType)
	assert.JSONEq(t, `{"output":"hi\n"}`, string(exec.Data))
}

func TestDecodeBareTypes(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"heartbeat"}`))
	require.NoError(t, err)
	_, ok := msg.(HeartbeatMsg)
	assert.True(t, ok)

	msg, err = Decode([]byte(`{"type":"user-list-request"}`))
	require.NoError(t, err)
	_, ok = msg.(UserListRequest)
	assert.True(t, ok)
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = Decode([]byte(`[]`))
	assert.Error(t, err)
}
