package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomsync/persist"
	"roomsync/room"
)

func testManager() *Manager {
	opts := room.DefaultOptions()
	opts.Gate = &persist.GateOptions{
		Debounce:     20 * time.Millisecond,
		MaxWait:      100 * time.Millisecond,
		FlushTimeout: time.Second,
	}
	opts.Logger = zap.NewNop()
	deps := room.Deps{Snapshots: persist.NewMemorySnapshotStore()}
	return NewManager(deps, opts, zap.NewNop())
}

func TestManagerReusesLiveActor(t *testing.T) {
	m := testManager()
	defer m.Close(context.Background())

	a, err := m.Room("room-1")
	require.NoError(t, err)
	b, err := m.Room("room-1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := m.Room("room-2")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, m.Len())
}

func TestManagerReplacesClosedActor(t *testing.T) {
	m := testManager()
	defer m.Close(context.Background())

	a, err := m.Room("room-1")
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	b, err := m.Room("room-1")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

// flakyStore fails its first Load calls, then behaves like the memory store.
type flakyStore struct {
	*persist.MemorySnapshotStore
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Load(ctx context.Context, roomKey string) ([]byte, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, fmt.Errorf("storage unavailable")
	}
	s.mu.Unlock()
	return s.MemorySnapshotStore.Load(ctx, roomKey)
}

type nopConn struct{ id int64 }

func (c nopConn) ID() int64                        { return c.id }
func (c nopConn) Send(*room.OutboundMessage) error { return nil }
func (c nopConn) Close() error                     { return nil }

func TestManagerReplacesActorAfterHydrationFailure(t *testing.T) {
	store := &flakyStore{MemorySnapshotStore: persist.NewMemorySnapshotStore(), failures: 1}
	opts := room.DefaultOptions()
	opts.Gate = &persist.GateOptions{
		Debounce:     20 * time.Millisecond,
		MaxWait:      100 * time.Millisecond,
		FlushTimeout: time.Second,
	}
	opts.Logger = zap.NewNop()
	m := NewManager(room.Deps{Snapshots: store}, opts, zap.NewNop())
	defer m.Close(context.Background())

	a, err := m.Room("room-1")
	require.NoError(t, err)
	require.Error(t, a.Attach(context.Background(), nopConn{id: a.NextConnID()}))

	// The failed actor unhooks itself; once storage recovers the next open
	// gets a fresh actor that hydrates fine.
	var b *room.Actor
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, err = m.Room("room-1")
		require.NoError(t, err)
		if b != a {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotSame(t, a, b)
	require.NoError(t, b.Attach(context.Background(), nopConn{id: b.NextConnID()}))
}

func TestManagerCloseShutsRoomsDown(t *testing.T) {
	m := testManager()
	a, err := m.Room("room-1")
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 0, m.Len())
	assert.True(t, a.Closed())
}

func dialRoom(t *testing.T, srv *httptest.Server, roomKey string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http", "ws", 1) + "?roomKey=" + roomKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *room.OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := &room.OutboundMessage{}
	require.NoError(t, json.Unmarshal(data, msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) *room.OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("never received %q", msgType)
	return nil
}

func TestWebSocketEndToEnd(t *testing.T) {
	m := testManager()
	defer m.Close(context.Background())
	srv := httptest.NewServer(NewHandler(m, zap.NewNop()))
	defer srv.Close()

	alice := dialRoom(t, srv, "room-1")
	defer alice.Close()

	// Attaching yields the document snapshot and the presence list.
	msg := readMessage(t, alice)
	assert.Equal(t, room.OutDocSync, msg.Type)
	assert.NotEmpty(t, msg.Snapshot)
	msg = readMessage(t, alice)
	assert.Equal(t, room.OutUserList, msg.Type)
	assert.Empty(t, msg.Users)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"user-join","email":"alice@example.com","name":"Alice"}`)))
	list := readUntil(t, alice, room.OutUserList)
	require.Len(t, list.Users, 1)
	assert.Equal(t, "alice@example.com", list.Users[0].Email)

	// A second participant sees Alice in the list and Alice sees him
	// arrive.
	bob := dialRoom(t, srv, "room-1")
	defer bob.Close()
	readUntil(t, bob, room.OutUserList)
	require.NoError(t, bob.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"user-join","email":"bob@example.com","name":"Bob"}`)))

	joined := readUntil(t, alice, room.OutUserJoined)
	assert.Equal(t, "bob@example.com", joined.User.Email)

	// Bob drops; Alice hears the departure.
	bob.Close()
	left := readUntil(t, alice, room.OutUserLeft)
	assert.Equal(t, "bob@example.com", left.User.Email)
}

func TestSendDeadlineUnblocksStalledClient(t *testing.T) {
	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- conn
	}))
	defer srv.Close()

	url := strings.Replace(srv.URL, "http", "ws", 1)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()
	// The client never reads, so its receive window eventually fills.

	ws := NewWSConn(1, <-upgraded, nil, zap.NewNop())
	ws.writeTimeout = 50 * time.Millisecond
	defer ws.Close()

	// Sends must error out once the peer stalls instead of blocking the
	// caller forever.
	payload := strings.Repeat("x", 1<<20)
	var sendErr error
	for i := 0; i < 64 && sendErr == nil; i++ {
		sendErr = ws.Send(&room.OutboundMessage{Type: room.OutDocUpdate, Output: payload})
	}
	require.Error(t, sendErr)
}

func TestWebSocketRequiresRoomKey(t *testing.T) {
	m := testManager()
	defer m.Close(context.Background())
	srv := httptest.NewServer(NewHandler(m, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
