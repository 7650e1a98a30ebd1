package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomsync/common"
	"roomsync/room"
)

// writeWait bounds a single frame write. Sends run on the actor goroutine;
// the deadline keeps one stalled client from blocking the whole room.
const writeWait = 10 * time.Second

// WSConn adapts one gorilla websocket connection to the room actor's Conn
// contract. Reads happen on the connection's own loop; writes are serialized
// with a mutex because sends arrive from the actor goroutine while close can
// arrive from the read loop.
type WSConn struct {
	id           int64
	conn         *websocket.Conn
	actor        *room.Actor
	logger       *zap.Logger
	writeTimeout time.Duration
	mutex        sync.Mutex
	closed       bool
}

// NewWSConn wraps an upgraded connection for a room.
func NewWSConn(id int64, conn *websocket.Conn, actor *room.Actor, logger *zap.Logger) *WSConn {
	return &WSConn{
		id:           id,
		conn:         conn,
		actor:        actor,
		logger:       logger,
		writeTimeout: writeWait,
	}
}

// ID returns the process-unique connection id.
func (c *WSConn) ID() int64 {
	return c.id
}

// Send writes one outbound message as a text frame.
func (c *WSConn) Send(msg *room.OutboundMessage) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close shuts the underlying socket. Safe to call more than once.
func (c *WSConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// readLoop pumps inbound frames into the room actor until the connection
// drops, then detaches. Both graceful closes and abnormal drops end here, so
// departure broadcasting never depends on a well-behaved client.
func (c *WSConn) readLoop() {
	defer func() {
		c.actor.Detach(c.id)
		_ = c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					zap.Int64("connID", c.id),
					zap.Error(err))
			}
			return
		}
		c.actor.Dispatch(c.id, data)
	}
}

// Handler upgrades HTTP requests into room websocket connections.
type Handler struct {
	manager  *Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket entry point.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles GET /rooms/{roomKey}/ws style requests; the room key is
// read from the query string.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("roomKey")
	if roomKey == "" {
		http.Error(w, "roomKey is required", http.StatusBadRequest)
		return
	}

	actor, err := h.manager.Room(roomKey)
	if err != nil {
		h.logger.Error("failed to open room",
			zap.String("roomKey", roomKey),
			zap.Error(err))
		http.Error(w, "failed to open room", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection",
			zap.String("roomKey", roomKey),
			zap.Error(err))
		return
	}

	wsConn := NewWSConn(actor.NextConnID(), conn, actor, h.logger)
	if err := actor.Attach(r.Context(), wsConn); err != nil {
		status := "internal"
		var notFound common.ErrRoomNotFound
		if errors.As(err, &notFound) {
			status = "not-found"
		}
		h.logger.Warn("rejecting connection",
			zap.String("roomKey", roomKey),
			zap.String("reason", status),
			zap.Error(err))
		_ = wsConn.Send(&room.OutboundMessage{Type: "error", Error: err.Error()})
		_ = wsConn.Close()
		return
	}

	go wsConn.readLoop()
}
