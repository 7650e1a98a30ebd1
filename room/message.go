package room

import (
	"encoding/json"
	"fmt"

	"roomsync/presence"
)

// Inbound is the closed set of messages a connection may send. Raw frames
// are decoded exactly once at the boundary; everything past Decode works
// with typed values.
type Inbound interface {
	inbound()
}

// UserJoin announces the identity behind a connection.
type UserJoin struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// UserListRequest asks for a full presence snapshot, replied to the
// requesting connection only.
type UserListRequest struct{}

// HeartbeatMsg refreshes the sender identity's last-seen timestamp.
type HeartbeatMsg struct{}

// DocUpdate carries one opaque encoded CRDT delta. Doc names the logical
// document the client edited ("code", "instructions", ...); the delta itself
// addresses nodes directly.
type DocUpdate struct {
	Doc   string          `json:"doc,omitempty"`
	Patch json.RawMessage `json:"patch"`
}

// DocSync asks for a full document snapshot, replied to the requesting
// connection only.
type DocSync struct {
	Doc string `json:"doc,omitempty"`
}

// FileCreate creates a file or folder at a path.
type FileCreate struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
}

// FileRename renames the node at a path.
type FileRename struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

// FileMove reparents the node at a path.
type FileMove struct {
	Path      string `json:"path"`
	NewParent string `json:"newParent"`
}

// FileDelete removes the node at a path.
type FileDelete struct {
	Path string `json:"path"`
}

// ChatSend appends a chat message to the room.
type ChatSend struct {
	Text string `json:"text"`
}

// ExecMessage carries one execution lifecycle message. MessageType is one of
// run, start, output, complete, error; Data carries the type-specific
// payload.
type ExecMessage struct {
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (UserJoin) inbound()        {}
func (UserListRequest) inbound() {}
func (HeartbeatMsg) inbound()    {}
func (DocUpdate) inbound()       {}
func (DocSync) inbound()         {}
func (FileCreate) inbound()      {}
func (FileRename) inbound()      {}
func (FileMove) inbound()        {}
func (FileDelete) inbound()      {}
func (ChatSend) inbound()        {}
func (ExecMessage) inbound()     {}

// Decode parses one raw frame into its typed message. Unknown types and
// malformed payloads are errors; the caller logs and drops them without
// touching any state.
func Decode(data []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	var msg Inbound
	var err error
	switch envelope.Type {
	case "user-join":
		var m UserJoin
		err = json.Unmarshal(data, &m)
		msg = m
	case "user-list-request":
		msg = UserListRequest{}
	case "heartbeat":
		msg = HeartbeatMsg{}
	case "doc-update":
		var m DocUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	case "doc-sync":
		var m DocSync
		err = json.Unmarshal(data, &m)
		msg = m
	case "file-create":
		var m FileCreate
		err = json.Unmarshal(data, &m)
		msg = m
	case "file-rename":
		var m FileRename
		err = json.Unmarshal(data, &m)
		msg = m
	case "file-move":
		var m FileMove
		err = json.Unmarshal(data, &m)
		msg = m
	case "file-delete":
		var m FileDelete
		err = json.Unmarshal(data, &m)
		msg = m
	case "chat":
		var m ChatSend
		err = json.Unmarshal(data, &m)
		msg = m
	case "execution":
		var m ExecMessage
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown message type: %q", envelope.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("malformed %q message: %w", envelope.Type, err)
	}
	return msg, nil
}

// OutboundMessage is the single frame shape sent to connections. Fields not
// used by a message type stay empty.
type OutboundMessage struct {
	Type      string                 `json:"type"`
	User      *presence.Record       `json:"user,omitempty"`
	Users     []*presence.Record     `json:"users,omitempty"`
	Doc       string                 `json:"doc,omitempty"`
	Patch     json.RawMessage        `json:"patch,omitempty"`
	Snapshot  json.RawMessage        `json:"snapshot,omitempty"`
	Message   map[string]interface{} `json:"message,omitempty"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}

// Outbound message types.
const (
	OutUserJoined = "user-joined"
	OutUserLeft   = "user-left"
	OutUserList   = "user-list"
	OutDocUpdate  = "doc-update"
	OutDocSync    = "doc-sync"
)
