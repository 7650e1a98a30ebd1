package crdt

import (
	"encoding/json"

	"roomsync/common"
)

// Document represents one replica of a room's JSON CRDT document.
type Document struct {
	// root is the root node of the document.
	root *RootNode

	// index maps node IDs to nodes.
	index map[common.LogicalTimestamp]Node

	// clock tracks the highest observed counter per session.
	clock map[common.SessionID]uint64

	// localSessionID is the session ID of this replica.
	localSessionID common.SessionID
}

// NewDocument creates a new, empty CRDT document for the given session.
func NewDocument(sessionID common.SessionID) *Document {
	doc := &Document{
		index:          make(map[common.LogicalTimestamp]Node),
		clock:          make(map[common.SessionID]uint64),
		localSessionID: sessionID,
	}

	rootNode := NewRootNode(common.RootID)
	doc.root = rootNode
	doc.index[common.RootID] = rootNode

	return doc
}

// Root returns the root node of the document.
func (d *Document) Root() *RootNode {
	return d.root
}

// SessionID returns the local session ID of the replica.
func (d *Document) SessionID() common.SessionID {
	return d.localSessionID
}

// GetNode returns the node with the specified ID.
func (d *Document) GetNode(id common.LogicalTimestamp) (Node, error) {
	node, ok := d.index[id]
	if !ok {
		return nil, common.ErrNodeNotFound{ID: id}
	}
	return node, nil
}

// HasNode reports whether a node with the given ID exists.
func (d *Document) HasNode(id common.LogicalTimestamp) bool {
	_, ok := d.index[id]
	return ok
}

// AddNode registers a node in the document index and advances the clock past
// the node's ID.
func (d *Document) AddNode(node Node) {
	d.index[node.ID()] = node
	d.Observe(node.ID())
}

// Observe advances the clock so that timestamps issued locally are always
// greater than every timestamp this replica has seen. Remote operation IDs
// must be observed as they are applied; this is what makes the RGA ordering
// rule respect causality.
func (d *Document) Observe(ts common.LogicalTimestamp) {
	if current, ok := d.clock[ts.SID]; !ok || ts.Counter > current {
		d.clock[ts.SID] = ts.Counter
	}
}

// NextTimestamp returns the next logical timestamp for the local session.
// The counter starts past the highest counter observed from any session.
func (d *Document) NextTimestamp() common.LogicalTimestamp {
	var max uint64
	for _, counter := range d.clock {
		if counter > max {
			max = counter
		}
	}
	next := max + 1
	d.clock[d.localSessionID] = next
	return common.LogicalTimestamp{SID: d.localSessionID, Counter: next}
}

// NextTimestampSpan reserves span consecutive timestamps and returns the
// first one. Used for multi-character string inserts.
func (d *Document) NextTimestampSpan(span uint64) common.LogicalTimestamp {
	if span == 0 {
		span = 1
	}
	first := d.NextTimestamp()
	d.clock[d.localSessionID] = first.Counter + span - 1
	return first
}

// View returns a plain JSON view of the document.
func (d *Document) View() interface{} {
	return d.root.Value()
}

// MarshalJSON implements the json.Marshaler interface. The encoding carries
// the full replicated state including tombstones, so a replica hydrated from
// it merges subsequent deltas exactly like the replica that produced it.
func (d *Document) MarshalJSON() ([]byte, error) {
	type snapshot struct {
		Time map[string]uint64 `json:"time"`
		Root json.RawMessage   `json:"root"`
	}

	timeMap := make(map[string]uint64, len(d.clock))
	for sid, counter := range d.clock {
		timeMap[sid.String()] = counter
	}

	rootJSON, err := json.Marshal(d.root)
	if err != nil {
		return nil, err
	}

	return json.Marshal(snapshot{Time: timeMap, Root: rootJSON})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Document) UnmarshalJSON(data []byte) error {
	type snapshot struct {
		Time map[string]uint64 `json:"time"`
		Root json.RawMessage   `json:"root"`
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	clock := make(map[common.SessionID]uint64, len(snap.Time))
	for sidStr, counter := range snap.Time {
		var sid common.SessionID
		if err := sid.UnmarshalText([]byte(sidStr)); err != nil {
			return err
		}
		clock[sid] = counter
	}

	node, err := decodeNode(snap.Root)
	if err != nil {
		return err
	}
	root, ok := node.(*RootNode)
	if !ok {
		return common.ErrInvalidNodeType{Type: string(node.Type())}
	}

	d.clock = clock
	d.root = root
	d.index = make(map[common.LogicalTimestamp]Node)
	d.indexNode(root)
	return nil
}

// indexNode walks a node tree and registers every node in the index.
func (d *Document) indexNode(node Node) {
	if node == nil {
		return
	}
	d.index[node.ID()] = node

	switch n := node.(type) {
	case *RootNode:
		d.indexNode(n.NodeValue)
	case *LWWObjectNode:
		for _, field := range n.NodeFields {
			d.indexNode(field.FieldValue)
		}
	}
}
