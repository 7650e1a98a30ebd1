package crdt

import (
	"encoding/json"
	"sort"

	"roomsync/common"
)

// LWWObjectNode represents a Last-Write-Wins object node. Each key carries
// the timestamp of the operation that last set or deleted it; deletions are
// kept as tombstones so that a stale concurrent write cannot resurrect a key.
type LWWObjectNode struct {
	NodeId     common.LogicalTimestamp    `json:"id"`
	NodeFields map[string]*LWWObjectField `json:"fields,omitempty"`
}

// LWWObjectField represents a field in a LWW object.
type LWWObjectField struct {
	FieldTimestamp common.LogicalTimestamp `json:"timestamp"`
	FieldValue     Node                    `json:"value,omitempty"`
	FieldDeleted   bool                    `json:"deleted,omitempty"`
}

// NewLWWObjectNode creates a new LWW object node.
func NewLWWObjectNode(id common.LogicalTimestamp) *LWWObjectNode {
	return &LWWObjectNode{
		NodeId:     id,
		NodeFields: make(map[string]*LWWObjectField),
	}
}

// ID returns the unique identifier of the node.
func (n *LWWObjectNode) ID() common.LogicalTimestamp {
	return n.NodeId
}

// Type returns the type of the node.
func (n *LWWObjectNode) Type() common.NodeType {
	return common.NodeTypeObj
}

// Value returns the value of the node.
func (n *LWWObjectNode) Value() interface{} {
	result := make(map[string]interface{})
	for key, field := range n.NodeFields {
		if !field.FieldDeleted && field.FieldValue != nil {
			result[key] = field.FieldValue.Value()
		}
	}
	return result
}

// Get returns the live value of a field, or nil if the field is absent or
// tombstoned.
func (n *LWWObjectNode) Get(key string) Node {
	if field, ok := n.NodeFields[key]; ok && !field.FieldDeleted {
		return field.FieldValue
	}
	return nil
}

// Set sets the value of a field. The write wins only if its timestamp is
// newer than the field's current one; replaying the same operation twice is
// a no-op.
func (n *LWWObjectNode) Set(key string, timestamp common.LogicalTimestamp, value Node) bool {
	field, ok := n.NodeFields[key]
	if ok && timestamp.Compare(field.FieldTimestamp) <= 0 {
		return false
	}
	n.NodeFields[key] = &LWWObjectField{
		FieldTimestamp: timestamp,
		FieldValue:     value,
	}
	return true
}

// Delete tombstones a field. A tombstone for an unknown key is recorded so
// that an older concurrent Set cannot re-create the key afterwards.
func (n *LWWObjectNode) Delete(key string, timestamp common.LogicalTimestamp) bool {
	field, ok := n.NodeFields[key]
	if ok && timestamp.Compare(field.FieldTimestamp) <= 0 {
		return false
	}
	n.NodeFields[key] = &LWWObjectField{
		FieldTimestamp: timestamp,
		FieldDeleted:   true,
	}
	return true
}

// Keys returns the live keys of the object in sorted order.
func (n *LWWObjectNode) Keys() []string {
	keys := make([]string, 0, len(n.NodeFields))
	for key, field := range n.NodeFields {
		if !field.FieldDeleted {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys.
func (n *LWWObjectNode) Len() int {
	count := 0
	for _, field := range n.NodeFields {
		if !field.FieldDeleted {
			count++
		}
	}
	return count
}

// Timestamp returns the timestamp of the operation that last touched key,
// including tombstones. The zero timestamp is returned for unknown keys.
func (n *LWWObjectNode) Timestamp(key string) common.LogicalTimestamp {
	if field, ok := n.NodeFields[key]; ok {
		return field.FieldTimestamp
	}
	return common.LogicalTimestamp{}
}

// MarshalJSON returns a JSON representation of the node.
func (n *LWWObjectNode) MarshalJSON() ([]byte, error) {
	type jsonField struct {
		Timestamp common.LogicalTimestamp `json:"timestamp"`
		Value     json.RawMessage         `json:"value,omitempty"`
		Deleted   bool                    `json:"deleted,omitempty"`
	}

	type jsonNode struct {
		Type   string                  `json:"type"`
		ID     common.LogicalTimestamp `json:"id"`
		Fields map[string]jsonField    `json:"fields,omitempty"`
	}

	node := jsonNode{
		Type:   string(n.Type()),
		ID:     n.NodeId,
		Fields: make(map[string]jsonField, len(n.NodeFields)),
	}

	for key, field := range n.NodeFields {
		jf := jsonField{
			Timestamp: field.FieldTimestamp,
			Deleted:   field.FieldDeleted,
		}
		if field.FieldValue != nil {
			valueJSON, err := json.Marshal(field.FieldValue)
			if err != nil {
				return nil, err
			}
			jf.Value = valueJSON
		}
		node.Fields[key] = jf
	}

	return json.Marshal(node)
}

// UnmarshalJSON parses a JSON representation of the node.
func (n *LWWObjectNode) UnmarshalJSON(data []byte) error {
	type jsonField struct {
		Timestamp common.LogicalTimestamp `json:"timestamp"`
		Value     json.RawMessage         `json:"value,omitempty"`
		Deleted   bool                    `json:"deleted,omitempty"`
	}

	type jsonNode struct {
		Type   string                  `json:"type"`
		ID     common.LogicalTimestamp `json:"id"`
		Fields map[string]jsonField    `json:"fields,omitempty"`
	}

	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}

	if node.Type != string(common.NodeTypeObj) {
		return common.ErrInvalidNodeType{Type: node.Type}
	}

	n.NodeId = node.ID
	n.NodeFields = make(map[string]*LWWObjectField, len(node.Fields))

	for key, jf := range node.Fields {
		field := &LWWObjectField{
			FieldTimestamp: jf.Timestamp,
			FieldDeleted:   jf.Deleted,
		}
		if len(jf.Value) > 0 {
			value, err := decodeNode(jf.Value)
			if err != nil {
				return err
			}
			field.FieldValue = value
		}
		n.NodeFields[key] = field
	}

	return nil
}
