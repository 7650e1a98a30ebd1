package crdt

import (
	"encoding/json"

	"roomsync/common"
)

// RootNode is the entry point of a document. Its value is replaced with
// last-writer-wins semantics, which lets a whole document be (re)initialized
// by a single operation.
type RootNode struct {
	NodeId        common.LogicalTimestamp `json:"id"`
	NodeTimestamp common.LogicalTimestamp `json:"timestamp"`
	NodeValue     Node                    `json:"value,omitempty"`
}

// NewRootNode creates a new root node.
func NewRootNode(id common.LogicalTimestamp) *RootNode {
	return &RootNode{NodeId: id}
}

// ID returns the unique identifier of the node.
func (n *RootNode) ID() common.LogicalTimestamp {
	return n.NodeId
}

// Type returns the type of the node.
func (n *RootNode) Type() common.NodeType {
	return common.NodeTypeRoot
}

// Value returns the value of the node.
func (n *RootNode) Value() interface{} {
	if n.NodeValue == nil {
		return nil
	}
	return n.NodeValue.Value()
}

// SetValue replaces the root value if timestamp is newer than the current one.
func (n *RootNode) SetValue(timestamp common.LogicalTimestamp, value Node) bool {
	if n.NodeValue != nil && timestamp.Compare(n.NodeTimestamp) <= 0 {
		return false
	}
	n.NodeTimestamp = timestamp
	n.NodeValue = value
	return true
}

// MarshalJSON returns a JSON representation of the node.
func (n *RootNode) MarshalJSON() ([]byte, error) {
	type jsonNode struct {
		Type      string                  `json:"type"`
		ID        common.LogicalTimestamp `json:"id"`
		Timestamp common.LogicalTimestamp `json:"timestamp"`
		Value     json.RawMessage         `json:"value,omitempty"`
	}

	node := jsonNode{
		Type:      string(n.Type()),
		ID:        n.NodeId,
		Timestamp: n.NodeTimestamp,
	}

	if n.NodeValue != nil {
		valueJSON, err := json.Marshal(n.NodeValue)
		if err != nil {
			return nil, err
		}
		node.Value = valueJSON
	}

	return json.Marshal(node)
}

// UnmarshalJSON parses a JSON representation of the node.
func (n *RootNode) UnmarshalJSON(data []byte) error {
	type jsonNode struct {
		Type      string                  `json:"type"`
		ID        common.LogicalTimestamp `json:"id"`
		Timestamp common.LogicalTimestamp `json:"timestamp"`
		Value     json.RawMessage         `json:"value,omitempty"`
	}

	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}

	if node.Type != string(common.NodeTypeRoot) {
		return common.ErrInvalidNodeType{Type: node.Type}
	}

	n.NodeId = node.ID
	n.NodeTimestamp = node.Timestamp
	n.NodeValue = nil

	if len(node.Value) > 0 {
		value, err := decodeNode(node.Value)
		if err != nil {
			return err
		}
		n.NodeValue = value
	}

	return nil
}
