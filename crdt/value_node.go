package crdt

import (
	"encoding/json"

	"roomsync/common"
)

// LWWValueNode is a last-writer-wins register holding a single value. A
// write is applied only when its timestamp is strictly newer than the one
// already recorded, so concurrent and duplicate deliveries converge.
type LWWValueNode struct {
	NodeId        common.LogicalTimestamp `json:"id"`
	NodeValue     interface{}             `json:"value"`
	NodeTimestamp common.LogicalTimestamp `json:"timestamp"`
}

// NewLWWValueNode creates a new value register with an initial value.
func NewLWWValueNode(id common.LogicalTimestamp, value interface{}) *LWWValueNode {
	return &LWWValueNode{
		NodeId:        id,
		NodeValue:     value,
		NodeTimestamp: id,
	}
}

// ID returns the unique identifier of the node.
func (n *LWWValueNode) ID() common.LogicalTimestamp {
	return n.NodeId
}

// Type returns the type of the node.
func (n *LWWValueNode) Type() common.NodeType {
	return common.NodeTypeVal
}

// Value returns the current value of the register.
func (n *LWWValueNode) Value() interface{} {
	return n.NodeValue
}

// Timestamp returns the timestamp of the winning write.
func (n *LWWValueNode) Timestamp() common.LogicalTimestamp {
	return n.NodeTimestamp
}

// Set replaces the value when ts is strictly newer than the recorded write.
// Returns true when the write won.
func (n *LWWValueNode) Set(ts common.LogicalTimestamp, value interface{}) bool {
	if ts.Compare(n.NodeTimestamp) <= 0 {
		return false
	}
	n.NodeValue = value
	n.NodeTimestamp = ts
	return true
}

// MarshalJSON returns a JSON representation of the node.
func (n *LWWValueNode) MarshalJSON() ([]byte, error) {
	type jsonNode struct {
		Type      string                  `json:"type"`
		ID        common.LogicalTimestamp `json:"id"`
		Value     interface{}             `json:"value"`
		Timestamp common.LogicalTimestamp `json:"timestamp"`
	}
	return json.Marshal(jsonNode{
		Type:      string(n.Type()),
		ID:        n.NodeId,
		Value:     n.NodeValue,
		Timestamp: n.NodeTimestamp,
	})
}

// UnmarshalJSON parses a JSON representation of the node.
func (n *LWWValueNode) UnmarshalJSON(data []byte) error {
	type jsonNode struct {
		Type      string                  `json:"type"`
		ID        common.LogicalTimestamp `json:"id"`
		Value     interface{}             `json:"value"`
		Timestamp common.LogicalTimestamp `json:"timestamp"`
	}

	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}

	if node.Type != string(common.NodeTypeVal) {
		return common.ErrInvalidNodeType{Type: node.Type}
	}

	n.NodeId = node.ID
	n.NodeValue = node.Value
	n.NodeTimestamp = node.Timestamp
	return nil
}
