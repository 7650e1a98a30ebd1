package crdt

import (
	"encoding/json"

	"roomsync/common"
)

// RGAArrayNode represents a Replicated Growable Array of arbitrary JSON
// values. It is append-biased: elements are usually inserted after the
// current tail, and concurrent appends converge to a stable order.
type RGAArrayNode struct {
	NodeId       common.LogicalTimestamp `json:"id"`
	NodeElements []*RGAElement           `json:"elements,omitempty"`
}

// NewRGAArrayNode creates a new RGA array node.
func NewRGAArrayNode(id common.LogicalTimestamp) *RGAArrayNode {
	return &RGAArrayNode{
		NodeId:       id,
		NodeElements: make([]*RGAElement, 0),
	}
}

// ID returns the unique identifier of the node.
func (n *RGAArrayNode) ID() common.LogicalTimestamp {
	return n.NodeId
}

// Type returns the type of the node.
func (n *RGAArrayNode) Type() common.NodeType {
	return common.NodeTypeArr
}

// Value returns the value of the node.
func (n *RGAArrayNode) Value() interface{} {
	result := make([]interface{}, 0, len(n.NodeElements))
	for _, elem := range n.NodeElements {
		if !elem.ElemDeleted {
			result = append(result, elem.ElemValue)
		}
	}
	return result
}

// Length returns the number of visible elements in the array.
func (n *RGAArrayNode) Length() int {
	count := 0
	for _, elem := range n.NodeElements {
		if !elem.ElemDeleted {
			count++
		}
	}
	return count
}

// Insert inserts a single value after the element identified by afterID.
func (n *RGAArrayNode) Insert(afterID, id common.LogicalTimestamp, value interface{}) bool {
	elems, ok := rgaInsert(n.NodeElements, afterID, []*RGAElement{{
		ElemID:    id,
		ElemValue: value,
	}})
	if !ok {
		return false
	}
	n.NodeElements = elems
	return true
}

// Delete tombstones the element with the given ID.
func (n *RGAArrayNode) Delete(id common.LogicalTimestamp) bool {
	return rgaDeleteRange(n.NodeElements, id, id)
}

// DeleteRange tombstones all elements between startID and endID inclusive.
func (n *RGAArrayNode) DeleteRange(startID, endID common.LogicalTimestamp) bool {
	return rgaDeleteRange(n.NodeElements, startID, endID)
}

// LastID returns the ID of the last element, tombstoned or not. The document
// root ID is returned for an empty node.
func (n *RGAArrayNode) LastID() common.LogicalTimestamp {
	if len(n.NodeElements) == 0 {
		return common.RootID
	}
	return n.NodeElements[len(n.NodeElements)-1].ElemID
}

// MarshalJSON returns a JSON representation of the node.
func (n *RGAArrayNode) MarshalJSON() ([]byte, error) {
	type jsonNode struct {
		Type     string                  `json:"type"`
		ID       common.LogicalTimestamp `json:"id"`
		Elements []*RGAElement           `json:"elements,omitempty"`
	}
	return json.Marshal(jsonNode{
		Type:     string(n.Type()),
		ID:       n.NodeId,
		Elements: n.NodeElements,
	})
}

// UnmarshalJSON parses a JSON representation of the node.
func (n *RGAArrayNode) UnmarshalJSON(data []byte) error {
	type jsonNode struct {
		Type     string                  `json:"type"`
		ID       common.LogicalTimestamp `json:"id"`
		Elements []*RGAElement           `json:"elements,omitempty"`
	}

	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}

	if node.Type != string(common.NodeTypeArr) {
		return common.ErrInvalidNodeType{Type: node.Type}
	}

	n.NodeId = node.ID
	n.NodeElements = node.Elements
	if n.NodeElements == nil {
		n.NodeElements = make([]*RGAElement, 0)
	}
	return nil
}
