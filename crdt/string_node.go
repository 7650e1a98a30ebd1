package crdt

import (
	"encoding/json"
	"strings"

	"roomsync/common"
)

// RGAStringNode represents a Replicated Growable Array string node.
// Each visible character is one element; deleted characters remain as
// tombstones so concurrent edits merge deterministically.
type RGAStringNode struct {
	NodeId       common.LogicalTimestamp `json:"id"`
	NodeElements []*RGAElement           `json:"elements,omitempty"`
}

// NewRGAStringNode creates a new RGA string node.
func NewRGAStringNode(id common.LogicalTimestamp) *RGAStringNode {
	return &RGAStringNode{
		NodeId:       id,
		NodeElements: make([]*RGAElement, 0),
	}
}

// ID returns the unique identifier of the node.
func (n *RGAStringNode) ID() common.LogicalTimestamp {
	return n.NodeId
}

// Type returns the type of the node.
func (n *RGAStringNode) Type() common.NodeType {
	return common.NodeTypeStr
}

// Value returns the value of the node.
func (n *RGAStringNode) Value() interface{} {
	return n.String()
}

// Length returns the number of visible characters.
func (n *RGAStringNode) Length() int {
	count := 0
	for _, elem := range n.NodeElements {
		if !elem.ElemDeleted {
			count++
		}
	}
	return count
}

// String returns the visible text of the node.
func (n *RGAStringNode) String() string {
	var sb strings.Builder
	for _, elem := range n.NodeElements {
		if elem.ElemDeleted {
			continue
		}
		if s, ok := elem.ElemValue.(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// Insert inserts value after the element identified by afterID. The run of
// characters receives consecutive IDs starting at id. Insertion at the head
// uses the document root ID as afterID.
func (n *RGAStringNode) Insert(afterID, id common.LogicalTimestamp, value string) bool {
	runes := []rune(value)
	run := make([]*RGAElement, len(runes))
	for i, r := range runes {
		run[i] = &RGAElement{
			ElemID:    id.Increment(uint64(i)),
			ElemValue: string(r),
		}
	}

	elems, ok := rgaInsert(n.NodeElements, afterID, run)
	if !ok {
		return false
	}
	n.NodeElements = elems
	return true
}

// Delete tombstones all characters between startID and endID inclusive.
func (n *RGAStringNode) Delete(startID, endID common.LogicalTimestamp) bool {
	return rgaDeleteRange(n.NodeElements, startID, endID)
}

// VisibleIDs returns the element IDs of the visible characters in order.
func (n *RGAStringNode) VisibleIDs() []common.LogicalTimestamp {
	ids := make([]common.LogicalTimestamp, 0, len(n.NodeElements))
	for _, elem := range n.NodeElements {
		if !elem.ElemDeleted {
			ids = append(ids, elem.ElemID)
		}
	}
	return ids
}

// LastID returns the ID of the last element, tombstoned or not, so a caller
// can append after the current end of the sequence. The document root ID is
// returned for an empty node.
func (n *RGAStringNode) LastID() common.LogicalTimestamp {
	if len(n.NodeElements) == 0 {
		return common.RootID
	}
	return n.NodeElements[len(n.NodeElements)-1].ElemID
}

// MarshalJSON returns a JSON representation of the node.
func (n *RGAStringNode) MarshalJSON() ([]byte, error) {
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
func (n *RGAStringNode) UnmarshalJSON(data []byte) error {
	type jsonNode struct {
		Type     string                  `json:"type"`
		ID       common.LogicalTimestamp `json:"id"`
		Elements []*RGAElement           `json:"elements,omitempty"`
	}

	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}

	if node.Type != string(common.NodeTypeStr) {
		return common.ErrInvalidNodeType{Type: node.Type}
	}

	n.NodeId = node.ID
	n.NodeElements = node.Elements
	if n.NodeElements == nil {
		n.NodeElements = make([]*RGAElement, 0)
	}
	return nil
}
