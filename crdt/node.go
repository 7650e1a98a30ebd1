package crdt

import (
	"encoding/json"

	"roomsync/common"
)

// Node is the interface implemented by all CRDT node types.
type Node interface {
	// ID returns the unique identifier of the node.
	ID() common.LogicalTimestamp

	// Type returns the type of the node.
	Type() common.NodeType

	// Value returns a plain JSON view of the node's current contents.
	Value() interface{}
}

// RGAElement is a single element of a replicated growable array.
// Deleted elements remain as tombstones so that concurrent and duplicate
// deliveries of the same operations merge to identical state.
type RGAElement struct {
	ElemID      common.LogicalTimestamp `json:"id"`
	ElemValue   interface{}             `json:"value"`
	ElemDeleted bool                    `json:"deleted,omitempty"`
}

// rgaInsert splices run (one or more elements sharing a causal anchor) into
// elems after the element identified by afterID. Concurrent inserts at the
// same anchor are ordered by descending element ID, which makes the result
// independent of delivery order. If the run's first element is already
// present the call is a no-op (duplicate delivery).
//
// The second return value is false when afterID refers to no live or dead
// element and is not the document root.
func rgaInsert(elems []*RGAElement, afterID common.LogicalTimestamp, run []*RGAElement) ([]*RGAElement, bool) {
	if len(run) == 0 {
		return elems, true
	}

	newID := run[0].ElemID
	for _, elem := range elems {
		if elem.ElemID.Compare(newID) == 0 {
			return elems, true
		}
	}

	pos := -1
	if afterID.Compare(common.RootID) != 0 {
		for i, elem := range elems {
			if elem.ElemID.Compare(afterID) == 0 {
				pos = i
				break
			}
		}
		if pos == -1 {
			return elems, false
		}
	}

	// RGA ordering rule: skip over elements that were inserted at the same
	// anchor by concurrent operations with a higher ID.
	insertAt := pos + 1
	for insertAt < len(elems) && elems[insertAt].ElemID.Compare(newID) > 0 {
		insertAt++
	}

	out := make([]*RGAElement, 0, len(elems)+len(run))
	out = append(out, elems[:insertAt]...)
	out = append(out, run...)
	out = append(out, elems[insertAt:]...)
	return out, true
}

// rgaDeleteRange tombstones every element between startID and endID
// inclusive. Tombstoning an already-deleted element is a no-op, so the
// operation tolerates duplicate delivery.
func rgaDeleteRange(elems []*RGAElement, startID, endID common.LogicalTimestamp) bool {
	startPos := -1
	endPos := -1

	for i, elem := range elems {
		if elem.ElemID.Compare(startID) == 0 {
			startPos = i
		}
		if elem.ElemID.Compare(endID) == 0 {
			endPos = i
		}
		if startPos != -1 && endPos != -1 {
			break
		}
	}

	if startPos == -1 || endPos == -1 || startPos > endPos {
		return false
	}

	for i := startPos; i <= endPos; i++ {
		elems[i].ElemDeleted = true
	}
	return true
}

// decodeNode parses a JSON-encoded node of any type by dispatching on its
// "type" field.
func decodeNode(data []byte) (Node, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}

	var node Node
	switch common.NodeType(header.Type) {
	case common.NodeTypeRoot:
		node = &RootNode{}
	case common.NodeTypeCon:
		node = &ConstantNode{}
	case common.NodeTypeVal:
		node = &LWWValueNode{}
	case common.NodeTypeObj:
		node = &LWWObjectNode{}
	case common.NodeTypeStr:
		node = &RGAStringNode{}
	case common.NodeTypeArr:
		node = &RGAArrayNode{}
	default:
		return nil, common.ErrInvalidNodeType{Type: header.Type}
	}

	if err := json.Unmarshal(data, node); err != nil {
		return nil, err
	}
	return node, nil
}
