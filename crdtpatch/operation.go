package crdtpatch

import (
	"encoding/json"

	"roomsync/common"
	"roomsync/crdt"
)

// Operation is a single CRDT mutation. Operations are deterministic and
// tolerate duplicate delivery: applying the same operation twice leaves the
// document unchanged.
type Operation interface {
	// Type returns the operation type.
	Type() common.OperationType

	// OpID returns the ID of the operation.
	OpID() common.LogicalTimestamp

	// Span returns the number of consecutive timestamps the operation
	// consumes, 1 for most operations.
	Span() uint64

	// Apply applies the operation to the document.
	Apply(doc *crdt.Document) error
}

// MakeOperation creates an empty operation of the given type, used when
// decoding patches.
func MakeOperation(opType common.OperationType) Operation {
	switch opType {
	case common.OperationTypeNew:
		return &NewOperation{}
	case common.OperationTypeIns:
		return &InsOperation{}
	case common.OperationTypeDel:
		return &DelOperation{}
	case common.OperationTypeNop:
		return &NopOperation{}
	default:
		return nil
	}
}

// NewOperation creates a new CRDT node.
type NewOperation struct {
	ID       common.LogicalTimestamp `json:"id"`
	NodeType common.NodeType         `json:"type"`
	Value    interface{}             `json:"value,omitempty"`
}

// Type returns the operation type.
func (op *NewOperation) Type() common.OperationType { return common.OperationTypeNew }

// OpID returns the ID of the operation.
func (op *NewOperation) OpID() common.LogicalTimestamp { return op.ID }

// Span returns the timestamp span of the operation.
func (op *NewOperation) Span() uint64 { return 1 }

// Apply creates the node unless a node with the same ID already exists.
func (op *NewOperation) Apply(doc *crdt.Document) error {
	if doc.HasNode(op.ID) {
		return nil
	}

	var node crdt.Node
	switch op.NodeType {
	case common.NodeTypeCon:
		node = crdt.NewConstantNode(op.ID, op.Value)
	case common.NodeTypeVal:
		node = crdt.NewLWWValueNode(op.ID, op.Value)
	case common.NodeTypeObj:
		node = crdt.NewLWWObjectNode(op.ID)
	case common.NodeTypeStr:
		node = crdt.NewRGAStringNode(op.ID)
	case common.NodeTypeArr:
		node = crdt.NewRGAArrayNode(op.ID)
	default:
		return common.ErrInvalidNodeType{Type: string(op.NodeType)}
	}

	doc.AddNode(node)
	return nil
}

// MarshalJSON returns a JSON representation of the operation.
func (op *NewOperation) MarshalJSON() ([]byte, error) {
	type alias NewOperation
	return json.Marshal(struct {
		Op string `json:"op"`
		*alias
	}{Op: string(op.Type()), alias: (*alias)(op)})
}

// InsOperation inserts into or updates an existing node. The exact meaning
// depends on the target node type:
//
//   - root: replace the document value with the referenced node
//   - obj:  set Key to the referenced node or a constant wrapping Value
//   - val:  replace the register value if the operation is newer
//   - str:  insert the string Value after element After
//   - arr:  insert Value after element After
type InsOperation struct {
	ID       common.LogicalTimestamp  `json:"id"`
	TargetID common.LogicalTimestamp  `json:"target"`
	Key      string                   `json:"key,omitempty"`
	Value    interface{}              `json:"value,omitempty"`
	NodeRef  *common.LogicalTimestamp `json:"ref,omitempty"`
	After    common.LogicalTimestamp  `json:"after,omitempty"`
}

// Type returns the operation type.
func (op *InsOperation) Type() common.OperationType { return common.OperationTypeIns }

// OpID returns the ID of the operation.
func (op *InsOperation) OpID() common.LogicalTimestamp { return op.ID }

// Span returns the timestamp span of the operation. String inserts consume
// one timestamp per character.
func (op *InsOperation) Span() uint64 {
	if s, ok := op.Value.(string); ok {
		if n := len([]rune(s)); n > 1 {
			return uint64(n)
		}
	}
	return 1
}

// Apply applies the operation to the document.
func (op *InsOperation) Apply(doc *crdt.Document) error {
	target, err := doc.GetNode(op.TargetID)
	if err != nil {
		return err
	}

	switch node := target.(type) {
	case *crdt.RootNode:
		value, err := op.valueNode(doc)
		if err != nil {
			return err
		}
		node.SetValue(op.ID, value)

	case *crdt.LWWObjectNode:
		if op.Key == "" {
			return common.ErrInvalidOperation{Message: "'ins' on object requires a key"}
		}
		value, err := op.valueNode(doc)
		if err != nil {
			return err
		}
		node.Set(op.Key, op.ID, value)

	case *crdt.LWWValueNode:
		node.Set(op.ID, op.Value)

	case *crdt.RGAStringNode:
		s, ok := op.Value.(string)
		if !ok {
			return common.ErrInvalidOperation{Message: "'ins' on string requires a string value"}
		}
		if !node.Insert(op.After, op.ID, s) {
			return common.ErrInvalidOperation{Message: "string insert anchor not found"}
		}

	case *crdt.RGAArrayNode:
		if !node.Insert(op.After, op.ID, op.Value) {
			return common.ErrInvalidOperation{Message: "array insert anchor not found"}
		}

	default:
		return common.ErrInvalidOperation{Message: "unsupported node type for 'ins' operation"}
	}

	return nil
}

// valueNode resolves the operation's value: either a reference to a node
// created earlier in the patch, or a fresh constant wrapping a primitive.
func (op *InsOperation) valueNode(doc *crdt.Document) (crdt.Node, error) {
	if op.NodeRef != nil {
		return doc.GetNode(*op.NodeRef)
	}
	node := crdt.NewConstantNode(op.ID, op.Value)
	doc.AddNode(node)
	return node, nil
}

// MarshalJSON returns a JSON representation of the operation.
func (op *InsOperation) MarshalJSON() ([]byte, error) {
	type alias InsOperation
	return json.Marshal(struct {
		Op string `json:"op"`
		*alias
	}{Op: string(op.Type()), alias: (*alias)(op)})
}

// DelOperation deletes contents from an existing node: a key for objects, an
// element range for strings and arrays.
type DelOperation struct {
	ID       common.LogicalTimestamp `json:"id"`
	TargetID common.LogicalTimestamp `json:"target"`
	Key      string                  `json:"key,omitempty"`
	StartID  common.LogicalTimestamp `json:"start,omitempty"`
	EndID    common.LogicalTimestamp `json:"end,omitempty"`
}

// Type returns the operation type.
func (op *DelOperation) Type() common.OperationType { return common.OperationTypeDel }

// OpID returns the ID of the operation.
func (op *DelOperation) OpID() common.LogicalTimestamp { return op.ID }

// Span returns the timestamp span of the operation.
func (op *DelOperation) Span() uint64 { return 1 }

// Apply applies the operation to the document.
func (op *DelOperation) Apply(doc *crdt.Document) error {
	target, err := doc.GetNode(op.TargetID)
	if err != nil {
		return err
	}

	switch node := target.(type) {
	case *crdt.LWWObjectNode:
		if op.Key == "" {
			return common.ErrInvalidOperation{Message: "'del' on object requires a key"}
		}
		node.Delete(op.Key, op.ID)

	case *crdt.RGAStringNode:
		node.Delete(op.StartID, op.EndID)

	case *crdt.RGAArrayNode:
		end := op.EndID
		if end.IsZero() {
			end = op.StartID
		}
		node.DeleteRange(op.StartID, end)

	default:
		return common.ErrInvalidOperation{Message: "unsupported node type for 'del' operation"}
	}

	return nil
}

// MarshalJSON returns a JSON representation of the operation.
func (op *DelOperation) MarshalJSON() ([]byte, error) {
	type alias DelOperation
	return json.Marshal(struct {
		Op string `json:"op"`
		*alias
	}{Op: string(op.Type()), alias: (*alias)(op)})
}

// NopOperation consumes timestamps without mutating the document.
type NopOperation struct {
	ID        common.LogicalTimestamp `json:"id"`
	SpanValue uint64                  `json:"len,omitempty"`
}

// Type returns the operation type.
func (op *NopOperation) Type() common.OperationType { return common.OperationTypeNop }

// OpID returns the ID of the operation.
func (op *NopOperation) OpID() common.LogicalTimestamp { return op.ID }

// Span returns the timestamp span of the operation.
func (op *NopOperation) Span() uint64 {
	if op.SpanValue > 1 {
		return op.SpanValue
	}
	return 1
}

// Apply does nothing.
func (op *NopOperation) Apply(doc *crdt.Document) error { return nil }

// MarshalJSON returns a JSON representation of the operation.
func (op *NopOperation) MarshalJSON() ([]byte, error) {
	type alias NopOperation
	return json.Marshal(struct {
		Op string `json:"op"`
		*alias
	}{Op: string(op.Type()), alias: (*alias)(op)})
}
