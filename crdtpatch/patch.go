package crdtpatch

import (
	"encoding/json"

	"github.com/pkg/errors"

	"roomsync/common"
	"roomsync/crdt"
)

// Patch is an ordered set of operations applied and broadcast as one unit.
// Structural mutations that must never be observed half-applied (a file-tree
// node plus its parent link, for example) are expressed as a single patch.
type Patch struct {
	// id is the ID of the patch.
	id common.LogicalTimestamp

	// metadata is optional custom metadata.
	metadata map[string]interface{}

	// operations is the list of operations in the patch.
	operations []Operation
}

// NewPatch creates a new patch.
func NewPatch(id common.LogicalTimestamp) *Patch {
	return &Patch{
		id:         id,
		metadata:   make(map[string]interface{}),
		operations: make([]Operation, 0),
	}
}

// ID returns the ID of the patch.
func (p *Patch) ID() common.LogicalTimestamp {
	return p.id
}

// Metadata returns the metadata of the patch.
func (p *Patch) Metadata() map[string]interface{} {
	return p.metadata
}

// SetMetadata sets the metadata of the patch.
func (p *Patch) SetMetadata(metadata map[string]interface{}) {
	p.metadata = metadata
}

// Operations returns the operations in the patch.
func (p *Patch) Operations() []Operation {
	return p.operations
}

// AddOperation adds an operation to the patch.
func (p *Patch) AddOperation(op Operation) {
	p.operations = append(p.operations, op)
}

// Apply applies the patch to the document as one unit: either every
// operation lands or the document is left exactly as it was. Operations may
// target nodes created earlier in the same patch, so a failure cannot be
// detected up front; the document is restored from its pre-patch encoding
// instead. Every operation ID is observed on the document clock, even for
// no-op replays, so local timestamps stay ahead of everything this replica
// has seen.
func (p *Patch) Apply(doc *crdt.Document) error {
	if len(p.operations) == 0 {
		return nil
	}

	before, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to capture document state")
	}

	for _, op := range p.operations {
		doc.Observe(op.OpID().Increment(op.Span() - 1))
		if err := op.Apply(doc); err != nil {
			if restoreErr := json.Unmarshal(before, doc); restoreErr != nil {
				return errors.Wrap(restoreErr, "failed to restore document state")
			}
			return errors.Wrap(err, "failed to apply operation")
		}
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (p *Patch) MarshalJSON() ([]byte, error) {
	type wirePatch struct {
		ID       common.LogicalTimestamp `json:"id"`
		Metadata map[string]interface{}  `json:"meta,omitempty"`
		Ops      []json.RawMessage       `json:"ops"`
	}

	ops := make([]json.RawMessage, len(p.operations))
	for i, op := range p.operations {
		opJSON, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		ops[i] = opJSON
	}

	return json.Marshal(wirePatch{
		ID:       p.id,
		Metadata: p.metadata,
		Ops:      ops,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var patch struct {
		ID       common.LogicalTimestamp `json:"id"`
		Metadata map[string]interface{}  `json:"meta,omitempty"`
		Ops      []json.RawMessage       `json:"ops"`
	}

	if err := json.Unmarshal(data, &patch); err != nil {
		return err
	}

	p.id = patch.ID
	p.metadata = patch.Metadata
	if p.metadata == nil {
		p.metadata = make(map[string]interface{})
	}

	p.operations = make([]Operation, len(patch.Ops))
	for i, opJSON := range patch.Ops {
		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(opJSON, &header); err != nil {
			return err
		}

		op := MakeOperation(common.OperationType(header.Op))
		if op == nil {
			return common.ErrInvalidOperationType{Type: header.Op}
		}

		if err := json.Unmarshal(opJSON, op); err != nil {
			return err
		}
		p.operations[i] = op
	}

	return nil
}

// Decode parses an encoded patch.
func Decode(data []byte) (*Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode patch")
	}
	return &p, nil
}
