package crdtpatch

import (
	"roomsync/common"
	"roomsync/crdt"
)

// Builder accumulates operations for one atomic patch, drawing timestamps
// from the document's logical clock.
type Builder struct {
	doc *crdt.Document
	ops []Operation
}

// NewBuilder creates a builder for the given document.
func NewBuilder(doc *crdt.Document) *Builder {
	return &Builder{
		doc: doc,
		ops: make([]Operation, 0),
	}
}

// NewObject adds an operation creating a LWW-Object node and returns its ID.
func (b *Builder) NewObject() common.LogicalTimestamp {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &NewOperation{ID: id, NodeType: common.NodeTypeObj})
	return id
}

// NewString adds an operation creating an RGA-String node and returns its ID.
func (b *Builder) NewString() common.LogicalTimestamp {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &NewOperation{ID: id, NodeType: common.NodeTypeStr})
	return id
}

// NewArray adds an operation creating an RGA-Array node and returns its ID.
func (b *Builder) NewArray() common.LogicalTimestamp {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &NewOperation{ID: id, NodeType: common.NodeTypeArr})
	return id
}

// SetRoot adds an operation pointing the document root at the given node.
func (b *Builder) SetRoot(ref common.LogicalTimestamp) {
	id := b.doc.NextTimestamp()
	nodeRef := ref
	b.ops = append(b.ops, &InsOperation{
		ID:       id,
		TargetID: common.RootID,
		NodeRef:  &nodeRef,
	})
}

// SetKey adds an operation setting an object key to a constant value.
func (b *Builder) SetKey(target common.LogicalTimestamp, key string, value interface{}) {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &InsOperation{
		ID:       id,
		TargetID: target,
		Key:      key,
		Value:    value,
	})
}

// SetKeyNode adds an operation setting an object key to a previously created
// node.
func (b *Builder) SetKeyNode(target common.LogicalTimestamp, key string, ref common.LogicalTimestamp) {
	id := b.doc.NextTimestamp()
	nodeRef := ref
	b.ops = append(b.ops, &InsOperation{
		ID:       id,
		TargetID: target,
		Key:      key,
		NodeRef:  &nodeRef,
	})
}

// DeleteKey adds an operation tombstoning an object key.
func (b *Builder) DeleteKey(target common.LogicalTimestamp, key string) {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &DelOperation{
		ID:       id,
		TargetID: target,
		Key:      key,
	})
}

// InsertText adds an operation inserting text after the given element.
func (b *Builder) InsertText(target, after common.LogicalTimestamp, text string) {
	if text == "" {
		return
	}
	id := b.doc.NextTimestampSpan(uint64(len([]rune(text))))
	b.ops = append(b.ops, &InsOperation{
		ID:       id,
		TargetID: target,
		After:    after,
		Value:    text,
	})
}

// DeleteText adds an operation tombstoning a character range.
func (b *Builder) DeleteText(target, startID, endID common.LogicalTimestamp) {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &DelOperation{
		ID:       id,
		TargetID: target,
		StartID:  startID,
		EndID:    endID,
	})
}

// InsertElement adds an operation inserting an array element after the given
// element ID.
func (b *Builder) InsertElement(target, after common.LogicalTimestamp, value interface{}) common.LogicalTimestamp {
	id := b.doc.NextTimestamp()
	b.ops = append(b.ops, &InsOperation{
		ID:       id,
		TargetID: target,
		After:    after,
		Value:    value,
	})
	return id
}

// Len returns the number of pending operations.
func (b *Builder) Len() int {
	return len(b.ops)
}

// Flush builds a patch from the pending operations and resets the builder.
// It returns nil when no operations are pending.
func (b *Builder) Flush() *Patch {
	if len(b.ops) == 0 {
		return nil
	}

	patch := NewPatch(b.ops[0].OpID())
	for _, op := range b.ops {
		patch.AddOperation(op)
	}
	b.ops = make([]Operation, 0)
	return patch
}
