// Package roomdoc defines the named-field layout of a room's replicated
// document and the typed mutation helpers the room engine uses on it.
package roomdoc

import (
	"encoding/json"
	"fmt"

	"roomsync/common"
	"roomsync/crdt"
	"roomsync/crdtpatch"
)

// Named fields of the room document.
const (
	// Text fields (sequence CRDTs).
	FieldCode         = "code"
	FieldLanguage     = "language"
	FieldStatus       = "status"
	FieldInstructions = "instructions"

	// Map fields (last-writer-wins per key).
	FieldFiles     = "files"
	FieldAIConfig  = "aiConfig"
	FieldExecution = "execution"

	// Array fields (append-biased sequences).
	FieldChat             = "chat"
	FieldTrackedUsers     = "trackedUsers"
	FieldExecutionHistory = "executionHistory"
)

var textFields = []string{FieldCode, FieldLanguage, FieldStatus, FieldInstructions}
var mapFields = []string{FieldFiles, FieldAIConfig, FieldExecution}
var arrayFields = []string{FieldChat, FieldTrackedUsers, FieldExecutionHistory}

// RoomDocument wraps a CRDT document with the room's field layout.
type RoomDocument struct {
	doc *crdt.Document
}

// New creates an empty, un-hydrated room document replica.
func New(sessionID common.SessionID) *RoomDocument {
	return &RoomDocument{doc: crdt.NewDocument(sessionID)}
}

// Document returns the underlying CRDT document.
func (r *RoomDocument) Document() *crdt.Document {
	return r.doc
}

// Bootstrap builds and applies the default-initialization patch: the root
// object, every named field, and the initial language and status text. The
// returned patch is what a cold-started room persists and replays.
func (r *RoomDocument) Bootstrap(language, status string) (*crdtpatch.Patch, error) {
	b := crdtpatch.NewBuilder(r.doc)

	root := b.NewObject()
	fieldIDs := make(map[string]common.LogicalTimestamp, len(textFields)+len(mapFields)+len(arrayFields))

	for _, name := range textFields {
		id := b.NewString()
		b.SetKeyNode(root, name, id)
		fieldIDs[name] = id
	}
	for _, name := range mapFields {
		id := b.NewObject()
		b.SetKeyNode(root, name, id)
		fieldIDs[name] = id
	}
	for _, name := range arrayFields {
		id := b.NewArray()
		b.SetKeyNode(root, name, id)
		fieldIDs[name] = id
	}

	b.SetRoot(root)
	b.InsertText(fieldIDs[FieldLanguage], common.RootID, language)
	b.InsertText(fieldIDs[FieldStatus], common.RootID, status)

	exec := fieldIDs[FieldExecution]
	b.SetKey(exec, "isRunning", false)
	b.SetKey(exec, "output", "")
	b.SetKey(exec, "error", "")
	b.SetKey(exec, "timestamp", int64(0))

	return r.commit(b)
}

// Hydrate loads a persisted snapshot into this replica.
func (r *RoomDocument) Hydrate(snapshot []byte) error {
	if err := json.Unmarshal(snapshot, r.doc); err != nil {
		return fmt.Errorf("failed to hydrate document: %w", err)
	}
	return nil
}

// Snapshot serializes the full replicated state, tombstones included.
func (r *RoomDocument) Snapshot() ([]byte, error) {
	data, err := json.Marshal(r.doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return data, nil
}

// ApplyPatch merges a delta into this replica.
func (r *RoomDocument) ApplyPatch(patch *crdtpatch.Patch) error {
	return patch.Apply(r.doc)
}

// ApplyEncodedPatch decodes and merges a delta received from the wire.
func (r *RoomDocument) ApplyEncodedPatch(data []byte) error {
	patch, err := crdtpatch.Decode(data)
	if err != nil {
		return err
	}
	return r.ApplyPatch(patch)
}

// Builder returns a patch builder over the underlying document.
func (r *RoomDocument) Builder() *crdtpatch.Builder {
	return crdtpatch.NewBuilder(r.doc)
}

// commit flushes the builder, applies the resulting patch locally and
// returns it for broadcast.
func (r *RoomDocument) commit(b *crdtpatch.Builder) (*crdtpatch.Patch, error) {
	patch := b.Flush()
	if patch == nil {
		return nil, nil
	}
	if err := patch.Apply(r.doc); err != nil {
		return nil, err
	}
	return patch, nil
}

// rootObject returns the top-level object node.
func (r *RoomDocument) rootObject() (*crdt.LWWObjectNode, error) {
	value := r.doc.Root().NodeValue
	obj, ok := value.(*crdt.LWWObjectNode)
	if !ok {
		return nil, common.ErrInvalidOperation{Message: "document has no root object"}
	}
	return obj, nil
}

// TextField returns the sequence node backing a text field.
func (r *RoomDocument) TextField(name string) (*crdt.RGAStringNode, error) {
	root, err := r.rootObject()
	if err != nil {
		return nil, err
	}
	node, ok := root.Get(name).(*crdt.RGAStringNode)
	if !ok {
		return nil, common.ErrInvalidOperation{Message: fmt.Sprintf("no text field %q", name)}
	}
	return node, nil
}

// MapField returns the LWW object node backing a map field.
func (r *RoomDocument) MapField(name string) (*crdt.LWWObjectNode, error) {
	root, err := r.rootObject()
	if err != nil {
		return nil, err
	}
	node, ok := root.Get(name).(*crdt.LWWObjectNode)
	if !ok {
		return nil, common.ErrInvalidOperation{Message: fmt.Sprintf("no map field %q", name)}
	}
	return node, nil
}

// ArrayField returns the sequence node backing an array field.
func (r *RoomDocument) ArrayField(name string) (*crdt.RGAArrayNode, error) {
	root, err := r.rootObject()
	if err != nil {
		return nil, err
	}
	node, ok := root.Get(name).(*crdt.RGAArrayNode)
	if !ok {
		return nil, common.ErrInvalidOperation{Message: fmt.Sprintf("no array field %q", name)}
	}
	return node, nil
}

// Text returns the visible contents of a text field, or "" when the field is
// missing (un-hydrated replica).
func (r *RoomDocument) Text(name string) string {
	node, err := r.TextField(name)
	if err != nil {
		return ""
	}
	return node.String()
}

// SetText replaces the whole contents of a text field as one atomic patch.
func (r *RoomDocument) SetText(name, text string) (*crdtpatch.Patch, error) {
	node, err := r.TextField(name)
	if err != nil {
		return nil, err
	}

	b := r.Builder()
	if len(node.NodeElements) > 0 {
		first := node.NodeElements[0].ElemID
		last := node.NodeElements[len(node.NodeElements)-1].ElemID
		b.DeleteText(node.ID(), first, last)
	}
	b.InsertText(node.ID(), common.RootID, text)
	return r.commit(b)
}

// AppendText appends to the end of a text field.
func (r *RoomDocument) AppendText(name, text string) (*crdtpatch.Patch, error) {
	node, err := r.TextField(name)
	if err != nil {
		return nil, err
	}

	b := r.Builder()
	b.InsertText(node.ID(), node.LastID(), text)
	return r.commit(b)
}

// SetMapKey sets one key of a map field.
func (r *RoomDocument) SetMapKey(field, key string, value interface{}) (*crdtpatch.Patch, error) {
	node, err := r.MapField(field)
	if err != nil {
		return nil, err
	}

	b := r.Builder()
	b.SetKey(node.ID(), key, value)
	return r.commit(b)
}

// SetMapKeys sets several keys of a map field in one atomic patch.
func (r *RoomDocument) SetMapKeys(field string, values map[string]interface{}) (*crdtpatch.Patch, error) {
	node, err := r.MapField(field)
	if err != nil {
		return nil, err
	}

	b := r.Builder()
	for key, value := range values {
		b.SetKey(node.ID(), key, value)
	}
	return r.commit(b)
}

// MapValue returns a plain view of a map field.
func (r *RoomDocument) MapValue(field string) map[string]interface{} {
	node, err := r.MapField(field)
	if err != nil {
		return map[string]interface{}{}
	}
	value, _ := node.Value().(map[string]interface{})
	return value
}

// Append appends a value to the end of an array field.
func (r *RoomDocument) Append(field string, value interface{}) (*crdtpatch.Patch, error) {
	node, err := r.ArrayField(field)
	if err != nil {
		return nil, err
	}

	b := r.Builder()
	b.InsertElement(node.ID(), node.LastID(), value)
	return r.commit(b)
}

// ArrayValue returns a plain view of an array field.
func (r *RoomDocument) ArrayValue(field string) []interface{} {
	node, err := r.ArrayField(field)
	if err != nil {
		return nil
	}
	value, _ := node.Value().([]interface{})
	return value
}
