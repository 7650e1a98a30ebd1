// Package filetree maintains filesystem-like addressing over the room
// document's flat node map and upholds the forest invariant across
// structural mutations.
package filetree

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"roomsync/common"
	"roomsync/crdtpatch"
	"roomsync/roomdoc"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Node is one entry of the virtual file tree.
type Node struct {
	ID       string
	Name     string
	ParentID string
	Kind     Kind
	Children []string
	Content  string
}

// Index provides path resolution and structural mutation over the `files`
// map field. Every mutation commits as a single atomic patch so no observer
// sees a half-linked node.
type Index struct {
	doc *roomdoc.RoomDocument
}

// NewIndex creates an index over the given room document.
func NewIndex(doc *roomdoc.RoomDocument) *Index {
	return &Index{doc: doc}
}

// splitPath normalizes a path into its segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// record is the raw map form a node is replicated as.
func (n *Node) record() map[string]interface{} {
	children := make([]interface{}, len(n.Children))
	for i, id := range n.Children {
		children[i] = id
	}
	rec := map[string]interface{}{
		"name":   n.Name,
		"parent": n.ParentID,
		"kind":   string(n.Kind),
	}
	if n.Kind == KindFolder {
		rec["children"] = children
	}
	if n.Content != "" {
		rec["content"] = n.Content
	}
	return rec
}

// decodeNode parses a replicated node record.
func decodeNode(id string, value interface{}) *Node {
	rec, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	node := &Node{ID: id}
	node.Name, _ = rec["name"].(string)
	parent, _ := rec["parent"].(string)
	node.ParentID = parent
	if kind, ok := rec["kind"].(string); ok {
		node.Kind = Kind(kind)
	}
	node.Content, _ = rec["content"].(string)
	if raw, ok := rec["children"].([]interface{}); ok {
		node.Children = make([]string, 0, len(raw))
		for _, child := range raw {
			if childID, ok := child.(string); ok {
				node.Children = append(node.Children, childID)
			}
		}
	}
	return node
}

// get returns the node with the given ID, or nil.
func (ix *Index) get(id string) *Node {
	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil
	}
	value := files.Get(id)
	if value == nil {
		return nil
	}
	return decodeNode(id, value.Value())
}

// childByName finds the child of parentID (or a root when parentID is empty)
// with the given name. When concurrent edits produced duplicate names the
// earliest inserted node wins, so resolution is deterministic on every
// replica.
func (ix *Index) childByName(parentID, name string) *Node {
	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil
	}

	var best *Node
	var bestTS common.LogicalTimestamp
	for _, id := range files.Keys() {
		node := ix.get(id)
		if node == nil || node.ParentID != parentID || node.Name != name {
			continue
		}
		ts := files.Timestamp(id)
		if best == nil || ts.Compare(bestTS) < 0 {
			best = node
			bestTS = ts
		}
	}
	return best
}

// Resolve walks the path from the roots and returns the addressed node.
func (ix *Index) Resolve(path string) (*Node, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, common.ErrPathNotFound{Path: path}
	}

	parentID := ""
	var node *Node
	for _, segment := range segments {
		node = ix.childByName(parentID, segment)
		if node == nil {
			return nil, common.ErrPathNotFound{Path: path}
		}
		parentID = node.ID
	}
	return node, nil
}

// List returns every node of the tree.
func (ix *Index) List() []*Node {
	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil
	}
	nodes := make([]*Node, 0, files.Len())
	for _, id := range files.Keys() {
		if node := ix.get(id); node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Create allocates a new node at path and links it under its parent in one
// atomic patch. The parent path must resolve to a folder or be empty (root).
func (ix *Index) Create(path string, kind Kind, content string) (*Node, *crdtpatch.Patch, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, nil, common.ErrTreeViolation{Message: "empty path"}
	}
	name := segments[len(segments)-1]

	var parent *Node
	if len(segments) > 1 {
		parentPath := strings.Join(segments[:len(segments)-1], "/")
		resolved, err := ix.Resolve(parentPath)
		if err != nil {
			return nil, nil, err
		}
		if resolved.Kind != KindFolder {
			return nil, nil, common.ErrTreeViolation{Message: fmt.Sprintf("parent %q is not a folder", parentPath)}
		}
		parent = resolved
	}

	parentID := ""
	if parent != nil {
		parentID = parent.ID
	}
	if ix.childByName(parentID, name) != nil {
		return nil, nil, common.ErrTreeViolation{Message: fmt.Sprintf("%q already exists", path)}
	}

	node := &Node{
		ID:       uuid.NewString(),
		Name:     name,
		ParentID: parentID,
		Kind:     kind,
		Content:  content,
	}
	if kind == KindFolder {
		node.Children = []string{}
	}

	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil, nil, err
	}

	b := ix.doc.Builder()
	b.SetKey(files.ID(), node.ID, node.record())
	if parent != nil {
		parent.Children = append(parent.Children, node.ID)
		b.SetKey(files.ID(), parent.ID, parent.record())
	}

	patch, err := ix.commit(b)
	if err != nil {
		return nil, nil, err
	}
	return node, patch, nil
}

// Rename changes a node's name. Sibling name collisions are rejected.
func (ix *Index) Rename(path, newName string) (*crdtpatch.Patch, error) {
	if newName == "" || strings.Contains(newName, "/") {
		return nil, common.ErrTreeViolation{Message: fmt.Sprintf("invalid name %q", newName)}
	}

	node, err := ix.Resolve(path)
	if err != nil {
		return nil, err
	}
	if existing := ix.childByName(node.ParentID, newName); existing != nil && existing.ID != node.ID {
		return nil, common.ErrTreeViolation{Message: fmt.Sprintf("%q already exists", newName)}
	}

	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil, err
	}

	node.Name = newName
	b := ix.doc.Builder()
	b.SetKey(files.ID(), node.ID, node.record())
	return ix.commit(b)
}

// Move reparents a node. The destination must be a folder (or "" / "/" for
// the root) and must not be the node itself or one of its descendants.
func (ix *Index) Move(path, newParentPath string) (*crdtpatch.Patch, error) {
	node, err := ix.Resolve(path)
	if err != nil {
		return nil, err
	}

	var newParent *Node
	newParentID := ""
	if len(splitPath(newParentPath)) > 0 {
		newParent, err = ix.Resolve(newParentPath)
		if err != nil {
			return nil, err
		}
		if newParent.Kind != KindFolder {
			return nil, common.ErrTreeViolation{Message: fmt.Sprintf("destination %q is not a folder", newParentPath)}
		}
		newParentID = newParent.ID
	}

	if newParentID == node.ParentID {
		return nil, nil
	}
	for cursor := newParent; cursor != nil; cursor = ix.get(cursor.ParentID) {
		if cursor.ID == node.ID {
			return nil, common.ErrTreeViolation{Message: "cannot move a folder into itself"}
		}
	}
	if ix.childByName(newParentID, node.Name) != nil {
		return nil, common.ErrTreeViolation{Message: fmt.Sprintf("%q already exists at destination", node.Name)}
	}

	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil, err
	}

	b := ix.doc.Builder()

	if oldParent := ix.get(node.ParentID); oldParent != nil {
		oldParent.Children = removeID(oldParent.Children, node.ID)
		b.SetKey(files.ID(), oldParent.ID, oldParent.record())
	}
	if newParent != nil {
		newParent.Children = append(newParent.Children, node.ID)
		b.SetKey(files.ID(), newParent.ID, newParent.record())
	}
	node.ParentID = newParentID
	b.SetKey(files.ID(), node.ID, node.record())

	return ix.commit(b)
}

// Delete removes a node and unlinks it from its parent. Deleting a folder
// that still has children is rejected; callers must empty it first.
func (ix *Index) Delete(path string) (*crdtpatch.Patch, error) {
	node, err := ix.Resolve(path)
	if err != nil {
		return nil, err
	}
	if node.Kind == KindFolder && len(node.Children) > 0 {
		return nil, common.ErrTreeViolation{Message: fmt.Sprintf("folder %q is not empty", path)}
	}

	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil, err
	}

	b := ix.doc.Builder()
	b.DeleteKey(files.ID(), node.ID)
	if parent := ix.get(node.ParentID); parent != nil {
		parent.Children = removeID(parent.Children, node.ID)
		b.SetKey(files.ID(), parent.ID, parent.record())
	}
	return ix.commit(b)
}

// SetContent replaces the stored content of a file node.
func (ix *Index) SetContent(path, content string) (*crdtpatch.Patch, error) {
	node, err := ix.Resolve(path)
	if err != nil {
		return nil, err
	}
	if node.Kind != KindFile {
		return nil, common.ErrTreeViolation{Message: fmt.Sprintf("%q is not a file", path)}
	}

	files, err := ix.doc.MapField(roomdoc.FieldFiles)
	if err != nil {
		return nil, err
	}

	node.Content = content
	b := ix.doc.Builder()
	b.SetKey(files.ID(), node.ID, node.record())
	return ix.commit(b)
}

// Validate checks the forest invariant: every parent link matches the
// parent's children set, referenced nodes exist, and no cycles are
// reachable. Used by tests and by callers that want a consistency check.
func (ix *Index) Validate() error {
	nodes := make(map[string]*Node)
	for _, node := range ix.List() {
		nodes[node.ID] = node
	}

	for id, node := range nodes {
		if node.ParentID != "" {
			parent, ok := nodes[node.ParentID]
			if !ok {
				return common.ErrTreeViolation{Message: fmt.Sprintf("node %s references missing parent %s", id, node.ParentID)}
			}
			if !containsID(parent.Children, id) {
				return common.ErrTreeViolation{Message: fmt.Sprintf("parent %s does not list child %s", parent.ID, id)}
			}
		}
		for _, childID := range node.Children {
			child, ok := nodes[childID]
			if !ok {
				return common.ErrTreeViolation{Message: fmt.Sprintf("node %s lists missing child %s", id, childID)}
			}
			if child.ParentID != id {
				return common.ErrTreeViolation{Message: fmt.Sprintf("child %s does not point back to %s", childID, id)}
			}
		}
	}

	// Cycle check: walking parent links from any node must terminate.
	for id := range nodes {
		seen := make(map[string]bool)
		for cursor := nodes[id]; cursor != nil; cursor = nodes[cursor.ParentID] {
			if seen[cursor.ID] {
				return common.ErrTreeViolation{Message: fmt.Sprintf("cycle through node %s", cursor.ID)}
			}
			seen[cursor.ID] = true
			if cursor.ParentID == "" {
				break
			}
		}
	}

	return nil
}

// commit flushes and applies the pending mutation.
func (ix *Index) commit(b *crdtpatch.Builder) (*crdtpatch.Patch, error) {
	patch := b.Flush()
	if patch == nil {
		return nil, nil
	}
	if err := patch.Apply(ix.doc.Document()); err != nil {
		return nil, err
	}
	return patch, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
