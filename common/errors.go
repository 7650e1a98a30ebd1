package common

import (
	"fmt"
)

// ErrInvalidNodeType is returned when an invalid node type is encountered.
type ErrInvalidNodeType struct {
	Type string
}

func (e ErrInvalidNodeType) Error() string {
	return fmt.Sprintf("invalid node type: %s", e.Type)
}

// ErrInvalidOperationType is returned when an invalid operation type is encountered.
type ErrInvalidOperationType struct {
	Type string
}

func (e ErrInvalidOperationType) Error() string {
	return fmt.Sprintf("invalid operation type: %s", e.Type)
}

// ErrNodeNotFound is returned when a node with the specified ID is not found.
type ErrNodeNotFound struct {
	ID LogicalTimestamp
}

func (e ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node not found: %v", e.ID)
}

// ErrInvalidOperation is returned when an operation is invalid.
type ErrInvalidOperation struct {
	Message string
}

func (e ErrInvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Message)
}

// ErrRoomNotFound is returned when no metadata record exists for a room key.
// Hydration of such a room fails closed and pending attaches are rejected.
type ErrRoomNotFound struct {
	RoomKey string
}

func (e ErrRoomNotFound) Error() string {
	return fmt.Sprintf("room not found: %s", e.RoomKey)
}

// ErrPathNotFound is returned when a virtual file path cannot be resolved.
type ErrPathNotFound struct {
	Path string
}

func (e ErrPathNotFound) Error() string {
	return fmt.Sprintf("path not found: %s", e.Path)
}

// ErrTreeViolation is returned when a file-tree mutation would break the
// forest invariant. The mutation is rejected before any state changes.
type ErrTreeViolation struct {
	Message string
}

func (e ErrTreeViolation) Error() string {
	return fmt.Sprintf("file tree violation: %s", e.Message)
}
