// Package persist bounds the write rate against durable storage and hydrates
// rooms on cold start.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a room key.
// Hydration treats it as "run default initialization", not as a failure.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists opaque serialized documents keyed by room.
// Different rooms write to disjoint keys, so implementations need no
// cross-room coordination.
type SnapshotStore interface {
	// Save writes the snapshot for a room. Writing the same state twice is
	// harmless.
	Save(ctx context.Context, roomKey string, snapshot []byte) error

	// Load reads the snapshot for a room, or ErrSnapshotNotFound.
	Load(ctx context.Context, roomKey string) ([]byte, error)

	// Delete removes the snapshot for a room.
	Delete(ctx context.Context, roomKey string) error

	// Close releases the store's resources.
	Close() error
}

// MemorySnapshotStore keeps snapshots in process memory. Used in tests and
// single-node development setups.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]byte)}
}

// Save writes the snapshot for a room.
func (s *MemorySnapshotStore) Save(ctx context.Context, roomKey string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, len(snapshot))
	copy(data, snapshot)
	s.snapshots[roomKey] = data
	return nil
}

// Load reads the snapshot for a room.
func (s *MemorySnapshotStore) Load(ctx context.Context, roomKey string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.snapshots[roomKey]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes the snapshot for a room.
func (s *MemorySnapshotStore) Delete(ctx context.Context, roomKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, roomKey)
	return nil
}

// Close clears the store.
func (s *MemorySnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string][]byte)
	return nil
}

// FileSnapshotStore writes one snapshot file per room under a base
// directory.
type FileSnapshotStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileSnapshotStore creates the base directory if needed.
func NewFileSnapshotStore(basePath string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{basePath: basePath}, nil
}

func (s *FileSnapshotStore) path(roomKey string) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%s.json", roomKey))
}

// Save writes the snapshot for a room.
func (s *FileSnapshotStore) Save(ctx context.Context, roomKey string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path(roomKey), snapshot, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a room.
func (s *FileSnapshotStore) Load(ctx context.Context, roomKey string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(roomKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Delete removes the snapshot for a room.
func (s *FileSnapshotStore) Delete(ctx context.Context, roomKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(roomKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileSnapshotStore) Close() error {
	return nil
}
