package server

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"roomsync/room"
)

// Manager owns the live room actors of one process, keyed by room key.
// Actors are created lazily on first connection and drop out of the map when
// their last connection detaches and the final flush completes.
type Manager struct {
	deps   room.Deps
	opts   *room.Options
	logger *zap.Logger

	mutex sync.Mutex
	rooms map[string]*room.Actor
}

// NewManager creates a room manager.
func NewManager(deps room.Deps, opts *room.Options, logger *zap.Logger) *Manager {
	if opts == nil {
		opts = room.DefaultOptions()
	}
	return &Manager{
		deps:   deps,
		opts:   opts,
		logger: logger,
		rooms:  make(map[string]*room.Actor),
	}
}

// Room returns the live actor for a key, starting one if none exists.
func (m *Manager) Room(roomKey string) (*room.Actor, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if actor, ok := m.rooms[roomKey]; ok && !actor.Closed() {
		return actor, nil
	}

	var actor *room.Actor
	actor, err := room.NewActor(roomKey, m.deps, m.opts, func() {
		m.evict(roomKey, actor)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start room %s: %w", roomKey, err)
	}
	m.rooms[roomKey] = actor
	m.logger.Info("room opened", zap.String("roomKey", roomKey))
	return actor, nil
}

// evict drops one specific actor. Called by the actor itself once it is
// empty and flushed. The identity check matters: a racing Room call may have
// already replaced the entry with a fresh actor that must not be removed.
func (m *Manager) evict(roomKey string, actor *room.Actor) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.rooms[roomKey] == actor {
		delete(m.rooms, roomKey)
	}
	m.logger.Info("room closed", zap.String("roomKey", roomKey))
}

// Len reports how many rooms are live.
func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.rooms)
}

// Close shuts every live room down after a final flush.
func (m *Manager) Close(ctx context.Context) error {
	m.mutex.Lock()
	actors := make([]*room.Actor, 0, len(m.rooms))
	for _, actor := range m.rooms {
		actors = append(actors, actor)
	}
	m.rooms = make(map[string]*room.Actor)
	m.mutex.Unlock()

	var firstErr error
	for _, actor := range actors {
		if err := actor.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
