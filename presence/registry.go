// Package presence tracks which identities are connected to a room,
// independent of the replicated document.
package presence

import (
	"time"
)

// Identity is the user-stable identity behind one or more connections.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Key returns the stable key an identity is deduplicated by.
func (id Identity) Key() string {
	return id.Email
}

// Record is the presence entry for one identity. One identity may hold
// several simultaneous connections (multiple tabs); the record survives
// until the last of them closes.
type Record struct {
	Identity
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Registry maps transient connections to logical identities. It is owned
// exclusively by a room's actor goroutine and therefore needs no locking.
type Registry struct {
	// byConn maps a connection ID to the identity key it joined as.
	byConn map[int64]string

	// connsByKey maps an identity key to its open connection set.
	connsByKey map[string]map[int64]struct{}

	// records holds one entry per present identity.
	records map[string]*Record

	// order preserves arrival order for stable listings.
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[int64]string),
		connsByKey: make(map[string]map[int64]struct{}),
		records:    make(map[string]*Record),
	}
}

// Join records a connection for an identity. It returns true when this is
// the identity's first open connection, i.e. a genuine arrival that should
// be broadcast. Additional tabs of the same identity do not re-announce.
func (r *Registry) Join(connID int64, identity Identity) bool {
	key := identity.Key()

	if prev, ok := r.byConn[connID]; ok && prev != key {
		// The connection re-identified; treat it as leave + join.
		r.Leave(connID)
	}
	r.byConn[connID] = key

	conns, ok := r.connsByKey[key]
	if !ok {
		conns = make(map[int64]struct{})
		r.connsByKey[key] = conns
	}
	conns[connID] = struct{}{}

	now := time.Now()
	if record, ok := r.records[key]; ok {
		record.LastSeenAt = now
		// Refresh mutable attributes; the display name or color may have
		// changed between tabs.
		record.Name = identity.Name
		if identity.Color != "" {
			record.Color = identity.Color
		}
		return false
	}

	r.records[key] = &Record{
		Identity:    identity,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	r.order = append(r.order, key)
	return true
}

// Leave removes a connection. It returns the identity's record and true when
// this was the identity's last connection, i.e. a genuine departure.
func (r *Registry) Leave(connID int64) (*Record, bool) {
	key, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)

	conns := r.connsByKey[key]
	delete(conns, connID)
	if len(conns) > 0 {
		return nil, false
	}

	delete(r.connsByKey, key)
	record := r.records[key]
	delete(r.records, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return record, record != nil
}

// Heartbeat refreshes an identity's last-seen timestamp. It does not
// broadcast.
func (r *Registry) Heartbeat(key string) {
	if record, ok := r.records[key]; ok {
		record.LastSeenAt = time.Now()
	}
}

// ListActive returns one record per present identity, in arrival order,
// regardless of how many connections each identity holds.
func (r *Registry) ListActive() []*Record {
	out := make([]*Record, 0, len(r.order))
	for _, key := range r.order {
		if record, ok := r.records[key]; ok {
			out = append(out, record)
		}
	}
	return out
}

// IdentityFor returns the identity key a connection joined as.
func (r *Registry) IdentityFor(connID int64) (string, bool) {
	key, ok := r.byConn[connID]
	return key, ok
}

// Connections returns the number of open connections across all identities.
func (r *Registry) Connections() int {
	return len(r.byConn)
}
