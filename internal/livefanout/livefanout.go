// Package livefanout tracks open real-time connections per user and pushes
// alert payloads to all of them. The registry is the single shared mutable
// structure on the hot path, so it is sharded: lookups for one user never
// contend with churn on unrelated users.
//
// Push is strictly best-effort. Durable delivery tracking lives in the
// notification dispatcher; a dropped live push is invisible to correctness.
package livefanout

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const (
	shardCount = 16

	// connectionBuffer bounds how far a slow reader may fall behind before
	// pushes to it are dropped.
	connectionBuffer = 10
)

// Connection is one live session's receive side. Payloads arrive on the
// channel returned by Receive; the owning handler drains it until Close.
type Connection struct {
	id string

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// NewConnection creates a connection with a bounded payload buffer.
func NewConnection() *Connection {
	return &Connection{
		id: uuid.New().String(),
		ch: make(chan []byte, connectionBuffer),
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Receive returns the payload channel. It is closed by Close.
func (c *Connection) Receive() <-chan []byte { return c.ch }

// TrySend enqueues a payload without blocking. Returns false when the
// connection is closed or its buffer is full; the payload is dropped.
func (c *Connection) TrySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- payload:
		return true
	default:
		return false
	}
}

// Close marks the connection dead and closes its channel. Safe to call more
// than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[*Connection]struct{}
}

// Registry is a sharded multi-map from user ID to live connections.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[*Connection]struct{})}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a connection to the user's set. A user may hold any number
// of concurrent connections (multiple open sessions).
func (r *Registry) Register(userID string, conn *Connection) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.users[userID]
	if !ok {
		set = make(map[*Connection]struct{})
		s.users[userID] = set
	}
	set[conn] = struct{}{}
}

// Unregister removes a connection from the user's set and closes it.
// Unregistering a connection that was never registered is a no-op.
func (r *Registry) Unregister(userID string, conn *Connection) {
	s := r.shardFor(userID)
	s.mu.Lock()
	set, ok := s.users[userID]
	if ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(s.users, userID)
		}
	}
	s.mu.Unlock()
	conn.Close()
}

// Push writes the payload to every live connection of the user and returns
// how many accepted it. A full or closed connection drops its copy without
// affecting the rest; a user with no connections is a silent no-op.
func (r *Registry) Push(userID string, payload []byte) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.users[userID]))
	for conn := range s.users[userID] {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.TrySend(payload) {
			delivered++
		}
	}
	return delivered
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}
