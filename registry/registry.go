// Package registry assigns a unique identifier to each accepted socket,
// tracks live sockets, attaches byte counters, exposes per-connection and
// aggregate statistics, and notifies on close.
//
// Realized as a plain map behind one mutex rather than a sync.Map, since
// DestroyAll needs an atomic "snapshot then act on all of them" operation
// that sync.Map's lock-free reads don't make any easier.
package registry

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
)

// Registry is the single source of truth for live connections: shutdown,
// stats lookups, and id enumeration all read from this one map.
type Registry struct {
	mu     sync.Mutex
	byID   map[ID]*Connection
	nextID atomic.Uint64

	// OnClosed is invoked after a connection's final stats are captured and
	// before its id is deleted from the map, so an observer calling StatsFor
	// from inside the callback still sees one consistent answer: captured
	// stats, never a stale partial read. May be nil.
	OnClosed func(id ID, stats Stats)

	// OnError is invoked for connection-level errors the registry observes
	// on behalf of a caller that has not installed its own handling. May be
	// nil, in which case errors are logged and swallowed.
	OnError func(id ID, err error)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[ID]*Connection)}
}

// Register allocates a fresh id for conn, wraps it in a *Connection, and
// inserts it into the live map. The returned Connection must be used in
// place of conn from this point on — once registered, conn is considered
// owned by the registry for close/error bookkeeping.
func (r *Registry) Register(conn net.Conn) *Connection {
	id := ID(r.nextID.Add(1))
	c := &Connection{Conn: conn, id: id, reg: r}

	r.mu.Lock()
	r.byID[id] = c
	r.mu.Unlock()

	return c
}

// unregister is called by Connection.Close. It captures final stats,
// invokes OnClosed, and only then deletes the id, so a fresh StatsFor
// lookup performed after the callback returns reliably misses.
func (r *Registry) unregister(c *Connection) {
	stats := c.Stats()
	if r.OnClosed != nil {
		r.OnClosed(c.id, stats)
	}
	r.mu.Lock()
	delete(r.byID, c.id)
	r.mu.Unlock()
}

// ReportError routes a connection-level error to OnError if one is
// installed, otherwise logs and swallows it.
func (r *Registry) ReportError(id ID, err error) {
	if r.OnError != nil {
		r.OnError(id, err)
		return
	}
	log.Printf("proxychain: connection %s error: %v", id, err)
}

// StatsFor returns the current counters for id, or ok=false if the
// connection is already gone.
func (r *Registry) StatsFor(id ID) (stats Stats, ok bool) {
	r.mu.Lock()
	c, found := r.byID[id]
	r.mu.Unlock()
	if !found {
		return Stats{}, false
	}
	return c.Stats(), true
}

// IDs returns a snapshot of all currently live connection identifiers.
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]ID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// DestroyAll forces teardown of every live connection. It snapshots the
// live set under the lock first, then destroys outside the lock, so it
// never iterates and mutates r.byID concurrently (Close calls back into
// unregister, which takes the lock again for its own delete).
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	snapshot := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		c.Close()
	}
}
