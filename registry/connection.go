package registry

import (
	"net"
	"sync"
	"sync/atomic"
)

// Connection wraps one accepted socket together with the metadata the
// registry tracks about it, rather than attaching ad hoc fields directly
// onto the socket.
type Connection struct {
	net.Conn

	id  ID
	reg *Registry

	closeOnce sync.Once
	closed    atomic.Bool

	trg atomic.Pointer[counterHandle]
}

// counterHandle lets AttachTarget store any net.Conn alongside its counter
// view without type-asserting back and forth.
type counterHandle struct {
	conn net.Conn
	c    counter
}

// ID returns this connection's globally-unique identifier.
func (c *Connection) ID() ID { return c.id }

// AttachTarget installs conn as this connection's target-side socket for
// byte-counting purposes. Handlers call this immediately after opening an
// outbound connection, before using it. It is a no-op with respect to
// Stats if conn does not implement the counter interface (e.g. a test
// double), in which case target bytes simply read as zero.
func (c *Connection) AttachTarget(conn net.Conn) net.Conn {
	if ctr, ok := conn.(counter); ok {
		c.trg.Store(&counterHandle{conn: conn, c: ctr})
	} else {
		c.trg.Store(&counterHandle{conn: conn})
	}
	return conn
}

// Stats returns the current byte counters for this connection.
func (c *Connection) Stats() Stats {
	var s Stats
	if src, ok := c.Conn.(counter); ok {
		s.SrcRxBytes = src.BytesRead()
		s.SrcTxBytes = src.BytesWritten()
	}
	if h := c.trg.Load(); h != nil && h.c != nil {
		s.TrgRxBytes = h.c.BytesRead()
		s.TrgTxBytes = h.c.BytesWritten()
	}
	return s
}

// Close closes the underlying source socket (and, if one was attached, the
// target socket) exactly once, then unregisters from the registry, which
// captures final stats and fires the closed callback before deleting the
// id.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.Conn.Close()
		if h := c.trg.Load(); h != nil && h.conn != nil {
			h.conn.Close()
		}
		if c.reg != nil {
			c.reg.unregister(c)
		}
	})
	return err
}

// Closed reports whether Close has already run.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}
