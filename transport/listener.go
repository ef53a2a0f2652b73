package transport

import (
	"bufio"
	"net"
	"sync/atomic"
)

// CountingConn wraps a net.Conn with atomic byte counters on Read/Write,
// so a registry.Connection can read them back through the counter
// interface without the connection itself knowing about the registry.
type CountingConn struct {
	net.Conn
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// NewCountingConn wraps conn with byte counters.
func NewCountingConn(conn net.Conn) *CountingConn {
	return &CountingConn{Conn: conn}
}

func (c *CountingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.bytesRead.Add(int64(n))
	return n, err
}

func (c *CountingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.bytesWritten.Add(int64(n))
	return n, err
}

// BytesRead returns the total bytes read so far.
func (c *CountingConn) BytesRead() int64 { return c.bytesRead.Load() }

// BytesWritten returns the total bytes written so far.
func (c *CountingConn) BytesWritten() int64 { return c.bytesWritten.Load() }

// CountingListener wraps a net.Listener so every accepted connection
// arrives already byte-counted, for free, regardless of which handler
// eventually consumes it.
type CountingListener struct {
	net.Listener
}

// NewCountingListener wraps ln.
func NewCountingListener(ln net.Listener) *CountingListener {
	return &CountingListener{Listener: ln}
}

// Accept returns the next connection wrapped in a *CountingConn.
func (l *CountingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewCountingConn(conn), nil
}

// BufferedConn wraps a net.Conn with a bufio.Reader, used when a handler
// must hand an already-buffered connection to code downstream that reads
// via the raw net.Conn interface (e.g. io.Copy), so bytes the bufio.Reader
// already pulled off the wire are not lost.
type BufferedConn struct {
	r *bufio.Reader
	net.Conn
}

// NewBufferedConn creates a buffered connection.
func NewBufferedConn(c net.Conn, r *bufio.Reader) *BufferedConn {
	return &BufferedConn{r: r, Conn: c}
}

// Read reads from the buffered reader.
func (bc *BufferedConn) Read(p []byte) (int, error) {
	return bc.r.Read(p)
}
