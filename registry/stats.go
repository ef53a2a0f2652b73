package registry

// Stats is a byte-counter snapshot for a connection: the source (client)
// socket and, once a handler has opened one, the target (upstream/direct)
// socket.
type Stats struct {
	SrcTxBytes int64
	SrcRxBytes int64
	TrgTxBytes int64
	TrgRxBytes int64
}

// counter is the minimal interface a wrapped net.Conn exposes so a
// Connection can read its byte counts without caring whether the underlying
// conn is a transport.CountingConn or something a test stubbed out. A conn
// that does not implement it (a bare *net.TCPConn, say) reads as zero.
type counter interface {
	BytesRead() int64
	BytesWritten() int64
}
