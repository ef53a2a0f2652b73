package transport

import (
	"io"
	"net"
	"time"
)

// IoBind splices src and dst bidirectionally: bytes read from src are
// written to dst and vice versa, each direction on its own goroutine.
// onClose fires exactly once, whichever direction errors or reaches EOF
// first, with isSrcErr reporting which side the error was read from.
// onBytes, if non-nil, is invoked after every successful read with the
// byte count and which direction it flowed (isOut=true means src→dst).
// A non-zero idleTimeout resets a read deadline on both sides before each
// read; zero disables it.
func IoBind(src, dst net.Conn, onClose func(isSrcErr bool, err error), onBytes func(n int, isOut bool), idleTimeout time.Duration) {
	errc := make(chan struct {
		isSrcErr bool
		err      error
	}, 2)

	copyDir := func(from, to net.Conn, isOut bool) {
		buf := make([]byte, 32*1024)
		for {
			if idleTimeout > 0 {
				from.SetReadDeadline(time.Now().Add(idleTimeout))
			}
			n, rerr := from.Read(buf)
			if n > 0 {
				if onBytes != nil {
					onBytes(n, isOut)
				}
				if _, werr := to.Write(buf[:n]); werr != nil {
					errc <- struct {
						isSrcErr bool
						err      error
					}{isSrcErr: !isOut, err: werr}
					return
				}
			}
			if rerr != nil {
				errc <- struct {
					isSrcErr bool
					err      error
				}{isSrcErr: isOut, err: ioErr(rerr)}
				return
			}
		}
	}

	go copyDir(src, dst, true)
	go copyDir(dst, src, false)

	first := <-errc
	if onClose != nil {
		onClose(first.isSrcErr, first.err)
	}
}

// ioErr normalizes io.EOF to nil so a clean stream end doesn't look like
// a failure to callers that only care whether something went wrong.
func ioErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}
