// Package rawresp writes an HTTP/1.1 response directly to a socket, for
// the cases where there is no surviving net/http.ResponseWriter to use:
// after a CONNECT hijack, or once a request has otherwise been detached
// from the standard response machinery.
package rawresp

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// closeDelay is how long the socket is kept half-open after a response is
// written before it is forced closed, giving the peer a chance to read the
// final bytes without racing an RST.
const closeDelay = 1000 * time.Millisecond

// realm is used for the default Server header and the 407
// Proxy-Authenticate challenge realm. SetAuthRealm configures it once at
// server construction time.
var realm = "ProxyChain"

// SetAuthRealm configures the realm Respond uses for the default Server
// header and 407 Proxy-Authenticate challenges.
func SetAuthRealm(r string) {
	if r != "" {
		realm = r
	}
}

// Respond writes a minimal HTTP/1.1 response to conn: status line, merged
// headers, body, then half-closes the write side and schedules a hard
// close. header may be nil. Any write failure is logged and swallowed —
// the socket is already considered dead once Respond is called.
func Respond(conn net.Conn, status int, header http.Header, body []byte) {
	merged := MergeHeaders(header, status, len(body))

	var buf strings.Builder
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, reasonPhrase(status))
	for _, name := range sortedKeys(merged) {
		for _, v := range merged[name] {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
	}
	buf.WriteString("\r\n")

	if _, err := conn.Write([]byte(buf.String())); err != nil {
		log.Printf("rawresp: write status/headers: %v", err)
	} else if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			log.Printf("rawresp: write body: %v", err)
		}
	}

	halfClose(conn)
	time.AfterFunc(closeDelay, func() { conn.Close() })
}

// MergeHeaders applies the forced and default-if-absent headers (Server,
// Content-Type, Proxy-Authenticate on a 407, Connection: close, Date,
// Content-Length) on top of whatever the caller supplied, case-
// insensitively, last writer wins. Exported so any response path — raw
// socket or a surviving http.ResponseWriter — gets the same forced headers.
func MergeHeaders(header http.Header, status, bodyLen int) http.Header {
	merged := make(http.Header, len(header)+4)
	for k, vs := range header {
		merged[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	if merged.Get("Server") == "" {
		merged.Set("Server", realm)
	}
	if merged.Get("Content-Type") == "" {
		merged.Set("Content-Type", "text/plain; charset=utf-8")
	}
	if status == http.StatusProxyAuthRequired && merged.Get("Proxy-Authenticate") == "" {
		merged.Set("Proxy-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
	}

	merged.Set("Connection", "close")
	merged.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	merged.Set("Content-Length", fmt.Sprintf("%d", bodyLen))

	return merged
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reasonPhrase returns the canonical reason phrase for status, falling
// back to "Unknown Status Code" for anything net/http doesn't recognize.
func reasonPhrase(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Unknown Status Code"
}

// halfClose sends a FIN immediately so the peer observes EOF on read
// without waiting for the delayed hard close.
func halfClose(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		if err := wc.CloseWrite(); err != nil {
			log.Printf("rawresp: half-close: %v", err)
		}
	}
}
