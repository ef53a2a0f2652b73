// Package prepare implements RequestPreparer: it parses the request
// target, classifies it as HTTP-forward vs CONNECT-tunnel, invokes the
// configured policy callback, and merges its result into a per-request
// HandlerOptions the Dispatcher then routes to exactly one handler.
package prepare

import (
	"context"
	"net/http"

	"github.com/nguyenduc308/proxy-chain/policy"
	"github.com/nguyenduc308/proxy-chain/registry"
)

// ServerRef is the slice of *server.Server that prepare needs. Kept as an
// interface here (rather than importing the server package directly) so
// server can depend on prepare without prepare depending back on server.
type ServerRef interface {
	NextHandlerID() uint64
	IncrementHTTPRequestCount()
	IncrementConnectRequestCount()
	Policy(ctx context.Context, in policy.Input) (policy.Result, error)
}

// Target is the parsed form of the request's destination.
type Target struct {
	Scheme string // "http" for forward requests; empty for CONNECT
	Host   string
	Port   string
	Path   string // forward requests only
}

// UpstreamProxy is the parsed form of a policy-supplied upstream proxy
// URL, restricted to the schemes this system understands.
type UpstreamProxy struct {
	Scheme string // "http" or "socks"
	Host   string
	User   string // from the URL's userinfo, if any
	Pass   string
}

// HandlerOptions is the fully-decided per-request record handed to
// exactly one external handler.
type HandlerOptions struct {
	ID  uint64
	Srv ServerRef

	Conn *registry.Connection

	SrcRequest  *http.Request
	SrcResponse http.ResponseWriter // forward-HTTP only; nil for CONNECT
	SrcHead     []byte              // CONNECT only: bytes already read past the request line

	Target Target
	IsHTTP bool

	Upstream           *UpstreamProxy
	CustomResponseFunc policy.CustomResponseFunc
	LocalAddress       string
}
