// Package dispatch implements the top-level request and CONNECT entry
// points: it builds HandlerOptions via prepare, selects exactly one
// handler strategy, invokes it, and centralizes error handling.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/nguyenduc308/proxy-chain/events"
	"github.com/nguyenduc308/proxy-chain/prepare"
	"github.com/nguyenduc308/proxy-chain/protoerr"
	"github.com/nguyenduc308/proxy-chain/rawresp"
	"github.com/nguyenduc308/proxy-chain/registry"
)

// HandlerFunc is the contract every handler strategy (direct, chain,
// tunnelSocks, forward, forwardSocks, handleCustomResponse) implements.
// A handler owns the request's socket end to end: it must leave the
// connection closed (directly, or by returning an error the Dispatcher
// turns into a RawResponder write followed by a close) by the time it
// returns.
type HandlerFunc func(ctx context.Context, opts *prepare.HandlerOptions) error

// Strategies selects exactly one handler for a set of HandlerOptions.
// The Dispatcher is constructed with a concrete Strategies so the
// handlers package (which would otherwise import dispatch to register
// itself) never has to: dispatch imports nothing from handlers, and the
// server package wires the two together.
type Strategies struct {
	Direct               HandlerFunc // CONNECT, no upstream
	Chain                HandlerFunc // CONNECT, HTTP upstream
	TunnelSocks          HandlerFunc // CONNECT, SOCKS upstream
	Forward              HandlerFunc // HTTP-forward, no upstream / HTTP upstream
	ForwardSocks         HandlerFunc // HTTP-forward, SOCKS upstream
	HandleCustomResponse HandlerFunc // HTTP-forward, customResponseFunction present
}

// Dispatcher is the Dispatcher component. It is stateless beyond its
// wiring; all per-request state lives in prepare.HandlerOptions.
type Dispatcher struct {
	Server     prepare.ServerRef
	Strategies Strategies
	Events     *events.Bus
}

// ServeHTTP is both entry points in one: CONNECT requests are hijacked
// and routed through onConnect; everything else goes through onRequest.
// Dispatcher is meant to be installed as the http.Server's Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		d.onConnect(w, r)
		return
	}
	d.onRequest(w, r)
}

// onRequest builds HandlerOptions for a forward-HTTP request and routes
// it to handleCustomResponse, forwardSocks, or forward.
func (d *Dispatcher) onRequest(w http.ResponseWriter, r *http.Request) {
	conn := connectionFromRequest(r)
	opts, err := prepare.ForRequest(r.Context(), d.Server, conn, r, w)
	if err != nil {
		d.failRequestHTTP(w, r, err)
		return
	}

	var h HandlerFunc
	switch {
	case opts.CustomResponseFunc != nil:
		h = d.Strategies.HandleCustomResponse
	case opts.Upstream != nil && opts.Upstream.Scheme == "socks":
		h = d.Strategies.ForwardSocks
	default:
		h = d.Strategies.Forward
	}

	if err := h(r.Context(), opts); err != nil {
		d.failRequestHTTP(w, r, err)
	}
}

// onConnect hijacks the socket, builds HandlerOptions for the CONNECT
// tunnel, and routes it to tunnelSocks, chain, or direct.
func (d *Dispatcher) onConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection does not support hijacking", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		log.Printf("dispatch: hijack CONNECT %s: %v", r.Host, err)
		return
	}

	var head []byte
	if n := bufrw.Reader.Buffered(); n > 0 {
		head, _ = bufrw.Reader.Peek(n)
		head = append([]byte(nil), head...)
	}

	regConn := connectionFromRequest(r)
	opts, err := prepare.ForConnect(r.Context(), d.Server, regConn, r, head)
	if err != nil {
		d.failRequestRaw(conn, r, err)
		return
	}

	var h HandlerFunc
	switch {
	case opts.Upstream != nil && opts.Upstream.Scheme == "socks":
		h = d.Strategies.TunnelSocks
	case opts.Upstream != nil:
		h = d.Strategies.Chain
	default:
		h = d.Strategies.Direct
	}

	opts.Conn = regConn
	if err := h(r.Context(), opts); err != nil {
		d.failRequestRaw(conn, r, err)
	}
}

// failRequestHTTP is failRequest for the still-live http.ResponseWriter
// path: a *protoerr.RequestError writes its own status/headers/message
// through the normal response writer, forced through the same
// rawresp.MergeHeaders pass the hijacked path uses so a forward-HTTP 407
// still carries Proxy-Authenticate and Connection: close; anything else is
// an internal error, reported via the EventBus and surfaced as a generic
// 500.
func (d *Dispatcher) failRequestHTTP(w http.ResponseWriter, r *http.Request, err error) {
	normalized := protoerr.Normalize(err)
	if reqErr, ok := normalized.(*protoerr.RequestError); ok {
		body := []byte(reqErr.Message)
		headers := rawresp.MergeHeaders(reqErr.Headers, reqErr.StatusCode, len(body))
		for k, vs := range headers {
			w.Header()[k] = vs
		}
		w.WriteHeader(reqErr.StatusCode)
		w.Write(body)
		return
	}

	d.Events.EmitRequestFailed(events.RequestFailed{Error: err, Request: r})
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprint(w, "Internal error in proxy server")
}

// failRequestRaw is failRequest for the hijacked-socket path: there is no
// surviving http.ResponseWriter, so the response goes through
// RawResponder directly.
func (d *Dispatcher) failRequestRaw(conn net.Conn, r *http.Request, err error) {
	normalized := protoerr.Normalize(err)
	if reqErr, ok := normalized.(*protoerr.RequestError); ok {
		rawresp.Respond(conn, reqErr.StatusCode, reqErr.Headers, []byte(reqErr.Message))
		return
	}

	d.Events.EmitRequestFailed(events.RequestFailed{Error: err, Request: r})
	rawresp.Respond(conn, http.StatusInternalServerError, nil, []byte("Internal error in proxy server"))
}

// connKey is the context key under which the server stores the
// registry.Connection for the socket a request arrived on.
type connKey struct{}

// ConnKey is exported so the server package (which installs the value via
// http.Server.ConnContext) and dispatch (which reads it back out) agree
// on the same key without dispatch needing to import server.
var ConnKey = connKey{}

func connectionFromRequest(r *http.Request) *registry.Connection {
	if c, ok := r.Context().Value(ConnKey).(*registry.Connection); ok {
		return c
	}
	return nil
}
