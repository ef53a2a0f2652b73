// Package server wires the core components — registry, EventBus, policy,
// Dispatcher, and the handler strategies — onto a real net/http.Server and
// exposes the Lifecycle surface an embedder drives directly: Listen,
// Close, and the connection introspection/teardown calls.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nguyenduc308/proxy-chain/auth"
	"github.com/nguyenduc308/proxy-chain/config"
	"github.com/nguyenduc308/proxy-chain/dispatch"
	"github.com/nguyenduc308/proxy-chain/events"
	"github.com/nguyenduc308/proxy-chain/handlers"
	"github.com/nguyenduc308/proxy-chain/policy"
	"github.com/nguyenduc308/proxy-chain/rawresp"
	"github.com/nguyenduc308/proxy-chain/registry"
	"github.com/nguyenduc308/proxy-chain/traffic"
	"github.com/nguyenduc308/proxy-chain/transport"
)

// Server is the top-level proxy-chain core. It implements
// prepare.ServerRef so the dispatch/prepare layer can call back into it
// without importing this package.
type Server struct {
	cfg config.ServerConfig

	registry *registry.Registry
	events   *events.Bus
	dispatch *dispatch.Dispatcher
	counter  traffic.Counter

	// connsByRaw finds a connection's *registry.Connection from the raw
	// net.Conn net/http hands ConnState. net/http owns and closes the
	// accepted socket directly for ordinary forward-HTTP traffic, so
	// Registry.unregister would otherwise never run for it.
	connsByRaw sync.Map // net.Conn -> *registry.Connection

	httpSrv *http.Server
	ln      net.Listener

	nextHandlerID       atomic.Uint64
	httpRequestCount    atomic.Uint64
	connectRequestCount atomic.Uint64

	mu     sync.Mutex
	port   int
	closed bool
}

// New builds a Server from cfg. authenticator and reporter may be nil —
// nil authenticator means cfg.Policy is used verbatim (possibly also nil,
// meaning "allow everything"); a non-nil authenticator wins over
// cfg.Policy, replacing it with auth.Policy(authenticator).
func New(cfg config.ServerConfig, authenticator auth.Authenticator, reporter traffic.Reporter) *Server {
	cfg = cfg.WithDefaults()
	rawresp.SetAuthRealm(cfg.AuthRealm)

	if reporter == nil {
		reporter = traffic.NewNopReporter()
	}
	if authenticator != nil {
		cfg.Policy = auth.Policy(authenticator)
	}

	s := &Server{
		cfg:      cfg,
		registry: registry.New(),
		events:   &events.Bus{},
		port:     cfg.ListenPort,
	}
	s.registry.OnClosed = func(id registry.ID, stats registry.Stats) {
		s.events.EmitConnectionClosed(events.ConnectionClosed{ConnectionID: id, Stats: stats})
	}

	dialer := transport.NewDialer(cfg.UpstreamPool.DialTimeout)
	h := handlers.New(dialer, reporter, cfg.Verbose)
	h.Counter = traffic.NewInMemoryCounter()
	s.counter = h.Counter
	if cfg.UpstreamPool.PoolSize > 0 && cfg.UpstreamPool.Parent != "" {
		pool, err := transport.NewPool(transport.PoolConfig{
			Factory:    func() (net.Conn, error) { return dialer.Connect(cfg.UpstreamPool.Parent) },
			IsActive:   func(net.Conn) bool { return true },
			Release:    func(c net.Conn) { c.Close() },
			InitialCap: cfg.UpstreamPool.PoolSize,
			MaxCap:     cfg.UpstreamPool.PoolSize * 2,
		})
		if err != nil {
			log.Printf("proxy-chain: upstream pool disabled: %v", err)
		} else {
			h.Pool = pool
			h.PoolHost = cfg.UpstreamPool.Parent
		}
	}

	s.dispatch = &dispatch.Dispatcher{
		Server: s,
		Events: s.events,
		Strategies: dispatch.Strategies{
			Direct:               h.Direct,
			Chain:                h.Chain,
			TunnelSocks:          h.TunnelSocks,
			Forward:              h.Forward,
			ForwardSocks:         h.ForwardSocks,
			HandleCustomResponse: h.CustomResponse,
		},
	}

	return s
}

// NextHandlerID implements prepare.ServerRef.
func (s *Server) NextHandlerID() uint64 { return s.nextHandlerID.Add(1) }

// IncrementHTTPRequestCount implements prepare.ServerRef.
func (s *Server) IncrementHTTPRequestCount() { s.httpRequestCount.Add(1) }

// IncrementConnectRequestCount implements prepare.ServerRef.
func (s *Server) IncrementConnectRequestCount() { s.connectRequestCount.Add(1) }

// Policy implements prepare.ServerRef.
func (s *Server) Policy(ctx context.Context, in policy.Input) (policy.Result, error) {
	return policy.Invoke(ctx, s.cfg.Policy, in)
}

// HTTPRequestCount returns the lifetime count of forward-HTTP requests
// handled.
func (s *Server) HTTPRequestCount() uint64 { return s.httpRequestCount.Load() }

// ConnectRequestCount returns the lifetime count of CONNECT requests
// handled.
func (s *Server) ConnectRequestCount() uint64 { return s.connectRequestCount.Load() }

// Listen binds the configured port and begins accepting connections in
// the background. The bound port is readable via Port; it is not written
// back into the config. ListenPort is never zero here, since New applies
// WithDefaults.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = transport.NewCountingListener(ln)

	s.mu.Lock()
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	s.httpSrv = &http.Server{
		Handler: s.dispatch,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			conn := s.registry.Register(c)
			s.connsByRaw.Store(c, conn)
			return context.WithValue(ctx, dispatch.ConnKey, conn)
		},
		ConnState: func(c net.Conn, state http.ConnState) {
			switch state {
			case http.StateHijacked:
				// A CONNECT handler now owns this socket and closes it
				// itself when the tunnel ends; just stop tracking it here.
				s.connsByRaw.Delete(c)
			case http.StateClosed:
				if v, ok := s.connsByRaw.LoadAndDelete(c); ok {
					v.(*registry.Connection).Close()
				}
			}
		},
	}

	go func() {
		if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			log.Printf("proxy-chain: serve: %v", err)
		}
	}()

	log.Printf("proxy-chain listening on :%d", s.port)
	return nil
}

// Port returns the bound listen port, valid after Listen returns.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Close stops accepting new connections. If closeConnections is true,
// every live socket is force-destroyed before the listener's close; in
// either case further access to the listener is forbidden once Close
// returns.
func (s *Server) Close(closeConnections bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if closeConnections {
		s.registry.DestroyAll()
	}

	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

// CloseConnections force-destroys every live socket without stopping the
// listener.
func (s *Server) CloseConnections() {
	s.registry.DestroyAll()
}

// GetConnectionIds returns the identifiers of every currently live
// connection.
func (s *Server) GetConnectionIds() []registry.ID {
	return s.registry.IDs()
}

// GetConnectionStats returns the current byte counters for id, or
// ok=false if the connection is no longer live.
func (s *Server) GetConnectionStats(id registry.ID) (registry.Stats, bool) {
	return s.registry.StatsFor(id)
}

// Events returns the EventBus embedders attach observers to.
func (s *Server) Events() *events.Bus {
	return s.events
}

// TrafficCounter returns the running per-user byte-total accumulator, fed
// by the tunnel and forward handler strategies as sessions complete
// (CustomResponse records nothing).
func (s *Server) TrafficCounter() traffic.Counter {
	return s.counter
}
