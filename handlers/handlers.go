// Package handlers implements the six routing strategies the Dispatcher
// chooses between for a decided request: Direct, Chain, and TunnelSocks
// for CONNECT tunnels, Forward and ForwardSocks for plain HTTP requests,
// and CustomResponse for policy-synthesized replies. The dial-then-splice
// and dial-then-CONNECT shapes follow an HTTP/SOCKS5 forward proxy's usual
// handler split, generalized to the prepare.HandlerOptions shape dispatch
// already decided on.
package handlers

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/nguyenduc308/proxy-chain/policy"
	"github.com/nguyenduc308/proxy-chain/prepare"
	"github.com/nguyenduc308/proxy-chain/protoerr"
	"github.com/nguyenduc308/proxy-chain/socks5"
	"github.com/nguyenduc308/proxy-chain/traffic"
	"github.com/nguyenduc308/proxy-chain/transport"
)

// Handlers holds the dependencies every strategy dials and reports
// through. It has no per-request state; every method is a
// dispatch.HandlerFunc.
type Handlers struct {
	Dialer *transport.Dialer

	// Pool, when non-nil, supplies pre-warmed sockets to the fixed
	// upstream at PoolHost. A per-request upstream whose Host doesn't
	// match PoolHost is dialed fresh, same as when Pool is nil.
	Pool     *transport.Pool
	PoolHost string

	Reporter traffic.Reporter
	// Counter, when non-nil, accumulates per-user byte totals across every
	// session in addition to whatever Reporter does per-session.
	Counter traffic.Counter
	Debug   bool
}

// New builds a Handlers with no pooled upstream and no user-traffic
// counter.
func New(dialer *transport.Dialer, reporter traffic.Reporter, debug bool) *Handlers {
	return &Handlers{Dialer: dialer, Reporter: reporter, Debug: debug}
}

// Direct dials the target directly: CONNECT with no upstream proxy.
func (h *Handlers) Direct(ctx context.Context, opts *prepare.HandlerOptions) error {
	targetAddr := net.JoinHostPort(opts.Target.Host, opts.Target.Port)
	outConn, err := h.Dialer.Connect(targetAddr)
	if err != nil {
		return protoerr.New(http.StatusBadGateway, fmt.Sprintf("Could not connect to %s", targetAddr))
	}
	return h.completeTunnel(opts, outConn, targetAddr, "")
}

// Chain dials the target through an HTTP upstream proxy, sending a CONNECT
// on its behalf before splicing.
func (h *Handlers) Chain(ctx context.Context, opts *prepare.HandlerOptions) error {
	targetAddr := net.JoinHostPort(opts.Target.Host, opts.Target.Port)
	raw, err := h.dialUpstream(opts.Upstream)
	if err != nil {
		return err
	}
	outConn, err := connectUpstreamHTTP(raw, targetAddr, opts.Upstream)
	if err != nil {
		return err
	}
	return h.completeTunnel(opts, outConn, targetAddr, opts.Upstream.Host)
}

// TunnelSocks dials the target through a SOCKS5 upstream proxy.
func (h *Handlers) TunnelSocks(ctx context.Context, opts *prepare.HandlerOptions) error {
	targetAddr := net.JoinHostPort(opts.Target.Host, opts.Target.Port)
	raw, err := h.dialUpstream(opts.Upstream)
	if err != nil {
		return err
	}
	outConn, err := socks5.Dial(raw, targetAddr, opts.Upstream.User, opts.Upstream.Pass)
	if err != nil {
		raw.Close()
		return protoerr.New(http.StatusBadGateway, fmt.Sprintf("Upstream SOCKS proxy rejected %s: %v", targetAddr, err))
	}
	return h.completeTunnel(opts, outConn, targetAddr, opts.Upstream.Host)
}

// Forward proxies a plain HTTP request directly, or through an HTTP
// upstream proxy when opts.Upstream is set.
func (h *Handlers) Forward(ctx context.Context, opts *prepare.HandlerOptions) error {
	outReq := opts.SrcRequest.Clone(ctx)
	outReq.RequestURI = ""
	if outReq.URL.Scheme == "" {
		outReq.URL.Scheme = "http"
	}
	outReq.URL.Host = net.JoinHostPort(opts.Target.Host, opts.Target.Port)
	stripProxyHeaders(outReq.Header)

	tr := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return h.Dialer.Connect(addr)
		},
	}
	upstreamHost := ""
	if opts.Upstream != nil {
		upstreamHost = opts.Upstream.Host
		proxyURL := &url.URL{Scheme: "http", Host: opts.Upstream.Host}
		if opts.Upstream.User != "" {
			proxyURL.User = url.UserPassword(opts.Upstream.User, opts.Upstream.Pass)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	resp, err := tr.RoundTrip(outReq)
	if err != nil {
		return protoerr.New(http.StatusBadGateway, fmt.Sprintf("Could not connect to %s", outReq.URL.Host))
	}
	defer resp.Body.Close()

	n := copyResponse(opts.SrcResponse, resp)
	h.reportForward(opts, "forward", outReq.URL.Host, upstreamHost, n)
	return nil
}

// ForwardSocks proxies a plain HTTP request through a SOCKS5 upstream
// proxy.
func (h *Handlers) ForwardSocks(ctx context.Context, opts *prepare.HandlerOptions) error {
	outReq := opts.SrcRequest.Clone(ctx)
	outReq.RequestURI = ""
	if outReq.URL.Scheme == "" {
		outReq.URL.Scheme = "http"
	}
	outReq.URL.Host = net.JoinHostPort(opts.Target.Host, opts.Target.Port)
	stripProxyHeaders(outReq.Header)

	tr := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := h.dialUpstream(opts.Upstream)
			if err != nil {
				return nil, err
			}
			return socks5.Dial(raw, addr, opts.Upstream.User, opts.Upstream.Pass)
		},
	}

	resp, err := tr.RoundTrip(outReq)
	if err != nil {
		return protoerr.New(http.StatusBadGateway, fmt.Sprintf("Upstream SOCKS proxy rejected %s", outReq.URL.Host))
	}
	defer resp.Body.Close()

	n := copyResponse(opts.SrcResponse, resp)
	h.reportForward(opts, "forward-socks", outReq.URL.Host, opts.Upstream.Host, n)
	return nil
}

// CustomResponse calls the policy-supplied response function and writes
// its result in place of forwarding the request anywhere.
func (h *Handlers) CustomResponse(ctx context.Context, opts *prepare.HandlerOptions) error {
	in, err := policy.BuildInput(uint64(opts.Conn.ID()), opts.SrcRequest, opts.Target.Host, opts.Target.Port, opts.IsHTTP)
	if err != nil {
		return err
	}
	status, headers, body, err := opts.CustomResponseFunc(ctx, in)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			opts.SrcResponse.Header().Add(k, v)
		}
	}
	opts.SrcResponse.WriteHeader(status)
	opts.SrcResponse.Write(body)
	return nil
}

// completeTunnel answers the CONNECT with a 200, replays any bytes the
// client already sent past the request line, and splices the two sides.
// Shared by Direct, Chain, and TunnelSocks.
func (h *Handlers) completeTunnel(opts *prepare.HandlerOptions, outConn net.Conn, targetAddr, upstream string) error {
	outConn = opts.Conn.AttachTarget(transport.NewCountingConn(outConn))

	if _, err := fmt.Fprint(opts.Conn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		outConn.Close()
		opts.Conn.Close()
		return nil
	}
	if len(opts.SrcHead) > 0 {
		if _, err := outConn.Write(opts.SrcHead); err != nil {
			outConn.Close()
			opts.Conn.Close()
			return nil
		}
	}

	h.splice(opts, outConn, targetAddr, upstream)
	return nil
}

// splice binds the client and target sockets bidirectionally, reporting
// traffic for the session if a Reporter is configured.
func (h *Handlers) splice(opts *prepare.HandlerOptions, outConn net.Conn, targetAddr, upstream string) {
	var session *traffic.Session
	var stopPeriodic func()
	user, _, _ := policy.ExtractCredentials(opts.SrcRequest.Header.Get("Proxy-Authorization"))
	if h.Reporter != nil {
		session = traffic.NewSession("tunnel", opts.Conn.LocalAddr().String(), opts.Conn.RemoteAddr().String(),
			targetAddr, user, outConn.LocalAddr().String(), outConn.RemoteAddr().String(), upstream, "")
		stopPeriodic = h.Reporter.StartPeriodic(session)
	}

	var bytesIn, bytesOut atomic.Int64
	transport.IoBind(opts.Conn, outConn, func(isSrcErr bool, err error) {
		opts.Conn.Close()
		outConn.Close()
		if h.Debug {
			log.Printf("tunnel released: %s", targetAddr)
		}
		if stopPeriodic != nil {
			stopPeriodic()
		}
		if h.Reporter != nil && h.Reporter.Mode() == "normal" {
			h.Reporter.Report(session)
		}
		if h.Counter != nil {
			h.Counter.RecordBytes(user, targetAddr, bytesIn.Load(), bytesOut.Load())
		}
	}, func(n int, isOut bool) {
		if session != nil {
			session.AddBytes(int64(n))
		}
		if isOut {
			bytesIn.Add(int64(n))
		} else {
			bytesOut.Add(int64(n))
		}
	}, 0)
}

// reportForward sends a one-shot traffic report for a forward-HTTP
// request, which (unlike a tunnel) completes within a single call rather
// than living for the life of a splice.
func (h *Handlers) reportForward(opts *prepare.HandlerOptions, protocol, targetAddr, upstream string, bytes int64) {
	user, _, _ := policy.ExtractCredentials(opts.SrcRequest.Header.Get("Proxy-Authorization"))
	if h.Counter != nil {
		h.Counter.RecordBytes(user, targetAddr, 0, bytes)
	}
	if h.Reporter == nil {
		return
	}
	session := traffic.NewSession(protocol, opts.Conn.LocalAddr().String(), opts.Conn.RemoteAddr().String(),
		targetAddr, user, "", "", upstream, "")
	session.AddBytes(bytes)
	h.Reporter.Report(session)
}

// dialUpstream opens a socket to up, from the pool if up.Host matches the
// configured PoolHost, dialed fresh otherwise.
func (h *Handlers) dialUpstream(up *prepare.UpstreamProxy) (net.Conn, error) {
	if h.Pool != nil && up.Host == h.PoolHost {
		conn, err := h.Pool.Get()
		if err != nil {
			return nil, protoerr.WrapUpstreamDial(up.Host, err)
		}
		return conn, nil
	}
	conn, err := h.Dialer.Connect(up.Host)
	if err != nil {
		return nil, protoerr.WrapUpstreamDial(up.Host, err)
	}
	return conn, nil
}

// connectUpstreamHTTP sends a CONNECT for targetAddr over an already-open
// socket to an HTTP upstream proxy and parses its reply, wrapping the
// socket so any read-ahead bytes survive the handoff to the splice.
func connectUpstreamHTTP(outConn net.Conn, targetAddr string, up *prepare.UpstreamProxy) (net.Conn, error) {
	var authHeader string
	if up.User != "" || up.Pass != "" {
		if strings.Contains(up.User, ":") {
			outConn.Close()
			return nil, protoerr.ErrUpstreamAuthInvalidColon
		}
		creds := base64.StdEncoding.EncodeToString([]byte(up.User + ":" + up.Pass))
		authHeader = "Proxy-Authorization: Basic " + creds + "\r\n"
	}

	req := "CONNECT " + targetAddr + " HTTP/1.1\r\nHost: " + targetAddr + "\r\n" + authHeader + "\r\n"
	if _, err := outConn.Write([]byte(req)); err != nil {
		outConn.Close()
		return nil, protoerr.WrapUpstreamDial(targetAddr, err)
	}

	reader := bufio.NewReader(outConn)
	line, err := reader.ReadString('\n')
	if err != nil {
		outConn.Close()
		return nil, protoerr.WrapUpstreamDial(targetAddr, err)
	}
	switch {
	case strings.Contains(line, "407"):
		outConn.Close()
		return nil, protoerr.ErrUpstreamAuthRejected
	case !strings.Contains(line, "200"):
		outConn.Close()
		return nil, fmt.Errorf("upstream proxy rejected CONNECT %s: %s", targetAddr, strings.TrimSpace(line))
	}
	for {
		line, err = reader.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}
	return transport.NewBufferedConn(outConn, reader), nil
}

// copyResponse writes resp's status, headers, and body to w, returning the
// number of body bytes copied.
func copyResponse(w http.ResponseWriter, resp *http.Response) int64 {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, resp.Body)
	return n
}

// stripProxyHeaders removes headers that must not be relayed past this
// hop; a header-scoped upstream Proxy-Authorization, if any, is added by
// http.ProxyURL/http.Transport from the upstream URL's userinfo instead.
func stripProxyHeaders(h http.Header) {
	h.Del("Proxy-Authorization")
	h.Del("Proxy-Connection")
	h.Del("Connection")
}
