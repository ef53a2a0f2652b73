package prepare

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nguyenduc308/proxy-chain/policy"
	"github.com/nguyenduc308/proxy-chain/protoerr"
	"github.com/nguyenduc308/proxy-chain/registry"
)

// ForRequest builds HandlerOptions for a forward-HTTP request (the
// non-CONNECT entry point). req.RequestURI must be in absolute-form.
func ForRequest(ctx context.Context, srv ServerRef, conn *registry.Connection, req *http.Request, resp http.ResponseWriter) (*HandlerOptions, error) {
	target, err := parseForwardTarget(req)
	if err != nil {
		return nil, err
	}
	srv.IncrementHTTPRequestCount()

	opts := &HandlerOptions{
		ID:          srv.NextHandlerID(),
		Srv:         srv,
		Conn:        conn,
		SrcRequest:  req,
		SrcResponse: resp,
		Target:      target,
		IsHTTP:      true,
	}

	in, err := policy.BuildInput(uint64(conn.ID()), req, target.Host, target.Port, true)
	if err != nil {
		return nil, err
	}
	result, err := srv.Policy(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := mergeResult(opts, result); err != nil {
		return nil, err
	}
	return opts, nil
}

// ForConnect builds HandlerOptions for a CONNECT tunnel request. head is
// any bytes already read off the socket past the request line (from the
// bufio.Reader used to read the CONNECT line), to be replayed by whichever
// handler takes over the raw connection.
func ForConnect(ctx context.Context, srv ServerRef, conn *registry.Connection, req *http.Request, head []byte) (*HandlerOptions, error) {
	target, err := parseConnectTarget(req)
	if err != nil {
		return nil, err
	}
	srv.IncrementConnectRequestCount()

	opts := &HandlerOptions{
		ID:         srv.NextHandlerID(),
		Srv:        srv,
		Conn:       conn,
		SrcRequest: req,
		SrcHead:    head,
		Target:     target,
		IsHTTP:     false,
	}

	in, err := policy.BuildInput(uint64(conn.ID()), req, target.Host, target.Port, false)
	if err != nil {
		return nil, err
	}
	result, err := srv.Policy(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := mergeResult(opts, result); err != nil {
		return nil, err
	}
	return opts, nil
}

// parseConnectTarget parses a CONNECT request's "host:port" form by
// prepending a synthetic scheme so url.Parse can split host from port for
// us, rather than hand-rolling a SplitHostPort that would choke on a bare
// hostname with no port.
func parseConnectTarget(req *http.Request) (Target, error) {
	raw := req.Host
	u, err := url.Parse("connect://" + raw)
	if err != nil || u.Hostname() == "" || u.Port() == "" {
		return Target{}, protoerr.New(http.StatusBadRequest, fmt.Sprintf(`Target %q could not be parsed`, raw))
	}
	return Target{Host: u.Hostname(), Port: u.Port()}, nil
}

// parseForwardTarget parses a forward-HTTP request's absolute-form URI.
func parseForwardTarget(req *http.Request) (Target, error) {
	raw := req.RequestURI
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return Target{}, protoerr.New(http.StatusBadRequest, fmt.Sprintf(`Target %q could not be parsed`, raw))
	}
	if u.Scheme != "http" {
		return Target{}, protoerr.New(http.StatusBadRequest, fmt.Sprintf("Only HTTP protocol is supported (was %s)", u.Scheme))
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return Target{Scheme: "http", Host: host, Port: port, Path: u.RequestURI()}, nil
}

// mergeResult applies the four-step policy-result merge to opts in place.
func mergeResult(opts *HandlerOptions, result policy.Result) error {
	if result.RequestAuthentication {
		failMsg := result.FailMsg
		if failMsg == "" {
			failMsg = "Proxy credentials required."
		}
		headers := http.Header{}
		return protoerr.NewWithHeaders(http.StatusProxyAuthRequired, headers, failMsg)
	}

	if result.UpstreamProxyURL != "" {
		up, err := parseUpstream(result.UpstreamProxyURL)
		if err != nil {
			// A misconfigured upstream is not the client's fault; it is an
			// internal error, so it must NOT be a *protoerr.RequestError —
			// the Dispatcher maps anything else to a 500.
			return fmt.Errorf("invalid upstream proxy url %q: %w", result.UpstreamProxyURL, err)
		}
		opts.Upstream = up
	}

	if result.CustomResponseFunc != nil {
		if !opts.IsHTTP {
			return fmt.Errorf("customResponseFunction is only valid for HTTP-forward requests")
		}
		if opts.Upstream != nil {
			return fmt.Errorf("customResponseFunction and upstreamProxyUrl are mutually exclusive")
		}
		opts.CustomResponseFunc = result.CustomResponseFunc
	}

	opts.LocalAddress = result.LocalAddress
	return nil
}

func parseUpstream(raw string) (*UpstreamProxy, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "socks":
	default:
		return nil, fmt.Errorf("unsupported upstream scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream proxy url has no host")
	}
	up := &UpstreamProxy{Scheme: u.Scheme, Host: u.Host}
	if u.User != nil {
		up.User = u.User.Username()
		up.Pass, _ = u.User.Password()
	}
	return up, nil
}
