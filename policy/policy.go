// Package policy normalizes an inbound request into an Input and invokes the
// embedder-supplied decision function; validating the returned Result is
// left to prepare.
// Func is an ordinary blocking call; an embedder that decides synchronously
// simply returns immediately, and one that needs to call out somewhere
// blocks for as long as it needs to.
package policy

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/nguyenduc308/proxy-chain/protoerr"
)

// Input is the normalized per-request record handed to the embedder's
// policy callback.
type Input struct {
	ConnectionID uint64
	Request      *http.Request
	Username     string
	Password     string
	Hostname     string
	Port         string
	IsHTTP       bool
}

// CustomResponseFunc produces a synthetic HTTP response in place of
// forwarding the request anywhere.
type CustomResponseFunc func(ctx context.Context, in Input) (status int, headers http.Header, body []byte, err error)

// Result is the (all-optional) decision returned by the policy callback.
type Result struct {
	RequestAuthentication bool
	FailMsg               string
	UpstreamProxyURL      string
	CustomResponseFunc    CustomResponseFunc
	LocalAddress          string
}

// Func is the embedder-supplied decision callback. It may block (perform its
// own I/O, hit a cache, call out to an auth API); the core never holds an
// internal lock while calling it.
type Func func(ctx context.Context, in Input) (Result, error)

// Invoke calls fn, treating a nil fn as "allow everything" (an empty
// Result). Any error fn returns propagates unchanged.
func Invoke(ctx context.Context, fn Func, in Input) (Result, error) {
	if fn == nil {
		return Result{}, nil
	}
	return fn(ctx, in)
}

// ExtractCredentials parses a Proxy-Authorization header value into a
// username/password pair. An empty header is not an error — it simply
// means the request carried no credentials. Splits malformed-header and
// unsupported-scheme into two distinct failure messages so the caller can
// tell them apart.
func ExtractCredentials(header string) (user, pass string, err error) {
	if header == "" {
		return "", "", nil
	}

	fields := strings.Fields(header)
	if len(fields) != 2 {
		return "", "", protoerr.New(http.StatusBadRequest, `Invalid "Proxy-Authorization" header`)
	}
	if fields[0] != "Basic" {
		return "", "", protoerr.New(http.StatusBadRequest, `The "Proxy-Authorization" header must have the "Basic" type.`)
	}

	decoded, decErr := base64.StdEncoding.DecodeString(fields[1])
	if decErr != nil {
		return "", "", protoerr.New(http.StatusBadRequest, `Invalid "Proxy-Authorization" header`)
	}

	userpass := string(decoded)
	i := strings.IndexByte(userpass, ':')
	if i == -1 {
		return "", "", protoerr.New(http.StatusBadRequest, `Invalid "Proxy-Authorization" header`)
	}
	return userpass[:i], userpass[i+1:], nil
}

// BuildInput assembles an Input by extracting credentials from req's
// Proxy-Authorization header, if any.
func BuildInput(connectionID uint64, req *http.Request, hostname, port string, isHTTP bool) (Input, error) {
	user, pass, err := ExtractCredentials(req.Header.Get("Proxy-Authorization"))
	if err != nil {
		return Input{}, err
	}
	return Input{
		ConnectionID: connectionID,
		Request:      req,
		Username:     user,
		Password:     pass,
		Hostname:     hostname,
		Port:         port,
		IsHTTP:       isHTTP,
	}, nil
}
