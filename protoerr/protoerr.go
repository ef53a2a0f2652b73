// Package protoerr defines the typed request error the Dispatcher writes
// via RawResponder, and the error normalizer that maps lower-layer handler
// failures onto it.
package protoerr

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// RequestError is a client-facing failure with an explicit HTTP status
// code and headers, as opposed to an InternalError which the Dispatcher
// turns into a generic 500 and reports via the EventBus.
type RequestError struct {
	StatusCode int
	Headers    http.Header
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// New builds a RequestError with no extra headers.
func New(status int, message string) *RequestError {
	return &RequestError{StatusCode: status, Message: message}
}

// NewWithHeaders builds a RequestError carrying response headers, used for
// the 407 challenge's Proxy-Authenticate.
func NewWithHeaders(status int, headers http.Header, message string) *RequestError {
	return &RequestError{StatusCode: status, Headers: headers, Message: message}
}

// Sentinel errors a handler raises so Normalize can recognize them without
// parsing free-form text produced deeper in the stack (e.g. by an upstream
// proxy's own response line).
var (
	// ErrUpstreamAuthInvalidColon signals a ':' inside the username half of
	// upstream proxy credentials, which a Basic "user:pass" value cannot
	// represent.
	ErrUpstreamAuthInvalidColon = errors.New("username contains an invalid colon")
	// ErrUpstreamAuthRejected signals the upstream proxy answered a CONNECT
	// (or forwarded request) with 407.
	ErrUpstreamAuthRejected = errors.New("407 proxy authentication required")
)

// dnsMarker is a loose heuristic used to tell a failed dial to an upstream
// proxy's own address apart from a failed dial to the final target:
// handlers wrap upstream-dial errors with this substring so Normalize can
// distinguish the two without a richer error type crossing the
// handlers/protoerr boundary.
const dnsMarker = "proxy"

// WrapUpstreamDial tags a dial error against an upstream proxy address so
// Normalize can tell it apart from a failed dial to the final target.
func WrapUpstreamDial(addr string, err error) error {
	return fmt.Errorf("connect to upstream %s %s: %w", dnsMarker, addr, err)
}

// Normalize maps a handler/preparer failure onto a RequestError. Errors
// that are already a *RequestError pass through unchanged; anything
// unrecognized passes through unchanged too (the Dispatcher treats that as
// an internal error, surfacing 500 and emitting requestFailed).
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	switch {
	case errors.Is(err, ErrUpstreamAuthInvalidColon):
		return New(http.StatusBadGateway, "Invalid colon in username in upstream proxy credentials")
	case errors.Is(err, ErrUpstreamAuthRejected):
		return New(http.StatusBadGateway, "Invalid upstream proxy credentials")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		if strings.Contains(err.Error(), dnsMarker) {
			return New(http.StatusBadGateway, "Failed to connect to upstream proxy")
		}
		return New(http.StatusNotFound, "Target website does not exist")
	}

	return err
}
