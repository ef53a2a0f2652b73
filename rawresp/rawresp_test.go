package rawresp

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"testing"
)

func TestRespond_StatusLineAndForcedHeaders(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		Respond(server, http.StatusBadRequest, nil, []byte("bad request"))
		close(done)
	}()

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
	if resp.Status != "400 Bad Request" {
		t.Errorf("expected reason phrase 'Bad Request', got %q", resp.Status)
	}
	// http.ReadResponse consumes "Connection: close" into resp.Close and
	// removes it from resp.Header.
	if !resp.Close {
		t.Errorf("expected forced Connection: close, got header %q", resp.Header.Get("Connection"))
	}
	if got := resp.Header.Get("Date"); got == "" {
		t.Error("expected a forced Date header")
	}
	if got := resp.Header.Get("Content-Length"); got != "11" {
		t.Errorf("expected Content-Length 11, got %q", got)
	}
	if got := resp.Header.Get("Server"); got != "ProxyChain" {
		t.Errorf("expected default Server header 'ProxyChain', got %q", got)
	}
	if got := resp.Header.Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Errorf("expected default text/plain Content-Type, got %q", got)
	}
}

func TestRespond_ForcedHeaderOverridesCaller(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Content-Length", "999")

	go Respond(server, http.StatusOK, h, []byte("ok"))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()

	if !resp.Close {
		t.Errorf("expected Connection: close to win over caller value, got header %q", resp.Header.Get("Connection"))
	}
	if got := resp.Header.Get("Content-Length"); got != "2" {
		t.Errorf("expected Content-Length computed from body (2), got %q", got)
	}
}

func TestRespond_407InjectsProxyAuthenticate(t *testing.T) {
	SetAuthRealm("TestRealm")
	defer SetAuthRealm("ProxyChain")

	client, server := net.Pipe()
	defer client.Close()

	go Respond(server, http.StatusProxyAuthRequired, nil, []byte("Proxy credentials required."))

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()

	want := `Basic realm="TestRealm"`
	if got := resp.Header.Get("Proxy-Authenticate"); got != want {
		t.Errorf("expected Proxy-Authenticate %q, got %q", want, got)
	}
}

func TestRespond_407DoesNotOverrideCallerProxyAuthenticate(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	h := http.Header{}
	h.Set("Proxy-Authenticate", `Basic realm="Custom"`)

	go Respond(server, http.StatusProxyAuthRequired, h, nil)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()

	want := `Basic realm="Custom"`
	if got := resp.Header.Get("Proxy-Authenticate"); got != want {
		t.Errorf("expected caller's Proxy-Authenticate preserved, got %q", got)
	}
}

func TestRespond_UnknownStatusCode(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go Respond(server, 499, nil, nil)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	defer resp.Body.Close()

	if resp.Status != "499 Unknown Status Code" {
		t.Errorf("expected reason phrase fallback, got %q", resp.Status)
	}
}
