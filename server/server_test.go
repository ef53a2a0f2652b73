package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nguyenduc308/proxy-chain/config"
	"github.com/nguyenduc308/proxy-chain/policy"
)

func startServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	s := New(cfg, nil, nil)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { s.Close(true) })
	return s
}

func TestServer_ForwardsPlainHTTPRequest(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from target"))
	}))
	defer target.Close()

	s := startServer(t, config.ServerConfig{})

	proxyURL := parseURL(t, fmt.Sprintf("http://127.0.0.1:%d", s.Port()))
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	resp, err := client.Get(target.URL)
	if err != nil {
		t.Fatalf("GET through proxy: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from target" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestServer_ConnectTunnel(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer target.Close()
	go func() {
		c, err := target.Accept()
		if err != nil {
			return
		}
		io.Copy(c, c)
	}()

	s := startServer(t, config.ServerConfig{})

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer raw.Close()

	fmt.Fprintf(raw, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target.Addr().String(), target.Addr().String())

	r := bufio.NewReader(raw)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "200") {
		t.Fatalf("expected 200, got %q", statusLine)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	raw.Write([]byte("ping"))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("expected echoed 'ping', got %q", buf)
	}
}

func TestServer_RequiresAuthenticationWhenPolicyDemandsIt(t *testing.T) {
	s := startServer(t, config.ServerConfig{
		Policy: func(ctx context.Context, in policy.Input) (policy.Result, error) {
			return policy.Result{RequestAuthentication: true}, nil
		},
	})

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	fmt.Fprintf(raw, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")

	r := bufio.NewReader(raw)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "407") {
		t.Fatalf("expected 407, got %q", statusLine)
	}
}

func TestServer_CloseTrueDestroysLiveConnections(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer target.Close()
	go func() {
		for {
			c, err := target.Accept()
			if err != nil {
				return
			}
			io.Copy(c, c)
		}
	}()

	s := New(config.ServerConfig{}, nil, nil)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	fmt.Fprintf(raw, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target.Addr().String(), target.Addr().String())
	r := bufio.NewReader(raw)
	r.ReadString('\n')
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(s.GetConnectionIds()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(s.GetConnectionIds()) == 0 {
		t.Fatal("expected at least one live connection before Close")
	}

	if err := s.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(s.GetConnectionIds()) != 0 {
		t.Fatalf("expected no live connections after Close(true), got %d", len(s.GetConnectionIds()))
	}
}

func TestServer_ForwardHTTP407CarriesProxyAuthenticateAndConnectionClose(t *testing.T) {
	s := startServer(t, config.ServerConfig{
		AuthRealm: "testrealm",
		Policy: func(ctx context.Context, in policy.Input) (policy.Result, error) {
			return policy.Result{RequestAuthentication: true}, nil
		},
	})

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	fmt.Fprintf(raw, "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")

	resp, err := http.ReadResponse(bufio.NewReader(raw), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusProxyAuthRequired {
		t.Fatalf("expected 407, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Proxy-Authenticate"); got != `Basic realm="testrealm"` {
		t.Fatalf("expected a Proxy-Authenticate challenge, got %q", got)
	}
	// http.ReadResponse reports "Connection: close" as resp.Close rather
	// than leaving it in resp.Header.
	if !resp.Close {
		t.Fatalf("expected Connection: close, got header %q", resp.Header.Get("Connection"))
	}
}

func TestServer_ForwardHTTPConnectionUnregistersOnClose(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer target.Close()

	s := startServer(t, config.ServerConfig{})

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	fmt.Fprintf(raw, "GET %s/ HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n",
		target.URL, strings.TrimPrefix(target.URL, "http://"))

	resp, err := http.ReadResponse(bufio.NewReader(raw), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.GetConnectionIds()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(s.GetConnectionIds()); n != 0 {
		t.Fatalf("expected the forward-HTTP connection to unregister once closed, got %d still live", n)
	}
}

func parseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u
}
