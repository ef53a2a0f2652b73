package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAPIAuth_AcceptsAndCarriesUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") != "alice" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("upstream", "http://upstream.example:8080")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAPIAuth(srv.URL, time.Second, 0, false)
	defer a.Close()

	res, err := a.Authenticate(context.Background(), Credentials{User: "alice", Pass: "secret", ClientIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.OK || res.Upstream != "http://upstream.example:8080" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAPIAuth_RejectsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewAPIAuth(srv.URL, time.Second, 0, false)
	defer a.Close()

	res, err := a.Authenticate(context.Background(), Credentials{User: "bob", Pass: "wrong"})
	if err == nil {
		t.Fatal("expected an error for a rejected auth API call")
	}
	if res.OK {
		t.Fatal("expected OK=false on rejection")
	}
}

func TestAPIAuth_CachesSuccessfulResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("upstream", "http://cached.example:9090")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAPIAuth(srv.URL, time.Second, time.Minute, false)
	defer a.Close()

	for i := 0; i < 3; i++ {
		res, err := a.Authenticate(context.Background(), Credentials{User: "carol", Pass: "pw"})
		if err != nil {
			t.Fatalf("Authenticate call %d: %v", i, err)
		}
		if !res.OK || res.Upstream != "http://cached.example:9090" {
			t.Fatalf("call %d: unexpected result %+v", i, res)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 request to hit the auth API, got %d", calls)
	}
}
