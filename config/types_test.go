package config

import "testing"

func TestWithDefaults_FillsZeroValues(t *testing.T) {
	cfg := ServerConfig{}.WithDefaults()
	if cfg.ListenPort != DefaultListenPort {
		t.Fatalf("expected default listen port %d, got %d", DefaultListenPort, cfg.ListenPort)
	}
	if cfg.AuthRealm != DefaultAuthRealm {
		t.Fatalf("expected default auth realm %q, got %q", DefaultAuthRealm, cfg.AuthRealm)
	}
}

func TestWithDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := ServerConfig{ListenPort: 9090, AuthRealm: "custom"}.WithDefaults()
	if cfg.ListenPort != 9090 {
		t.Fatalf("expected explicit listen port to survive, got %d", cfg.ListenPort)
	}
	if cfg.AuthRealm != "custom" {
		t.Fatalf("expected explicit auth realm to survive, got %q", cfg.AuthRealm)
	}
}
