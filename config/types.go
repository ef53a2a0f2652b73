// Package config holds the immutable-after-construction settings for the
// proxy-chain core and its optional domain-stack pieces (traffic reporting,
// upstream pooling), trimmed of TLS (TLS passes through CONNECT tunnels
// opaquely; it is never terminated by this server) and reshaped around a
// single front-end rather than a per-protocol command set.
package config

import (
	"time"

	"github.com/nguyenduc308/proxy-chain/policy"
)

const (
	DefaultListenPort = 8000
	DefaultAuthRealm  = "ProxyChain"
)

// ServerConfig is the top-level, immutable-after-construction configuration
// for a Server.
type ServerConfig struct {
	// ListenPort is the TCP port to bind. WithDefaults (which server.New
	// applies) replaces zero with DefaultListenPort, so this field cannot
	// request an OS-chosen ephemeral port. Server.Listen does not write the
	// bound port back here; Server.Port reports it.
	ListenPort int
	// AuthRealm is used in the Server response header and in the
	// Proxy-Authenticate challenge on 407 responses.
	AuthRealm string
	// Verbose enables per-request debug logging.
	Verbose bool
	// Policy is the embedder-supplied decision callback. Nil means "allow
	// everything, no authentication, no upstream".
	Policy policy.Func
	// Traffic holds the traffic-reporting settings. server.New does not read
	// it; the caller builds a traffic.Reporter from it (as cmd/proxychaind
	// does when URL is non-empty) and passes that reporter to server.New.
	Traffic TrafficConfig
	// UpstreamPool configures connection pooling for a fixed parent proxy
	// dialed by the chain/tunnelSocks handlers.
	UpstreamPool UpstreamPoolConfig
}

// TrafficConfig controls optional traffic telemetry reporting: a URL to
// report sessions to, a normal-vs-fast reporting mode, a periodic-report
// interval for fast mode, and a fast-global option to batch reports from
// all sessions through one shared reporter goroutine.
type TrafficConfig struct {
	URL        string
	Mode       string // "normal" or "fast"
	Interval   time.Duration
	FastGlobal bool
}

// UpstreamPoolConfig controls pooling of connections to a fixed parent
// proxy, dialed ahead of need by the chain/tunnelSocks handlers whenever a
// policy decision's upstream matches Parent. Ported from
// transport/pool.go's PoolConfig knobs.
type UpstreamPoolConfig struct {
	// Parent is the "host:port" of the fixed upstream proxy to pool
	// connections to. Empty disables pooling regardless of PoolSize.
	Parent              string
	PoolSize            int
	CheckParentInterval time.Duration
	DialTimeout         time.Duration
}

// WithDefaults fills in the zero-value defaults.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.ListenPort == 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.AuthRealm == "" {
		c.AuthRealm = DefaultAuthRealm
	}
	return c
}
