// Command proxychaind runs a standalone proxy-chain server: bind a port,
// optionally require Proxy-Authorization (via a local file/pair list or an
// external HTTP auth API), optionally pool connections to a fixed parent
// proxy, optionally report per-connection traffic to an HTTP endpoint.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/nguyenduc308/proxy-chain/auth"
	"github.com/nguyenduc308/proxy-chain/config"
	"github.com/nguyenduc308/proxy-chain/server"
	"github.com/nguyenduc308/proxy-chain/traffic"
)

const appVersion = "1.0.0"

func main() {
	var (
		app = kingpin.New("proxychaind", "multiplexing HTTP/CONNECT proxy front-end")

		listenPort = app.Flag("port", "local port to listen on, 0 means the default 8000").Short('p').Default("8000").Int()
		realm      = app.Flag("realm", "realm advertised in Proxy-Authenticate challenges").Default(config.DefaultAuthRealm).String()
		verbose    = app.Flag("verbose", "enable per-request debug logging").Short('v').Default("false").Bool()

		authFile     = app.Flag("auth-file", `local auth file, "username:password" per line`).Short('F').String()
		authPairs    = app.Flag("auth", `inline "username:password" pair, repeatable`).Short('a').Strings()
		authURL      = app.Flag("auth-url", "external HTTP auth API URL (200/204 means accept)").String()
		authTimeout  = app.Flag("auth-timeout", "auth API request timeout").Default("3s").Duration()
		authCacheTTL = app.Flag("auth-cache-ttl", "auth API result cache TTL, 0 disables caching").Default("60s").Duration()

		parent              = app.Flag("parent", `fixed upstream proxy to pool connections to, "host:port"`).String()
		poolSize            = app.Flag("pool-size", "upstream connection pool size, 0 disables pooling").Short('L').Default("0").Int()
		checkParentInterval = app.Flag("check-parent-interval", "stored in the pool config; the pool does not read it and refills on a fixed 2s cycle").Default("3s").Duration()
		dialTimeout         = app.Flag("dial-timeout", "dial timeout for target/upstream connections").Default("5s").Duration()

		trafficURL      = app.Flag("traffic-url", "HTTP endpoint to report per-connection traffic sessions to").String()
		trafficMode     = app.Flag("traffic-mode", "traffic reporting mode").Default("normal").Enum("normal", "fast")
		trafficInterval = app.Flag("traffic-interval", "periodic report interval in fast mode").Default("5s").Duration()
		fastGlobal      = app.Flag("fast-global", "share one reporter goroutine across all fast-mode sessions").Default("false").Bool()
	)
	app.Author("proxy-chain").Version(appVersion)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	authenticator, err := buildAuthenticator(*authFile, *authPairs, *authURL, *authTimeout, *authCacheTTL, *verbose)
	if err != nil {
		log.Fatalf("proxychaind: %v", err)
	}
	if authenticator != nil {
		defer authenticator.Close()
	}

	cfg := config.ServerConfig{
		ListenPort: *listenPort,
		AuthRealm:  *realm,
		Verbose:    *verbose,
		Traffic: config.TrafficConfig{
			URL:        *trafficURL,
			Mode:       *trafficMode,
			Interval:   *trafficInterval,
			FastGlobal: *fastGlobal,
		},
		UpstreamPool: config.UpstreamPoolConfig{
			Parent:              *parent,
			PoolSize:            *poolSize,
			CheckParentInterval: *checkParentInterval,
			DialTimeout:         *dialTimeout,
		},
	}

	var reporter traffic.Reporter
	if cfg.Traffic.URL != "" {
		reporter = traffic.NewHTTPReporter(cfg.Traffic.URL, cfg.Traffic.Mode, cfg.Traffic.Interval, cfg.Traffic.FastGlobal)
	}

	srv := server.New(cfg, authenticator, reporter)
	if err := srv.Listen(); err != nil {
		log.Fatalf("proxychaind: %v", err)
	}
	log.Printf("proxychaind v%s listening on :%d", appVersion, srv.Port())

	waitForShutdown(srv)
}

// buildAuthenticator picks at most one Authenticator backend from the
// configured flags: an external API wins over a local file/pair list, which
// wins over no authentication at all. Returning a nil Authenticator with a
// nil error means every request is allowed through without a
// Proxy-Authorization challenge.
func buildAuthenticator(authFile string, authPairs []string, authURL string, authTimeout, authCacheTTL time.Duration, debug bool) (auth.Authenticator, error) {
	if authURL != "" {
		return auth.NewAPIAuth(authURL, authTimeout, authCacheTTL, debug), nil
	}
	if authFile == "" && len(authPairs) == 0 {
		return nil, nil
	}

	basic := auth.NewBasicAuth()
	total := basic.Add(authPairs)
	if authFile != "" {
		n, err := basic.AddFromFile(authFile)
		if err != nil {
			return nil, fmt.Errorf("read auth file %q: %w", authFile, err)
		}
		total += n
	}
	if total == 0 {
		return nil, fmt.Errorf("auth-file/auth flags given but no usable \"username:password\" pairs were loaded")
	}
	return basic, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops accepting new
// connections while leaving any already-tunneling sockets alone.
func waitForShutdown(srv *server.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("proxychaind: shutting down")
	if err := srv.Close(false); err != nil {
		log.Printf("proxychaind: close: %v", err)
	}
}
