package auth

import (
	"context"
	"net"

	"github.com/nguyenduc308/proxy-chain/policy"
)

// Policy adapts an Authenticator into a policy.Func: it is the
// ready-made decision callback an embedder installs on ServerConfig to
// require Proxy-Authorization credentials and optionally route the
// authenticated user through a per-user upstream proxy.
func Policy(a Authenticator) policy.Func {
	return func(ctx context.Context, in policy.Input) (policy.Result, error) {
		creds := Credentials{
			User:   in.Username,
			Pass:   in.Password,
			Target: net.JoinHostPort(in.Hostname, in.Port),
		}
		if in.Request != nil {
			creds.ClientIP = clientIP(in.Request.RemoteAddr)
		}

		result, err := a.Authenticate(ctx, creds)
		if err != nil {
			return policy.Result{}, err
		}
		if !result.OK {
			return policy.Result{RequestAuthentication: true}, nil
		}
		return policy.Result{UpstreamProxyURL: result.Upstream}, nil
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
