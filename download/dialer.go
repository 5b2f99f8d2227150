package download

import (
	"context"
	"net"
	"time"

	"github.com/projectdiscovery/fastdialer/fastdialer"
	"github.com/projectdiscovery/gcache"
)

// defaultResolveTTL bounds the per-engine DNS cache, trading a bounded
// window of staleness for not re-resolving every dial.
const defaultResolveTTL = 5 * time.Minute

// Dialer creates the underlying net.Conn for a fresh pooled connection. It
// wraps fastdialer for TCP/TLS dialing and layers a bounded-TTL resolve
// cache on top.
type Dialer struct {
	fd       *fastdialer.Dialer
	resolved gcache.Cache[string, string]
}

// NewDialer builds a Dialer. Proxy routing is not its concern:
// RequestsQueue already resolves proxied plain-HTTP requests to the
// proxy's own Endpoint before calling Dial, so the dialer itself only
// ever needs to open a plain TCP/TLS connection to whatever Endpoint it
// is given.
func NewDialer(dialTimeout time.Duration) (*Dialer, error) {
	opts := fastdialer.DefaultOptions
	opts.DialerTimeout = dialTimeout

	fd, err := fastdialer.NewDialer(opts)
	if err != nil {
		return nil, err
	}

	cache := gcache.New[string, string](1024).LRU().Expiration(defaultResolveTTL).Build()

	return &Dialer{fd: fd, resolved: cache}, nil
}

// Dial opens a fresh TCP (or TLS, for https endpoints) connection to ep.
func (d *Dialer) Dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	network := "tcp"
	addr := ep.Addr()

	if ep.Scheme == "https" {
		return d.fd.DialTLS(ctx, network, addr)
	}
	return d.fd.Dial(ctx, network, addr)
}

// Resolve returns the cached IP for host if present and unexpired,
// otherwise resolves it through fastdialer's DNS client and caches the
// result.
func (d *Dialer) Resolve(host string) (string, error) {
	if ip, err := d.resolved.Get(host); err == nil {
		return ip, nil
	}

	var ip string
	if data, err := d.fd.GetDNSData(host); err == nil && len(data.A) > 0 {
		ip = data.A[0]
	} else {
		resolved, rerr := net.DefaultResolver.LookupHost(context.Background(), host)
		if rerr != nil || len(resolved) == 0 {
			if err != nil {
				return "", err
			}
			return "", rerr
		}
		ip = resolved[0]
	}

	_ = d.resolved.SetWithExpire(host, ip, defaultResolveTTL)
	return ip, nil
}

// Close releases the underlying dialer's resources.
func (d *Dialer) Close() {
	d.fd.Close()
}
