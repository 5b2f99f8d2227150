package download

import (
	"fmt"
	"net"

	"github.com/slicingmelon/go-rawurlparser"
)

// Endpoint identifies a connection target: the (scheme, host, port)
// triple a Connection is dialed against. Two requests to the same
// Endpoint are eligible to share a pooled Connection.
type Endpoint struct {
	Scheme string
	Host   string
	Port   string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%s", e.Scheme, e.Host, e.Port)
}

// Addr returns the host:port dial target for this Endpoint.
func (e Endpoint) Addr() string {
	return e.Host + ":" + e.Port
}

// defaultPort fills in the dial port when a URL carries none: 443 for
// https, 80 for http and for any other scheme.
func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// ParseEndpoint computes the Endpoint a rawURL would be dialed against,
// preserving the URL's raw form (go-rawurlparser does not normalize the
// path or escape characters the way net/url does, which matters for feed
// URLs whose identity is their exact byte form).
func ParseEndpoint(rawURL string) (Endpoint, error) {
	parsed, err := rawurlparser.RawURLParse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("download: parse %q: %w", rawURL, err)
	}

	host, port, splitErr := net.SplitHostPort(parsed.Host)
	if splitErr != nil {
		host = parsed.Hostname()
		port = defaultPort(parsed.Scheme)
	}

	return Endpoint{
		Scheme: parsed.Scheme,
		Host:   host,
		Port:   port,
	}, nil
}

// EndpointForProxy computes the Endpoint requests should actually be
// dialed to when an HTTP proxy applies: the proxy's own endpoint, with
// the scheme kept as "http" for pooling purposes since the request line
// still carries the full absolute URL of the real target.
func EndpointForProxy(proxyURL string) (Endpoint, error) {
	ep, err := ParseEndpoint(proxyURL)
	if err != nil {
		return Endpoint{}, err
	}
	ep.Scheme = "http"
	return ep, nil
}
