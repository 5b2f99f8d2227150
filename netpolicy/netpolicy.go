// Package netpolicy implements the NetworkUse gate: a three-value
// Offline/Minimal/Full fetch-permission mode, plus a Minimal-mode host
// denylist built on github.com/projectdiscovery/networkpolicy so private
// and loopback targets are refused even when a feed's scheme would
// otherwise pass.
package netpolicy

import (
	"net/url"

	"github.com/projectdiscovery/networkpolicy"
)

// NetworkUse is the enumerated fetch-permission mode: Offline refuses
// every network fetch, Minimal allows it except against private/loopback
// hosts, and Full allows anything.
type NetworkUse int

const (
	Offline NetworkUse = iota
	Minimal
	Full
)

func (n NetworkUse) String() string {
	switch n {
	case Offline:
		return "offline"
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Parse converts a config string ("offline"|"minimal"|"full") into a
// NetworkUse, defaulting to Full on anything else so a missing/garbled
// config value never silently forbids fetching.
func Parse(s string) NetworkUse {
	switch s {
	case "offline":
		return Offline
	case "minimal":
		return Minimal
	default:
		return Full
	}
}

// minimalDenyList blocks private, loopback and link-local ranges in
// Minimal mode.
var minimalDenyList = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"fc00::/7",
	"::1/128",
	"fe80::/10",
}

// Gate decides, for a given NetworkUse, whether a feed URL may be
// fetched over the network.
type Gate struct {
	use    NetworkUse
	policy *networkpolicy.NetworkPolicy
}

// New builds a Gate for the given mode. In Minimal mode it constructs the
// denylist policy; in Offline/Full modes no policy object is needed.
func New(use NetworkUse) (*Gate, error) {
	g := &Gate{use: use}
	if use == Minimal {
		np, err := networkpolicy.New(networkpolicy.Options{DenyList: minimalDenyList})
		if err != nil {
			return nil, err
		}
		g.policy = np
	}
	return g, nil
}

// Use reports the Gate's configured NetworkUse.
func (g *Gate) Use() NetworkUse { return g.use }

// Allowed reports whether rawURL may be fetched under this Gate: always
// false in Offline mode, always true in Full mode, and in Minimal mode
// true unless the host resolves into the private/loopback denylist.
func (g *Gate) Allowed(rawURL string) bool {
	switch g.use {
	case Offline:
		return false
	case Full:
		return true
	default:
		u, err := url.Parse(rawURL)
		if err != nil || u.Hostname() == "" {
			return true
		}
		return g.policy.Validate(u.Hostname())
	}
}
