// Package security checks the endpoints threadkeeper is configured to send
// conversation content to.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrDisallowedEndpoint = errors.New("endpoint not allowed")

// EndpointPolicy says which endpoints a configured base URL may point at.
// HTTPS to a public host is always allowed.
type EndpointPolicy struct {
	AllowHTTP          bool
	AllowLocalNetworks bool
}

// LocalEndpoints allows plain HTTP and local hosts, for self-hosted
// OpenAI-compatible servers.
var LocalEndpoints = EndpointPolicy{AllowHTTP: true, AllowLocalNetworks: true}

// Check validates rawURL without resolving its host.
func (p EndpointPolicy) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(ErrDisallowedEndpoint, "parse %q: %v", rawURL, err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return errors.Wrapf(ErrDisallowedEndpoint, "%s: plain http", rawURL)
		}
	default:
		return errors.Wrapf(ErrDisallowedEndpoint, "%s: scheme %q", rawURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return errors.Wrapf(ErrDisallowedEndpoint, "%s: no host", rawURL)
	}

	if !p.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return errors.Wrapf(ErrDisallowedEndpoint, "%s: local host %q", rawURL, host)
		}
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// a name, nothing more to check without DNS
		return nil
	}
	if addr.Zone() != "" && !p.AllowLocalNetworks {
		return errors.Wrapf(ErrDisallowedEndpoint, "%s: zoned address", rawURL)
	}
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return errors.Wrapf(ErrDisallowedEndpoint, "%s: address %s", rawURL, addr)
	}
	if !p.AllowLocalNetworks &&
		(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()) {
		return errors.Wrapf(ErrDisallowedEndpoint, "%s: local address %s", rawURL, addr)
	}
	return nil
}
