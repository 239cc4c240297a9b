package transport

import (
	"net/url"
	"strconv"
	"strings"

	"toolgate/pkg/logging"
)

// OriginPolicy decides whether a browser-supplied Origin header may reach
// the protocol endpoint. Loopback origins on the service port are always
// trusted; additional public domains are honored only in production mode.
// This guards against DNS rebinding, where a hostile page resolves to the
// local service and the browser attaches the page's origin.
type OriginPolicy struct {
	Port           int
	Production     bool
	AllowedDomains []string
}

var loopbackHosts = []string{"localhost", "127.0.0.1", "[::1]"}

// Allows reports whether a request carrying the given Origin header may
// proceed. An empty origin means the request did not come from a browser
// cross-origin context and is allowed.
func (p OriginPolicy) Allows(origin string) bool {
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		logging.Warn("Origin", "Rejecting malformed Origin header %q", origin)
		return false
	}

	for _, host := range loopbackHosts {
		if strings.EqualFold(u.Host, host+":"+strconv.Itoa(p.Port)) {
			return true
		}
		// Browsers omit default ports from the Origin value.
		if (u.Scheme == "http" && p.Port == 80) || (u.Scheme == "https" && p.Port == 443) {
			if strings.EqualFold(u.Host, host) {
				return true
			}
		}
	}

	if p.Production {
		for _, domain := range p.AllowedDomains {
			if strings.EqualFold(u.Hostname(), domain) {
				return true
			}
		}
	}

	logging.Warn("Origin", "Rejecting disallowed Origin header %q", origin)
	return false
}
