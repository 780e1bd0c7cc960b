package security

import (
	"net"
	"net/http"
	"strings"
)

// ParseCIDRAllowlist parses a comma-split list of CIDR blocks, skipping
// blanks. An empty result disables allowlisting.
func ParseCIDRAllowlist(cidrs []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// IPAllowlist rejects requests whose peer address is outside the allowed
// networks. With no networks configured it is a no-op.
func IPAllowlist(allow []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allow) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				WriteJSONError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			ip := net.ParseIP(host)
			if ip == nil {
				WriteJSONError(w, r, http.StatusForbidden, "forbidden")
				return
			}

			for _, n := range allow {
				if n.Contains(ip) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteJSONError(w, r, http.StatusForbidden, "forbidden")
		})
	}
}
