package ledger

import (
	"net"
	"net/http"
	"strings"
)

// ResolveIdentity returns the quota key for a request. The first
// X-Forwarded-For entry is used only when trustForwarded is set, which is safe
// only behind a reverse proxy that overwrites the header.
func ResolveIdentity(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
