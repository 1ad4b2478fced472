package handler

import (
	"log/slog"
	"net/http"
	"strings"
)

// DevOrigins are always allowed so local frontends work without configuration.
var DevOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:3000",
}

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, X-Correlation-Id"
	corsMaxAge       = "600"
)

// CORSPolicy is an origin allow-list. An entry ending in ":*" matches any port
// on that scheme and host.
type CORSPolicy struct {
	exact   map[string]struct{}
	anyPort []string
}

// NewCORSPolicy allows the dev origins plus origins. Trailing slashes are ignored.
func NewCORSPolicy(origins []string) *CORSPolicy {
	p := &CORSPolicy{exact: make(map[string]struct{})}
	for _, o := range append(append([]string{}, DevOrigins...), origins...) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(o, ":*"); ok {
			p.anyPort = append(p.anyPort, prefix+":")
			continue
		}
		p.exact[o] = struct{}{}
	}
	return p
}

func (p *CORSPolicy) Allowed(origin string) bool {
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, prefix := range p.anyPort {
		port, ok := strings.CutPrefix(origin, prefix)
		if ok && port != "" && isDigits(port) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// WithCORSPolicy rejects requests from origins outside the policy with 403 and
// answers preflights itself. Requests without an Origin header pass through.
func WithCORSPolicy(next http.Handler, policy *CORSPolicy, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Origin")
		if !policy.Allowed(origin) {
			logger.WarnContext(r.Context(), "http.cors.denied",
				"origin", origin,
				"path", r.URL.Path,
				"correlation_id", CorrelationID(r.Context()),
			)
			writeError(w, http.StatusForbidden, "Origin not allowed")
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", correlationHeader)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
