package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/origin"
)

// withOriginPolicy rejects browser requests from origins outside the
// allow-list and adds CORS headers for allowed ones.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Origin"))
		if raw == "" {
			next(w, r)
			return
		}

		o, ok := origin.Parse(raw)
		if !ok || !origin.Allowed(o, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", o.String())
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")
		next(w, r)
	}
}
