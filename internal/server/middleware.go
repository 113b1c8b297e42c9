package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// authExempt lists paths reachable without the bearer token so load
// balancers and probes keep working when HTTP_TOKEN is set.
var authExempt = map[string]bool{
	"/":        true,
	"/healthz": true,
	"/status":  true,
}

// bearerAuth enforces the static bearer token when one is configured.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.settings.HTTPToken
		if token == "" || authExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger logs one line per request. Health probes log at debug so
// they do not drown the output.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		line := s.log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Logger()
		if r.URL.Path == "/healthz" || r.URL.Path == "/status" {
			line.Debug("request")
			return
		}
		line.Info("request")
	})
}
