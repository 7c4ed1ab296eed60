package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/auth"
)

const bearerPrefix = "Bearer "

// requireBearer rejects requests without a valid token and stores the
// token and its subject in the request context.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if s.signer == nil {
			writeError(w, http.StatusUnauthorized, "authentication is not configured")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		claims, err := s.signer.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithToken(r.Context(), token)
		ctx = auth.ContextWithSubject(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		}
		if sw.status >= http.StatusInternalServerError {
			s.logger.Error("request failed", attrs...)
			return
		}
		s.logger.Debug("request", attrs...)
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "method", r.Method, "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
