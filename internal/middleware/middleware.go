package middleware

import (
	"log"
	"net/http"
	"strings"
	"time"

	"readinglog/internal/auth"
)

// Logging logs method, path, status and duration for every request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Auth validates the signed owner cookie. When no owner password is
// configured the lock is off and everything passes through.
func Auth(a *auth.Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(auth.CookieName)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := a.ValidateSignedCookie(cookie.Value); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicEndpoint(path string) bool {
	exactPaths := []string{"/", "/api/login"}
	for _, p := range exactPaths {
		if path == p {
			return true
		}
	}
	prefixPaths := []string{"/static/"}
	for _, p := range prefixPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
