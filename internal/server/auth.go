package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/profilerag-go/internal/logging"
)

const (
	// codeUnauthorized is the error code of 401 responses.
	codeUnauthorized = "unauthorized"

	// authRealm names the protection space in WWW-Authenticate challenges.
	authRealm = "profilerag-admin"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check; New warns about that once at startup. Failures
// answer 401 with a Bearer challenge and a JSON error body. The presented
// token is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := bearerToken(r)
		if present && subtle.ConstantTimeCompare([]byte(token), want) == 1 {
			next.ServeHTTP(w, r)
			return
		}

		log := logging.FromContext(r.Context())
		challenge := `Bearer realm="` + authRealm + `"`
		msg := "admin routes require a bearer token"
		if present {
			challenge += ` error="invalid_token"`
			msg = "invalid bearer token"
			log.Warn("auth: invalid token", slog.String("path", r.URL.Path))
		} else {
			log.Warn("auth: missing bearer token", slog.String("path", r.URL.Path))
		}
		w.Header().Set("WWW-Authenticate", challenge)
		writeError(r.Context(), w, http.StatusUnauthorized, codeUnauthorized, msg)
	})
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header. present reports whether a non-empty bearer token was sent.
func bearerToken(r *http.Request) (token string, present bool) {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(rest)
	return token, token != ""
}
