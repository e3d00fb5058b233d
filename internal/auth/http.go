// ABOUTME: HTTP middleware guarding the WhatsApp API with a bearer credential
// ABOUTME: Accepts the configured API key or, when enabled, a signed JWT

package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// apiKeySubject is the subject recorded for API-key callers.
const apiKeySubject = "api-key"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticator checks bearer credentials.
type Authenticator struct {
	apiKey   []byte
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewAuthenticator creates an Authenticator. verifier may be nil to accept
// only the API key.
func NewAuthenticator(apiKey string, verifier TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		apiKey:   []byte(apiKey),
		verifier: verifier,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate resolves a bearer token to an AuthContext.
func (a *Authenticator) Authenticate(token string) (*AuthContext, bool) {
	if len(a.apiKey) > 0 && subtle.ConstantTimeCompare([]byte(token), a.apiKey) == 1 {
		return &AuthContext{Subject: apiKeySubject, Method: MethodAPIKey}, true
	}
	if a.verifier == nil {
		return nil, false
	}
	subject, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("token rejected", "error", err)
		return nil, false
	}
	return &AuthContext{Subject: subject, Method: MethodJWT}, true
}

// Middleware rejects requests without a valid bearer credential and
// attaches the caller's AuthContext otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			unauthorized(w, errMsg)
			return
		}

		authCtx, ok := a.Authenticate(token)
		if !ok {
			a.logger.Warn("unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			unauthorized(w, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="wa-gateway"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
