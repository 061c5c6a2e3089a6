package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"campuschat/pkg/logger"
	"campuschat/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig drives authentication, CORS and rate limiting. Shared here so
// limiter.go and gateway.go can reference the same type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
	SigningKeys    map[string]struct{}
}

type ctxUserKey struct{}

// RequireIdentity resolves the acting user for a request and injects it
// into the context. Identity verification proper is the upstream auth
// service's job; this layer trusts X-User-ID from backend and admin
// callers, and for frontend callers additionally checks the HMAC
// signature the upstream attaches when signing keys are configured.
func RequireIdentity(cfg SecConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID == "" {
				userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
			}
			if ok, msg := validIdentity(userID); !ok {
				utils.JSONError(w, http.StatusUnauthorized, msg)
				logger.Warn("missing_identity", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}

			role := r.Header.Get("X-Role-Name")
			if role == "frontend" && len(cfg.SigningKeys) > 0 {
				sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))
				if sig == "" {
					sig = strings.TrimSpace(r.URL.Query().Get("user_sig"))
				}
				if !signatureValid(userID, sig, cfg.SigningKeys) {
					utils.JSONError(w, http.StatusUnauthorized, "invalid identity signature")
					logger.Warn("invalid_signature", "user", userID, "path", r.URL.Path)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ctxUserKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the resolved acting user, empty when the
// request never passed RequireIdentity.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}

func validIdentity(id string) (bool, string) {
	if id == "" {
		return false, "user identity required"
	}
	if len(id) > 128 {
		return false, "user identity too long"
	}
	return true, ""
}

func signatureValid(userID, sig string, keys map[string]struct{}) bool {
	if sig == "" {
		return false
	}
	for k := range keys {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write([]byte(userID))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}
