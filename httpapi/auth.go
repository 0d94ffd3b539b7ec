package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type identityKey struct{}

// Identity is the authenticated caller, attached to the request context by
// the auth middleware.
type Identity struct {
	Subject string
	Claims  map[string]any
}

// IdentityFromContext returns the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// KeyProvider resolves the signing key for a JWT's "kid" header, allowing
// key rotation without a redeploy.
type KeyProvider interface {
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider always returns the same key, for single-key
// deployments.
type StaticKeyProvider struct {
	Key []byte
}

func (p StaticKeyProvider) GetKey(context.Context, string) (any, error) { return p.Key, nil }

// AuthConfig configures the bearer-token admission surface named in
// spec.md §4.11: production default is auth-on, with a single env-var
// development bypass.
type AuthConfig struct {
	KeyProvider KeyProvider
	Issuer      string
	Audience    string
	// Bypass disables token verification entirely. Set only from
	// GATEWAY_AUTH_BYPASS in non-production environments.
	Bypass bool
}

// Authenticate returns middleware enforcing bearer-token admission. A
// missing or invalid token yields 401 with VALIDATION_FAILED; Bypass=true
// admits every request as an anonymous identity instead.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Bypass {
				ctx := context.WithValue(r.Context(), identityKey{}, Identity{Subject: "dev-bypass"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeUnauthenticated(w)
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if cfg.KeyProvider == nil {
					return nil, errors.New("httpapi: no signing key configured")
				}
				kid, _ := t.Header["kid"].(string)
				return cfg.KeyProvider.GetKey(r.Context(), kid)
			})
			if err != nil || !token.Valid {
				writeUnauthenticated(w)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeUnauthenticated(w)
				return
			}
			if cfg.Issuer != "" {
				if iss, _ := claims["iss"].(string); iss != cfg.Issuer {
					writeUnauthenticated(w)
					return
				}
			}
			if cfg.Audience != "" && !hasAudience(claims, cfg.Audience) {
				writeUnauthenticated(w)
				return
			}

			sub, _ := claims["sub"].(string)
			id := Identity{Subject: sub, Claims: map[string]any(claims)}
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAudience(claims jwt.MapClaims, want string) bool {
	switch v := claims["aud"].(type) {
	case string:
		return v == want
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, turnResponse{
		OK:    false,
		Error: &errorWire{Code: "VALIDATION_FAILED", Message: "missing or invalid bearer token"},
	})
}
