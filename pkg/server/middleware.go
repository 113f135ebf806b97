package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/UrHighness01/Intelli-sub000/pkg/auth"
	"github.com/UrHighness01/Intelli-sub000/pkg/ratelimit"
)

type identityKey struct{}

// IdentityFrom returns the authenticated identity attached by
// requireAuth; ok is false on unauthenticated requests (public routes).
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// JWTValidator accepts externally-issued HS256 tokens as a second
// bearer scheme alongside the opaque token store.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTValidator builds a validator; secret must be non-empty.
func NewJWTValidator(secret []byte, issuer, audience string) (*JWTValidator, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("server: jwt secret is empty")
	}
	return &JWTValidator{secret: secret, issuer: issuer, audience: audience}, nil
}

// Validate parses and verifies tokenString, mapping its claims onto an
// Identity. Roles come from a "roles" array claim.
func (v *JWTValidator) Validate(tokenString string) (auth.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Identity{}, err
	}
	if !token.Valid {
		return auth.Identity{}, errors.New("invalid token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return auth.Identity{}, errors.New("token has no subject")
	}
	var roles []string
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	return auth.Identity{Username: sub, Roles: roles}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}

// requireAuth resolves the bearer token against the opaque store first,
// then the optional JWT validator, and attaches the identity.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}

		identity, ok := s.Auth.GetUserForToken(token)
		if !ok && s.JWT != nil {
			var err error
			identity, err = s.JWT.Validate(token)
			ok = err == nil
		}
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func hasRole(id auth.Identity, role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// requireAdmin runs after requireAuth and checks the admin role.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || !hasRole(id, "admin") {
			writeDetail(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientRateLimit enforces the per-IP sliding window.
func (s *Server) clientRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.ClientLimiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := ratelimit.ClientKey(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)
			if err := s.ClientLimiter.Check(key, time.Now()); err != nil {
				var denied *ratelimit.Denied
				if errors.As(err, &denied) {
					s.recordRateLimitDenied("client")
					writeRateLimited(w, denied)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userRateLimit enforces the per-user window; it must run after
// requireAuth.
func (s *Server) userRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok || s.UserLimiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			if err := s.UserLimiter.Check(id.Username, time.Now()); err != nil {
				var denied *ratelimit.Denied
				if errors.As(err, &denied) {
					s.recordRateLimitDenied("user")
					writeRateLimited(w, denied)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) recordRateLimitDenied(scope string) {
	if s.Observability != nil && s.Observability.Metrics() != nil {
		s.Observability.Metrics().RecordRateLimitDenied(scope)
	}
}
