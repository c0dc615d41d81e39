package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edvin/logistica/internal/api/response"
)

type contextKey string

const identityKey contextKey = "identity"

// Token roles. Viewers may only read. Tokens without a role are viewers.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Claims are the bearer token claims. The subject names the operator.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Role    string
}

// Auth returns a middleware that validates HS256 bearer tokens signed with
// secret and stores the caller's Identity in the request context.
func Auth(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			var claims Claims
			parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !parsed.Valid {
				response.WriteError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			if claims.Subject == "" {
				response.WriteError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, &Identity{Subject: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// GetIdentity returns the authenticated caller, or nil.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Actor names the caller for activity records.
func Actor(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil {
		return id.Subject
	}
	return "anonymous"
}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// RequireRole rejects callers whose token role is not one of roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil {
				response.WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			role := id.Role
			if role == "" {
				role = RoleViewer
			}
			if !slices.Contains(roles, role) {
				response.WriteError(w, http.StatusForbidden, fmt.Sprintf("role %q may not %s %s", role, r.Method, r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a token for subject valid for ttl.
func IssueToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
