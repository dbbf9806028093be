package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	identityKey contextKey = "identity"
)

// identity lets Logging, which runs outside JWTAuth, see the authenticated user
type identity struct{ userID string }

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTAuth validates an HS256 bearer token and stores its subject as the user id.
// issuer is checked only when non-empty.
func JWTAuth(secret []byte, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticate(r.Header.Get("Authorization"), secret, issuer)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dermascan"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if h, ok := r.Context().Value(identityKey).(*identity); ok {
				h.userID = userID
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(header string, secret []byte, issuer string) (string, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return secret, nil }, opts...)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || ValidateUserID(sub) != nil {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// UserIDFromContext returns the authenticated user id, or "" outside JWTAuth
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID is used by tests and internal callers that bypass JWTAuth
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
