package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/studiobook/backend/internal/config"
)

type contextKey string

const (
	orgIDKey contextKey = "orgID"
	actorKey contextKey = "actor"
)

// Claims are issued by the studio's identity provider. Every request acts on
// behalf of one organization.
type Claims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and puts the organization and acting user
// into the request context.
func Auth(cfg config.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := validateToken(parts[1], cfg)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), claims.OrgID, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(tokenString string, cfg config.JWTConfig) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(cfg.SecretKey), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.OrgID == "" || claims.Subject == "" {
		return nil, errors.New("token lacks org_id or sub")
	}
	return claims, nil
}

// WithIdentity returns ctx carrying an organization and actor.
func WithIdentity(ctx context.Context, orgID, actor string) context.Context {
	ctx = context.WithValue(ctx, orgIDKey, orgID)
	return context.WithValue(ctx, actorKey, actor)
}

func OrgIDFromContext(ctx context.Context) (string, bool) {
	orgID, ok := ctx.Value(orgIDKey).(string)
	return orgID, ok && orgID != ""
}

func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}
