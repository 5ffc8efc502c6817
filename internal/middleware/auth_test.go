package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/config"
)

var testJWT = config.JWTConfig{SecretKey: "test-secret", Issuer: "studio-auth"}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		OrgID: "org_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff_1",
			Issuer:    "studio-auth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuth(t *testing.T) {
	var gotOrg, gotActor string
	handler := Auth(testJWT)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg, _ = OrgIDFromContext(r.Context())
		gotActor = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/review-queue", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, []byte("test-secret"), validClaims())

		assert.Equal(t, http.StatusNoContent, serve("Bearer "+token))
		assert.Equal(t, "org_1", gotOrg)
		assert.Equal(t, "staff_1", gotActor)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(""))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("Basic abc"))
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims())
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token))
	})

	t.Run("expired", func(t *testing.T) {
		claims := validClaims()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		token := signToken(t, jwt.SigningMethodHS256, []byte("test-secret"), claims)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token))
	})

	t.Run("other issuer", func(t *testing.T) {
		claims := validClaims()
		claims.Issuer = "elsewhere"
		token := signToken(t, jwt.SigningMethodHS256, []byte("test-secret"), claims)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token))
	})

	t.Run("missing org", func(t *testing.T) {
		claims := validClaims()
		claims.OrgID = ""
		token := signToken(t, jwt.SigningMethodHS256, []byte("test-secret"), claims)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token))
	})

	t.Run("unexpected algorithm", func(t *testing.T) {
		token := signToken(t, jwt.SigningMethodHS512, []byte("test-secret"), validClaims())
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
