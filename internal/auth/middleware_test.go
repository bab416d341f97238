package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newClaims(subject, role string) Claims {
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{"scoreslip"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	authed := router.Group("/", JWTMiddleware(testSecret, "scoreslip"))
	authed.GET("/me", func(c *gin.Context) {
		session, _ := GetSessionID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"session": session, "role": GetRole(c.Request.Context())})
	})
	authed.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func serve(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddleware(t *testing.T) {
	router := newRouter()
	expired := newClaims("s1", "")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAudience := newClaims("s1", "")
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"bad signature", signToken(t, "other-secret", newClaims("s1", "")), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, expired), http.StatusUnauthorized},
		{"wrong audience", signToken(t, testSecret, wrongAudience), http.StatusUnauthorized},
		{"missing subject", signToken(t, testSecret, newClaims("", "")), http.StatusUnauthorized},
		{"valid", signToken(t, testSecret, newClaims("s1", "")), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := serve(router, "/me", tc.token); resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := newRouter()

	if resp := serve(router, "/admin", signToken(t, testSecret, newClaims("s1", ""))); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without role, got %d", resp.Code)
	}
	if resp := serve(router, "/admin", signToken(t, testSecret, newClaims("s1", RoleAdmin))); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", resp.Code)
	}
}
