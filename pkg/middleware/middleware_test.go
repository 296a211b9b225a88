package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("clientID"))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTAuth("secret"))
	valid := signedToken(t, "secret", jwt.MapClaims{
		"client_id": "0xabc",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "0xabc"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signedToken(t, "other", jwt.MapClaims{"client_id": "0xabc", "exp": time.Now().Add(time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"missing client id", "Bearer " + signedToken(t, "secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signedToken(t, "secret", jwt.MapClaims{"client_id": "0xabc", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"missing expiry", "Bearer " + signedToken(t, "secret", jwt.MapClaims{"client_id": "0xabc"}), http.StatusUnauthorized, ""},
		{"not a bearer", "Token " + valid, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestInternalAuth(t *testing.T) {
	r := newRouter(InternalAuth("internal"))
	token := signedToken(t, "internal", jwt.MapClaims{"client_id": "operator", "exp": time.Now().Add(time.Hour).Unix()})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit_PerWallet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/offers/limited", func(c *gin.Context) {
		c.Set("clientID", c.GetHeader("X-Wallet"))
	}, RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	post := func(wallet string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/offers/limited", nil)
		req.Header.Set("X-Wallet", wallet)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < burst; i++ {
		require.Equal(t, http.StatusOK, post("0xlimited-a"), "request %d", i)
	}
	assert.Equal(t, http.StatusBadRequest, post("0xlimited-a"))
	assert.Equal(t, http.StatusOK, post("0xlimited-b"), "another wallet from the same IP keeps its own budget")
}

func TestRateLimit_UnlistedPathsAreUnlimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", RateLimit(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3*burst; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}
