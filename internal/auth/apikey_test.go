package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(apiKey), UserScopeMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		headers  map[string]string
		wantCode int
		wantBody string
	}{
		{"auth disabled", "", map[string]string{"X-User-ID": "u1"}, http.StatusOK, "u1"},
		{"missing key", "secret", map[string]string{"X-User-ID": "u1"}, http.StatusUnauthorized, ""},
		{"wrong key", "secret", map[string]string{"X-API-Key": "nope", "X-User-ID": "u1"}, http.StatusForbidden, ""},
		{"valid key", "secret", map[string]string{"X-API-Key": "secret", "X-User-ID": "u2"}, http.StatusOK, "u2"},
		{"missing user", "secret", map[string]string{"X-API-Key": "secret"}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			newEngine(tt.apiKey).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
