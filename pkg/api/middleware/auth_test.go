package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detox/pkg/auth"
)

func TestAuthMiddleware(t *testing.T) {
	svc, err := auth.NewJWTService(auth.DefaultJWTConfig("s3cret"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequestIDMiddleware(), AuthMiddleware(svc, auth.ScopeReadRuns))
	router.GET("/runs", func(c *gin.Context) {
		claims, ok := GetClaims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	reader, err := svc.GenerateToken("dashboard", time.Hour, auth.ScopeReadRuns)
	require.NoError(t, err)
	scopeless, err := svc.GenerateToken("dashboard", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + reader, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"missing scope", "Bearer " + scopeless, http.StatusForbidden},
		{"valid", "Bearer " + reader, http.StatusOK},
		{"lower-case scheme", "bearer " + reader, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/runs", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
			if tt.want == http.StatusOK {
				assert.Equal(t, "dashboard", w.Body.String())
			}
		})
	}
}
