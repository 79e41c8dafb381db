package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Dhoini/humanizer-billing/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCORSRouter(t *testing.T, origins []string) *gin.Engine {
	t.Helper()
	mw, err := middleware.NewCORS(origins)
	require.NoError(t, err)

	r := gin.New()
	r.Use(mw)
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func corsRequest(r http.Handler, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/x", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if method == http.MethodOptions {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := newCORSRouter(t, []string{"https://app.example.com/"})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		w := corsRequest(r, http.MethodOptions, "https://app.example.com")

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	})

	t.Run("preflight from unknown origin", func(t *testing.T) {
		w := corsRequest(r, http.MethodOptions, "https://evil.example.com")

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request", func(t *testing.T) {
		w := corsRequest(r, http.MethodPost, "https://app.example.com")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("request without origin", func(t *testing.T) {
		w := corsRequest(r, http.MethodPost, "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_WildcardNeverAllowsCredentials(t *testing.T) {
	r := newCORSRouter(t, []string{"*"})

	w := corsRequest(r, http.MethodPost, "https://evil.example")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_EmptyListDisablesHeaders(t *testing.T) {
	r := newCORSRouter(t, nil)

	w := corsRequest(r, http.MethodPost, "https://app.example.com")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewCORS_RejectsInvalidOrigin(t *testing.T) {
	_, err := middleware.NewCORS([]string{"app.example.com"})
	assert.Error(t, err)
}
