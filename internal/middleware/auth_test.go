package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{JWT: config.JWTConfig{Secret: "middleware-secret", ExpireTime: time.Hour, CookieName: "token"}}
}

func token(t *testing.T, cfg *config.Config, isAdmin bool, ttl time.Duration) string {
	user := &model.User{Username: "alice", IsAdmin: isAdmin}
	user.ID = 7
	tok, err := util.GenerateJWT(user, cfg.JWT.Secret, ttl)
	require.NoError(t, err)
	return tok
}

func newRouter(cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/me", AuthMiddleware(cfg), func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})
	r.GET("/admin", AuthMiddleware(cfg), AdminMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	r := newRouter(cfg)

	tests := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{"missing token", func(req *http.Request) {}, http.StatusUnauthorized},
		{"bearer header", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token(t, cfg, false, time.Hour))
		}, http.StatusOK},
		{"cookie", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: "token", Value: token(t, cfg, false, time.Hour)})
		}, http.StatusOK},
		{"expired", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token(t, cfg, false, -time.Minute))
		}, http.StatusUnauthorized},
		{"wrong secret", func(req *http.Request) {
			other := &config.Config{JWT: config.JWTConfig{Secret: "other"}}
			req.Header.Set("Authorization", "Bearer "+token(t, other, false, time.Hour))
		}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	cfg := testConfig()
	r := newRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, cfg, false, time.Hour))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, cfg, true, time.Hour))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLoggerEchoesRequestID(t *testing.T) {
	r := newRouter(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}
