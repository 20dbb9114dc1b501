package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/BenedictKing/model-radar/internal/config"
)

func setupRouterWithAuth(accessKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(&config.EnvConfig{ProxyAccessKey: accessKey}))
	ok := func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) }
	r.GET("/health", ok)
	r.POST("/api/guest/validate", ok)
	r.GET("/api/channels", ok)
	r.GET("/api/sse/progress", ok)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := setupRouterWithAuth("secret-key")

	cases := []struct {
		name   string
		method string
		path   string
		header map[string]string
		want   int
	}{
		{"health is public", "GET", "/health", nil, 200},
		{"guest validate is public", "POST", "/api/guest/validate", nil, 200},
		{"missing key rejected", "GET", "/api/channels", nil, 401},
		{"wrong key rejected", "GET", "/api/channels", map[string]string{"x-api-key": "nope"}, 401},
		{"x-api-key accepted", "GET", "/api/channels", map[string]string{"x-api-key": "secret-key"}, 200},
		{"bearer token accepted", "GET", "/api/channels", map[string]string{"Authorization": "Bearer secret-key"}, 200},
		{"wrong bearer rejected", "GET", "/api/channels", map[string]string{"Authorization": "Bearer nope"}, 401},
		{"query param accepted for sse", "GET", "/api/sse/progress?key=secret-key", nil, 200},
		{"query param wrong key rejected", "GET", "/api/sse/progress?key=nope", nil, 401},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body: %s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestAuthErrorEnvelope(t *testing.T) {
	r := setupRouterWithAuth("secret-key")

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"code":"UNAUTHORIZED"`, `"error":"Invalid or missing access key"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
}

func TestIsPollingEndpoint(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/api/detect/progress", true},
		{"/api/detect/progress/", true},
		{"/api/scheduler?_=123", true},
		{"/api/channels", false},
		{"/health", false},
	}
	for _, tc := range cases {
		if got := isPollingEndpoint(tc.path); got != tc.want {
			t.Errorf("isPollingEndpoint(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
