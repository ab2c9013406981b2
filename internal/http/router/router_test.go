package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "crm_backend/internal/http"
	"crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type routerConfig struct{}

func (routerConfig) GetHTTPAddr() string        { return ":0" }
func (routerConfig) GetCORSAllowAll() bool      { return false }
func (routerConfig) GetCORSOrigins() []string   { return []string{"http://localhost:4200"} }
func (routerConfig) GetCORSAllowCreds() bool    { return true }
func (routerConfig) GetRateLimitRPS() float64   { return 0 }
func (routerConfig) GetJWTAccessSecret() string { return "secret" }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type pingModule struct{}

func (pingModule) Name() string { return "ping" }

func (pingModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	ctx.Protected.GET("/secret", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newEngine(health map[string]apphttp.HealthChecker) *gin.Engine {
	return New(&apphttp.App{
		Config:  routerConfig{},
		Logger:  logger.Nop(),
		Health:  health,
		Modules: []apphttp.Module{pingModule{}},
	})
}

func serve(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestModulesAreMountedUnderV1(t *testing.T) {
	engine := newEngine(nil)

	if w := serve(engine, "/api/v1/ping"); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := serve(engine, "/api/v1/secret"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected route to need a token, got %d", w.Code)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	engine := newEngine(map[string]apphttp.HealthChecker{
		"database": pinger{},
		"redis":    pinger{err: errors.New("down")},
	})

	w := serve(engine, "/api/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id on response")
	}
}

func TestHealthIsAlwaysUp(t *testing.T) {
	if w := serve(newEngine(nil), "/api/health"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
