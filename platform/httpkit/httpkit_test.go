package httpkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm_backend/platform/apperr"
	"crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtConfig struct{ secret string }

func (c jwtConfig) GetJWTAccessSecret() string { return c.secret }

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDPreservesIncomingHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = logger.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(HeaderRequestID) != "req-123" {
		t.Fatalf("expected echoed request id, got %q", w.Header().Get(HeaderRequestID))
	}
	if seen != "req-123" {
		t.Fatalf("expected request id on context, got %q", seen)
	}
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(w.Header().Get(HeaderRequestID)); err != nil {
		t.Fatalf("expected generated uuid request id, got %q", w.Header().Get(HeaderRequestID))
	}
}

func TestHandleErrorRendersReasonCode(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		err := apperr.InvalidTransition("lead already converted").WithCode(apperr.CodeLeadAlreadyConverted)
		HandleError(c, fmt.Errorf("qualify: %w", err))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != apperr.CodeLeadAlreadyConverted {
		t.Fatalf("expected code %s, got %s", apperr.CodeLeadAlreadyConverted, body.Code)
	}
}

func TestHandleErrorHidesUntypedErrors(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		HandleError(c, errors.New("pq: connection refused"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != "internal error" {
		t.Fatalf("expected generic message, got %q", body.Error)
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthRequiredSetsIdentityAndTenant(t *testing.T) {
	userID := uuid.New()
	tenantID := uuid.New()
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":       userID.String(),
		"tenant_id": tenantID.String(),
		"roles":     []string{"admin"},
		"type":      "access",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	r := gin.New()
	r.Use(AuthRequired(jwtConfig{secret: "secret"}))
	var got Identity
	r.GET("/", func(c *gin.Context) {
		got = GetIdentity(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got.UserID() != userID {
		t.Fatalf("expected user %s, got %s", userID, got.UserID())
	}
	if got.TenantID() == nil || *got.TenantID() != tenantID {
		t.Fatalf("expected tenant %s, got %v", tenantID, got.TenantID())
	}
	if !got.HasRole("admin") {
		t.Fatal("expected admin role")
	}
}

func TestAuthRequiredRejectsRefreshTokens(t *testing.T) {
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":  uuid.NewString(),
		"type": "refresh",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	r := gin.New()
	r.Use(AuthRequired(jwtConfig{secret: "secret"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMustGetTenantRequiresTenantClaim(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		c.Set(ContextUserIDKey, uuid.New())
		if _, _, ok := MustGetTenant(c); ok {
			c.Status(http.StatusNoContent)
		}
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
