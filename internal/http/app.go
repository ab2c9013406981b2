package http

import (
	"context"

	"crm_backend/platform/config"
	"crm_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// main.go populates it and passes it to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is pinged by the readiness endpoint. Each checker must answer.
	Health map[string]HealthChecker
	Modules []Module
}
