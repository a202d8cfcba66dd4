// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/JaimeStill/arbiter/internal/config"
	"github.com/JaimeStill/arbiter/internal/infrastructure"
	"github.com/JaimeStill/arbiter/pkg/middleware"
	"github.com/JaimeStill/arbiter/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
// Domain systems with background work are registered with the lifecycle here.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)

	maxBody, err := middleware.MaxBody(cfg.API.MaxBodySize)
	if err != nil {
		return nil, err
	}

	domain, err := NewDomain(cfg, runtime)
	if err != nil {
		return nil, err
	}
	if err := domain.Start(runtime); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, domain, runtime)

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.RequestID())
	m.Use(middleware.Recover(runtime.Logger))
	m.Use(maxBody)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.Logger(runtime.Logger))

	return m, nil
}
