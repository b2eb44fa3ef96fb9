// Package httpapi exposes the monitoring pipeline over a local HTTP
// surface: current context, AI-formatted context, suggestions, network
// statistics, history, and privacy controls. Every endpoint degrades
// to a valid JSON payload instead of failing when a source is down.
package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagesense/history"
	"github.com/hazyhaar/pagesense/netmon"
	"github.com/hazyhaar/pagesense/privacy"
	"github.com/hazyhaar/pagesense/provider"
)

// NetworkSource is the slice of the network monitor the API reads.
type NetworkSource interface {
	Statistics() netmon.Statistics
	Health() netmon.Health
	ClearData()
}

// DOMSource is the slice of the DOM observer the API touches.
type DOMSource interface {
	Running() bool
	ClearData()
}

// Config wires an API. Provider and Privacy are required; the other
// sources are optional and their endpoints degrade when absent.
type Config struct {
	Provider *provider.Provider
	Privacy  *privacy.Controller
	Network  NetworkSource
	DOM      DOMSource
	History  *history.Store

	// MaxBody bounds JSON request bodies. Default 64 KiB.
	MaxBody int64
	Logger  *slog.Logger
}

// API serves the pipeline's HTTP endpoints.
type API struct {
	cfg Config
}

// New builds an API from cfg.
func New(cfg Config) *API {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 64 << 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &API{cfg: cfg}
}

// Router returns the chi router with the full middleware stack and all
// routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(MaxJSONBody(a.cfg.MaxBody))
	r.Use(RequestID(a.cfg.Logger))

	r.Get("/healthz", a.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/context", a.handleContext)
		r.Get("/context/formatted", a.handleFormattedContext)
		r.Get("/suggestions", a.handleSuggestions)
		r.Get("/insights", a.handleInsights)
		r.Get("/network/stats", a.handleNetworkStats)
		r.Get("/history", a.handleHistory)
		r.Get("/privacy", a.handleGetPrivacy)
		r.Put("/privacy", a.handleUpdatePrivacy)
		r.Post("/privacy", a.handleUpdatePrivacy)
		r.Post("/privacy/clear", a.handleClearData)
	})

	return r
}
