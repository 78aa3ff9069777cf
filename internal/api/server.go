package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/styleurl/internal/engine"
	"github.com/dgnsrekt/styleurl/internal/host"
	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/transport"
)

// Transport is the message channel side of the server.
type Transport interface {
	Dispatch(ctx context.Context, req message.Request, respond transport.Responder) bool
	Initiate(ctx context.Context, tabID int) error
	ServeWS(w http.ResponseWriter, r *http.Request, name string)
}

// Workflows lists in-flight workflows.
type Workflows interface {
	Workflows(ctx context.Context) ([]engine.Workflow, error)
}

// Tabs lists the host's page tabs.
type Tabs interface {
	Tabs(ctx context.Context) ([]host.Tab, error)
}

// Deps wires NewServer to the rest of the process.
type Deps struct {
	Version   string
	Transport Transport
	Workflows Workflows
	Tabs      Tabs
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// NewServer builds the styleurld HTTP handler.
func NewServer(deps Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	version := deps.Version
	if version == "" {
		version = "0.0.0"
	}
	api := humachi.New(router, huma.DefaultConfig("StyleURL API", version))

	router.Get("/ports/{name}", func(w http.ResponseWriter, r *http.Request) {
		deps.Transport.ServeWS(w, r, chi.URLParam(r, "name"))
	})
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	registerHealthHandlers(api)
	registerMessageHandlers(api, deps.Transport)
	registerWorkflowHandlers(api, deps.Workflows, deps.Tabs)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, transport.ErrChannelUnavailable):
		return huma.Error409Conflict("no channel for tab: open devtools and try again")
	case errors.Is(err, host.ErrTabNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, engine.ErrStopped):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error502BadGateway(err.Error())
}
