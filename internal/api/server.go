// Package api provides the HTTP REST API and WebSocket server for
// access-core.
//
// It exposes the device polling endpoint door controllers use to fetch
// queued commands, the privileged management API (access requests,
// webhook subscriptions, lock stats, audit queries), and a WebSocket
// event feed for admin clients.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/henryv2be-prog/access-core/internal/access"
	"github.com/henryv2be-prog/access-core/internal/audit"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/config"
	"github.com/henryv2be-prog/access-core/internal/infrastructure/logging"
	"github.com/henryv2be-prog/access-core/internal/lock"
	"github.com/henryv2be-prog/access-core/internal/outbox"
	"github.com/henryv2be-prog/access-core/internal/webhook"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Webhooks      config.WebhooksConfig
	Logger        *logging.Logger
	Commands      outbox.Repository
	Subscriptions webhook.SubscriptionRepository
	Deliveries    webhook.DeliveryRepository
	Dispatcher    *webhook.Dispatcher
	Access        *access.Service
	Grants        access.GrantRepository
	Locks         *lock.Arbiter
	Audit         audit.Repository
	ExternalHub   *Hub // If set, the server uses this hub instead of creating its own
	Version       string
}

// Server is the HTTP API server for access-core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	whkCfg      config.WebhooksConfig
	logger      *logging.Logger
	commands    outbox.Repository
	subs        webhook.SubscriptionRepository
	deliveries  webhook.DeliveryRepository
	dispatcher  *webhook.Dispatcher
	access      *access.Service
	grants      access.GrantRepository
	locks       *lock.Arbiter
	audit       audit.Repository
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command repository is required")
	}
	if deps.Access == nil {
		return nil, fmt.Errorf("access service is required")
	}
	// Dispatcher, locks and audit are optional; their endpoints degrade
	// to errors or empty responses when absent.

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		whkCfg:     deps.Webhooks,
		logger:     deps.Logger,
		commands:   deps.Commands,
		subs:       deps.Subscriptions,
		deliveries: deps.Deliveries,
		dispatcher: deps.Dispatcher,
		access:     deps.Access,
		grants:     deps.Grants,
		locks:      deps.Locks,
		audit:      deps.Audit,
		version:    deps.Version,
	}

	// Use an externally-provided hub if available (needed when the
	// dispatcher also requires the hub for event broadcasting).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub. Nil until Start() unless an
// external hub was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server is stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
