// Package api provides the relay's HTTP surface: the gateway bridge
// endpoint, pairing, remote commands and home metadata for signed-in users.
//
// The server follows the same lifecycle pattern as other infrastructure components:
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

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/homes"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/pairing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Bridge     config.BridgeConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Manager    *bridge.Manager
	Gateways   *gateway.Registry
	Pairing    *pairing.Coordinator
	Authorizer *auth.Authorizer
	Homes      *homes.Store
	Audit      *audit.Recorder  // optional
	AuditRepo  audit.Repository // optional; enables the audit listing
	Version    string
}

// Server is the relay's HTTP server.
type Server struct {
	cfg       config.APIConfig
	bridgeCfg config.BridgeConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	manager   *bridge.Manager
	gateways  *gateway.Registry
	pairing   *pairing.Coordinator
	authz     *auth.Authorizer
	homes     *homes.Store
	audit     *audit.Recorder
	auditRepo audit.Repository
	version   string
	server    *http.Server
	now       func() time.Time
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Manager == nil:
		return nil, fmt.Errorf("bridge manager is required")
	case deps.Gateways == nil:
		return nil, fmt.Errorf("gateway registry is required")
	case deps.Pairing == nil:
		return nil, fmt.Errorf("pairing coordinator is required")
	case deps.Authorizer == nil:
		return nil, fmt.Errorf("authorizer is required")
	case deps.Homes == nil:
		return nil, fmt.Errorf("home store is required")
	case deps.Security.JWT.Secret == "":
		return nil, fmt.Errorf("jwt secret is required")
	}

	bridgeCfg := deps.Bridge
	if bridgeCfg.Path == "" {
		bridgeCfg.Path = "/bridge"
	}

	return &Server{
		cfg:       deps.Config,
		bridgeCfg: bridgeCfg,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		manager:   deps.Manager,
		gateways:  deps.Gateways,
		pairing:   deps.Pairing,
		authz:     deps.Authorizer,
		homes:     deps.Homes,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		version:   deps.Version,
		now:       time.Now,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		// Must exceed the bridge's max ack timeout so waited commands can
		// answer. The WebSocket upgrade clears these deadlines.
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. Hijacked
// bridge connections are not tracked by net/http; the bridge manager
// closes those.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
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
