// Package server assembles the resource server's HTTP surface: the RFC
// 9728 discovery document, bearer-token authentication, and the mount
// point handed off to the tool-invocation transport. The transport's own
// JSON-RPC framing is out of scope (spec.md §1 "Out of scope"); this
// package only owns what sits in front of it, following the same
// chi.Router-per-concern, r.Mount-to-compose layout as the teacher's
// pkg/api.Serve.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mcpauth/obo-core/pkg/auth/discovery"
	"github.com/mcpauth/obo-core/pkg/auth/middleware"
	"github.com/mcpauth/obo-core/pkg/logger"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readHeaderTimeout     = 10 * time.Second
)

// Config wires together the pieces NewRouter mounts. RPCHandler is the
// tool-invocation transport itself; it is treated as an opaque
// http.Handler here since its JSON-RPC framing is an external concern.
type Config struct {
	Authenticator middleware.Authenticator
	RPCHandler    http.Handler

	// RPCPath is where RPCHandler is mounted, behind TokenMiddleware.
	// Defaults to "/rpc".
	RPCPath string

	// Issuers are the trusted IdPs' issuer URLs, published verbatim as
	// authorization_servers in the discovery document.
	Issuers     []string
	JWKSURL     string
	ResourceURL string
	Scopes      []string

	// Realm and ResourceMetadataURL parameterize the WWW-Authenticate
	// challenge TokenMiddleware writes on authentication failure.
	Realm               string
	ResourceMetadataURL string
	RequestTimeout      time.Duration
}

// NewRouter builds the resource server's top-level chi.Router: RFC 9728
// discovery is public, the RPC mount requires a valid bearer token, and
// /health is unauthenticated so it can back a liveness probe.
func NewRouter(cfg Config) (chi.Router, error) {
	if cfg.Authenticator == nil {
		return nil, errors.New("server: Authenticator is required")
	}
	if cfg.RPCHandler == nil {
		return nil, errors.New("server: RPCHandler is required")
	}
	rpcPath := cfg.RPCPath
	if rpcPath == "" {
		rpcPath = "/rpc"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.Recoverer,
		chimw.Timeout(timeout),
	)

	r.Get("/health", healthcheck)
	r.Handle("/.well-known/oauth-protected-resource", discovery.MetadataHandler(
		cfg.Issuers, cfg.JWKSURL, cfg.ResourceURL, cfg.Scopes))

	protected := chi.NewRouter()
	protected.Use(middleware.TokenMiddleware(cfg.Authenticator, cfg.Realm, cfg.ResourceMetadataURL))
	protected.Handle("/*", cfg.RPCHandler)
	r.Mount(rpcPath, protected)

	return r, nil
}

func healthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Serve runs the router until ctx is cancelled, then shuts the server
// down gracefully. Mirrors the teacher's pkg/api.Serve lifecycle.
func Serve(ctx context.Context, address string, cfg Config) error {
	r, err := NewRouter(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Infof("server: starting http server on %s", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		if err := srv.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("server: shutdown failed: %w", err)
		}
		logger.Infof("server: http server stopped")
		return <-errCh
	case err := <-errCh:
		return err
	}
}
