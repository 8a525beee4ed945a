// ABOUTME: gamevault HTTP server: wires store, key material, verifiers, and API handlers
// ABOUTME: Listens on TCP or a tailnet via tsnet and shuts down gracefully on context cancel

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/gamevault/internal/admin"
	"github.com/2389/gamevault/internal/auth"
	"github.com/2389/gamevault/internal/config"
	"github.com/2389/gamevault/internal/instance"
	"github.com/2389/gamevault/internal/keystore"
	"github.com/2389/gamevault/internal/store"
	"github.com/2389/gamevault/internal/throttle"
)

const (
	// lockoutMaxClients bounds the number of client addresses tracked by the lockout.
	lockoutMaxClients = 10000

	sweepInterval   = time.Hour
	shutdownTimeout = 5 * time.Second
)

// Server is a running gamevault instance.
type Server struct {
	config *config.Config
	logger *slog.Logger

	store      *store.SQLiteStore
	signatures *auth.SignatureService
	instance   *instance.Service
	lockout    *throttle.Lockout

	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New opens the store, ensures the server key pair exists, and builds the routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	signatures := auth.NewSignatureService(
		keystore.NewFileStore(cfg.Keys.Dir, logger),
		logger,
		auth.WithKeyBits(cfg.Keys.Bits),
	)
	if err := signatures.GenerateKeyPair(ctx); err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("preparing server key pair: %w", err)
	}

	s := &Server{
		config:     cfg,
		logger:     logger.With("component", "server"),
		store:      sqlStore,
		signatures: signatures,
	}

	verifierOpts := []auth.VerifierOption{auth.WithMaxBodyBytes(cfg.Auth.MaxBodyBytes)}
	var loginLockout auth.FailureLimiter
	if cfg.Auth.Lockout.MaxFailures > 0 {
		s.lockout = throttle.New(cfg.Auth.Lockout.MaxFailures, cfg.Auth.Lockout.Window, lockoutMaxClients)
		verifierOpts = append(verifierOpts, auth.WithLockout(s.lockout))
		loginLockout = s.lockout
	}

	crypto := auth.NewCryptography()
	s.instance = instance.NewService(sqlStore, crypto, logger)

	extensionAuth := auth.NewExtensionAuthService(sqlStore, signatures, logger, verifierOpts...)
	instanceAuth := auth.NewInstanceAuthService(sqlStore, sqlStore, crypto, logger, verifierOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	operatorOnly := chain(auth.InstanceMiddleware(instanceAuth, s.instance), auth.RequireInstanceHTTP())

	registrations := admin.NewRegistrationService(sqlStore, logger)
	admin.NewHandlers(registrations, sqlStore, signatures, logger).Register(mux,
		auth.ExtensionMiddleware(extensionAuth),
		operatorOnly,
	)
	instance.NewHandlers(s.instance, loginLockout, logger).Register(mux, operatorOnly)

	s.handler = mux
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// chain applies middlewares so the first listed runs first.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Instance returns the operator credential service.
func (s *Server) Instance() *instance.Service {
	return s.instance
}

// Run serves until ctx is canceled or a listener fails.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		_ = s.closeResources()
		return err
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go s.instance.RunSweeper(sweepCtx, sweepInterval, s.config.Auth.SessionIdleTimeout)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}
	stopSweeper()

	// The caller's context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Debug("opening TCP listener", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
// An empty key leaves tsnet to print an interactive login URL.
func resolveTailscaleAuthKey(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("TS_AUTHKEY")
}

func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	if tsCfg.StateDir != "" {
		if err := os.MkdirAll(tsCfg.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating tailscale state dir: %w", err)
		}
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       tsCfg.StateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   resolveTailscaleAuthKey(tsCfg.AuthKey),
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", tsCfg.StateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if !tsCfg.HTTPS {
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gamevault")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeResources() error {
	var errs []error
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	if s.lockout != nil {
		s.lockout.Close()
	}
	errs = appendCloseError(errs, "store close", s.store.Close())
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
