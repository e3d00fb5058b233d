// ABOUTME: Gateway orchestrator that wires the session engine to the HTTP API
// ABOUTME: Manages credential store, WhatsApp dialer, webhook queue and listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/config"
	"github.com/2389/wa-gateway/internal/dedupe"
	"github.com/2389/wa-gateway/internal/events"
	"github.com/2389/wa-gateway/internal/qr"
	"github.com/2389/wa-gateway/internal/session"
	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/webhook"
	"github.com/2389/wa-gateway/internal/whatsapp"
)

// Name is reported by the health endpoint and in the webhook User-Agent.
const Name = "wa-gateway"

// dedupeTTL covers the window in which a transport redelivers messages after a reconnect.
const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 100_000
)

// Gateway orchestrates the wa-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.CredentialStore
	dialer      session.Dialer
	sessions    *session.Controller
	webhooks    *webhook.Queue
	broadcaster *events.Broadcaster
	dedupe      *dedupe.Cache
	auth        *auth.Authenticator
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	version   string
	startedAt time.Time

	// closeDialer releases the device store when the gateway opened it.
	closeDialer func() error
}

// Option customizes a Gateway built by New.
type Option func(*options)

type options struct {
	dialer  session.Dialer
	store   store.CredentialStore
	version string
}

// WithDialer replaces the WhatsApp dialer. The caller keeps ownership of it.
func WithDialer(d session.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithCredentialStore replaces the SQLite credential store. The gateway
// still closes it on shutdown.
func WithCredentialStore(s store.CredentialStore) Option {
	return func(o *options) { o.store = s }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// initStore creates the credential store, sealing blobs when an encryption key is configured.
func initStore(cfg *config.Config) (store.CredentialStore, error) {
	var opts []store.Option
	if cfg.Credentials.EncryptionKey != "" {
		sealer, err := store.NewSealer(cfg.Credentials.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("creating credential sealer: %w", err)
		}
		opts = append(opts, store.WithSealer(sealer))
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initDialer opens the whatsmeow device store.
func initDialer(cfg *config.Config, logger *slog.Logger) (*whatsapp.Dialer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.WhatsApp.DeviceStore), 0700); err != nil {
		return nil, fmt.Errorf("creating device store directory: %w", err)
	}
	d, err := whatsapp.Open(context.Background(), whatsapp.Config{
		DeviceStorePath: cfg.WhatsApp.DeviceStore,
		OSName:          cfg.WhatsApp.OSName,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing whatsapp dialer: %w", err)
	}
	return d, nil
}

// createAuthenticator accepts the API key and, when a secret is configured, JWTs.
func createAuthenticator(cfg *config.Config, logger *slog.Logger) *auth.Authenticator {
	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("JWT bearer tokens enabled")
	}
	return auth.NewAuthenticator(cfg.Auth.APIKey, verifier, logger)
}

func reconnectPolicy(cfg config.ReconnectConfig) session.Backoff {
	b := session.Backoff{
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
	}
	if cfg.MaxAttempts != nil {
		b.MaxAttempts = *cfg.MaxAttempts
	}
	return b
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	gw := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		version:   o.version,
		startedAt: time.Now(),
	}

	renderer, err := qr.NewRenderer(cfg.QR.Format, cfg.QR.Size)
	if err != nil {
		return nil, fmt.Errorf("creating QR renderer: %w", err)
	}
	gw.logger.Debug("qr renderer ready", "format", renderer.Format())

	gw.store = o.store
	if gw.store == nil {
		if gw.store, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	gw.dialer = o.dialer
	if gw.dialer == nil {
		d, err := initDialer(cfg, logger)
		if err != nil {
			_ = gw.store.Close()
			return nil, err
		}
		gw.dialer = d
		gw.closeDialer = d.Close
	}

	notifier := webhook.NewNotifier(webhook.NotifierConfig{
		APIKey:    cfg.Auth.APIKey,
		Timeout:   cfg.Webhook.Timeout,
		UserAgent: Name + "/" + gw.version,
		Logger:    logger,
	})
	gw.webhooks = webhook.NewQueue(notifier, cfg.Webhook.QueueSize, logger)
	gw.broadcaster = events.NewBroadcaster(logger)
	gw.dedupe = dedupe.New(dedupeTTL, dedupeMaxSize)

	gw.sessions, err = session.NewController(session.Config{
		Dialer:      gw.dialer,
		Credentials: gw.store,
		Sink:        session.Sinks{gw.webhooks, gw.broadcaster},
		QR:          renderer,
		Backoff:     reconnectPolicy(cfg.Reconnect),
		Dedupe:      gw.dedupe,
		Logger:      logger,
	})
	if err != nil {
		gw.closeComponents()
		return nil, fmt.Errorf("creating session controller: %w", err)
	}

	gw.auth = createAuthenticator(cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP handler. Health is open; everything under
// /api/whatsapp/ requires a bearer credential. CORS wraps both.
func (g *Gateway) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/whatsapp/connect", g.handleConnect)
	api.HandleFunc("/api/whatsapp/status", g.handleStatus)
	api.HandleFunc("/api/whatsapp/send", g.handleSend)
	api.HandleFunc("/api/whatsapp/disconnect", g.handleDisconnect)
	api.HandleFunc("/api/whatsapp/sessions", g.handleListSessions)
	api.HandleFunc("/api/whatsapp/events", g.handleEvents)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", g.handleHealth)
	mux.Handle("/api/whatsapp/", g.auth.Middleware(api))
	return withCORS(mux, g.config.Server.CORSOrigins)
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Sessions exposes the session controller.
func (g *Gateway) Sessions() *session.Controller {
	return g.sessions
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wa-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases what New opened, for a failed New.
func (g *Gateway) closeComponents() {
	if g.broadcaster != nil {
		g.broadcaster.Close()
	}
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.closeDialer != nil {
		_ = g.closeDialer()
	}
	if g.store != nil {
		_ = g.store.Close()
	}
}

// Shutdown stops the gateway. Event streams are closed first so the HTTP
// server can drain, then sessions are closed without logging out and pending
// webhooks get until ctx expires to deliver.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error

	g.broadcaster.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "session shutdown", g.sessions.Shutdown(ctx))
	errs = appendCloseError(errs, "webhook drain", g.webhooks.Close(ctx))
	g.dedupe.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.closeDialer != nil {
		errs = appendCloseError(errs, "device store close", g.closeDialer())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
