// ABOUTME: Connection lifecycle controller: connect, status, disconnect, reconnect
// ABOUTME: Interprets transport events per generation and drives the session state machine

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/wa-gateway/internal/dedupe"
	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/webhook"
)

// EventSink receives every event destined for a tenant webhook. Emit must not block.
type EventSink interface {
	Emit(webhookURL string, ev webhook.Event)
}

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

// Emit implements EventSink.
func (s Sinks) Emit(webhookURL string, ev webhook.Event) {
	for _, sink := range s {
		sink.Emit(webhookURL, ev)
	}
}

// QRRenderer converts a raw pairing string into what tenants receive.
type QRRenderer interface {
	Render(code string) (string, error)
}

// Status is the answer to a status query.
type Status struct {
	State  State
	QRCode string
}

// Config wires a Controller to its collaborators.
type Config struct {
	Dialer      Dialer
	Credentials store.CredentialStore
	// Sink may be nil, in which case events are discarded.
	Sink EventSink
	// QR may be nil, in which case pairing strings are relayed raw.
	QR      QRRenderer
	Backoff Backoff
	// Dedupe suppresses redelivered inbound messages. Optional.
	Dedupe *dedupe.Cache
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller owns every session's state machine.
type Controller struct {
	registry *Registry
	dialer   Dialer
	creds    store.CredentialStore
	sink     EventSink
	qr       QRRenderer
	backoff  Backoff
	seen     *dedupe.Cache
	logger   *slog.Logger
	now      func() time.Time

	generation atomic.Uint64
	closed     atomic.Bool

	// ctx outlives individual requests and is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a Controller with an empty registry.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("session controller requires a dialer")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("session controller requires a credential store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sink := cfg.Sink
	if sink == nil {
		sink = Sinks(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		registry: NewRegistry(),
		dialer:   cfg.Dialer,
		creds:    cfg.Credentials,
		sink:     sink,
		qr:       cfg.QR,
		backoff:  cfg.Backoff.withDefaults(),
		seen:     cfg.Dedupe,
		logger:   logger.With("component", "session"),
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Registry exposes the session registry for read-only queries.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Connect starts a fresh connection attempt for clientID, replacing any
// previous transport. It returns once the transport is dialing; the QR code
// or connected state arrives later through Status and the webhook.
func (c *Controller) Connect(ctx context.Context, clientID, webhookURL string) error {
	if clientID == "" {
		return fmt.Errorf("%w: clientId is required", ErrValidation)
	}
	if c.closed.Load() {
		return ErrShuttingDown
	}
	return c.dial(ctx, clientID, webhookURL, 0)
}

// Status reports clientID's state and pending QR code.
func (c *Controller) Status(clientID string) Status {
	s, ok := c.registry.Get(clientID)
	if !ok {
		return Status{State: StateDisconnected}
	}
	return Status{State: s.State, QRCode: s.QRCode}
}

// Session returns a snapshot of clientID's session.
func (c *Controller) Session(clientID string) (Session, bool) {
	return c.registry.Get(clientID)
}

// Sessions returns snapshots of all sessions ordered by clientId.
func (c *Controller) Sessions() []Session {
	return c.registry.List()
}

// Disconnect logs clientID out and forgets it. The session is removed and its
// stored credentials deleted even when the logout fails; the logout error is
// still returned.
func (c *Controller) Disconnect(ctx context.Context, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("%w: clientId is required", ErrValidation)
	}

	s, ok := c.registry.Remove(clientID)
	if !ok {
		return nil
	}
	s.stopTimer()

	logger := c.logger.With("client_id", clientID)

	var logoutErr error
	if sock := s.takeSocket(); sock != nil {
		if err := sock.Logout(ctx); err != nil {
			logoutErr = fmt.Errorf("logging out: %w", err)
			logger.Warn("logout failed", "error", err)
		}
		c.closeSocket(clientID, sock)
	}

	if err := c.creds.Delete(ctx, clientID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("failed to delete credentials", "error", err)
	}

	logger.Info("session disconnected", "previous_state", s.State)
	return logoutErr
}

// Shutdown stops reconnect timers and closes every transport without logging
// out, so stored credentials stay valid for the next start.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	var g errgroup.Group
	g.SetLimit(8)

	for _, snapshot := range c.registry.List() {
		clientID := snapshot.ClientID
		var sock Socket
		_, _ = c.registry.Upsert(clientID, func(s *Session, exists bool) error {
			if !exists {
				return errStale
			}
			s.stopTimer()
			sock = s.takeSocket()
			s.State = StateDisconnected
			s.QRCode = ""
			s.LastDisconnectReason = "shutdown"
			return nil
		})
		if sock == nil {
			continue
		}
		g.Go(func() error {
			if err := sock.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", clientID, err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial installs a new generation for clientID and opens its transport.
// A non-zero fromGen marks a reconnect scheduled by that generation; it is
// abandoned when the session has moved on since.
func (c *Controller) dial(ctx context.Context, clientID, webhookURL string, fromGen uint64) error {
	reconnect := fromGen != 0
	gen := c.generation.Add(1)
	prevGen := gen
	logger := c.logger.With("client_id", clientID, "generation", gen)

	var old Socket
	_, err := c.registry.Upsert(clientID, func(s *Session, exists bool) error {
		if reconnect {
			// A disconnect, a newer connect or a logout since scheduling wins.
			if !exists || s.Generation != fromGen || s.State != StateReconnecting {
				return errStale
			}
			webhookURL = s.WebhookURL
		}
		prevGen = s.Generation

		s.stopTimer()
		old = s.takeSocket()

		now := c.now()
		if !exists {
			s.CreatedAt = now
		}
		if !reconnect {
			s.ReconnectAttempts = 0
			s.backoff = nil
		}
		s.WebhookURL = webhookURL
		s.State = StateConnecting
		s.QRCode = ""
		s.Generation = gen
		s.LastEventAt = now
		return nil
	})
	if err != nil {
		return err
	}

	if old != nil {
		logger.Debug("closing superseded transport", "previous_generation", prevGen)
		c.closeSocket(clientID, old)
	}

	creds, err := c.loadCredentials(ctx, clientID)
	if err == nil {
		var sock Socket
		sock, err = c.dialer.Dial(ctx, DialRequest{
			ClientID:    clientID,
			Credentials: creds,
			Handler:     &generationHandler{c: c, clientID: clientID, gen: gen},
		})
		if err == nil {
			c.install(clientID, gen, sock)
			logger.Info("transport dialing", "reconnect", reconnect, "paired", creds != nil)
			return nil
		}
	}

	logger.Warn("transport dial failed", "reconnect", reconnect, "error", err)
	c.dialFailed(clientID, gen, reconnect, err)
	return fmt.Errorf("%w: %w", ErrConnectFailed, err)
}

func (c *Controller) loadCredentials(ctx context.Context, clientID string) ([]byte, error) {
	creds, err := c.creds.Load(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return creds.Data, nil
}

// install attaches sock to its generation, or closes it when superseded.
func (c *Controller) install(clientID string, gen uint64, sock Socket) {
	_, err := c.registry.Upsert(clientID, func(s *Session, exists bool) error {
		if !exists || s.Generation != gen {
			return errStale
		}
		s.socket = sock
		return nil
	})
	if err != nil {
		c.logger.Debug("dropping transport of superseded generation", "client_id", clientID, "generation", gen)
		c.closeSocket(clientID, sock)
	}
}

func (c *Controller) dialFailed(clientID string, gen uint64, reconnect bool, cause error) {
	var events []webhook.Event
	s, err := c.registry.Upsert(clientID, func(s *Session, exists bool) error {
		if !exists || s.Generation != gen {
			return errStale
		}
		s.LastDisconnectReason = cause.Error()
		s.LastEventAt = c.now()
		if !reconnect {
			s.State = StateDisconnected
			return nil
		}
		if c.scheduleReconnect(s) == StateFailed {
			events = append(events, webhook.NewConnectionEvent(clientID, false))
		}
		return nil
	})
	if err == nil {
		c.emitAll(s.WebhookURL, events)
	}
}

// scheduleReconnect moves s to RECONNECTING with a timer, or to FAILED when
// the attempt budget is spent. Must run inside a registry mutation.
func (c *Controller) scheduleReconnect(s *Session) State {
	s.stopTimer()
	s.ReconnectAttempts++

	if c.closed.Load() {
		s.State = StateDisconnected
		return s.State
	}
	if c.backoff.exhausted(s.ReconnectAttempts) {
		s.State = StateFailed
		s.backoff = nil
		c.logger.Warn("reconnect budget exhausted",
			"client_id", s.ClientID,
			"attempts", s.ReconnectAttempts-1,
			"last_reason", s.LastDisconnectReason,
		)
		return s.State
	}

	if s.backoff == nil {
		s.backoff = c.backoff.newExponential()
	}
	delay := s.backoff.NextBackOff()

	s.State = StateReconnecting
	clientID, gen := s.ClientID, s.Generation
	s.timer = time.AfterFunc(delay, func() {
		c.reconnect(clientID, gen)
	})

	c.logger.Info("reconnect scheduled",
		"client_id", clientID,
		"attempt", s.ReconnectAttempts,
		"delay", delay,
	)
	return s.State
}

func (c *Controller) reconnect(clientID string, fromGen uint64) {
	if c.closed.Load() {
		return
	}
	err := c.dial(c.ctx, clientID, "", fromGen)
	if errors.Is(err, errStale) {
		c.logger.Debug("reconnect skipped, session moved on", "client_id", clientID)
	}
}

// closeSocket closes a decommissioned transport off the caller's goroutine;
// transports may call back into the handler while closing.
func (c *Controller) closeSocket(clientID string, sock Socket) {
	go func() {
		if err := sock.Close(); err != nil {
			c.logger.Debug("closing transport", "client_id", clientID, "error", err)
		}
	}()
}

func (c *Controller) emit(webhookURL string, ev webhook.Event) {
	c.sink.Emit(webhookURL, ev)
}

func (c *Controller) emitAll(webhookURL string, events []webhook.Event) {
	for _, ev := range events {
		c.emit(webhookURL, ev)
	}
}
