// ABOUTME: Per-generation transport event handler driving state transitions
// ABOUTME: Events from a superseded generation are dropped before touching state

package session

import (
	"context"
	"errors"

	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/webhook"
)

// generationHandler binds a transport's events to the generation that dialed it.
type generationHandler struct {
	c        *Controller
	clientID string
	gen      uint64
}

var _ EventHandler = (*generationHandler)(nil)

// mutate applies fn only while the session still belongs to h's generation,
// then emits the events fn produced. It reports whether the change committed.
func (h *generationHandler) mutate(fn func(s *Session, events *[]webhook.Event) error) bool {
	var events []webhook.Event
	s, err := h.c.registry.Upsert(h.clientID, func(s *Session, exists bool) error {
		if !exists || s.Generation != h.gen {
			return errStale
		}
		if err := fn(s, &events); err != nil {
			return err
		}
		s.LastEventAt = h.c.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, errStale) {
			h.c.logger.Debug("dropped stale transport event", "client_id", h.clientID, "generation", h.gen)
		}
		return false
	}
	h.c.emitAll(s.WebhookURL, events)
	return true
}

// OnStatus implements EventHandler.
func (h *generationHandler) OnStatus(u StatusUpdate) {
	switch u.Kind {
	case StatusQR:
		h.onQR(u.QR)
	case StatusOpen:
		h.onOpen()
	case StatusClose:
		if u.Cause == CauseLoggedOut {
			h.onLoggedOut(u.Detail)
		} else {
			h.onClose(u.Detail)
		}
	default:
		h.c.logger.Warn("unknown transport status", "client_id", h.clientID, "kind", u.Kind)
	}
}

func (h *generationHandler) onQR(raw string) {
	code := raw
	if h.c.qr != nil {
		rendered, err := h.c.qr.Render(raw)
		if err != nil {
			h.c.logger.Error("failed to render qr code", "client_id", h.clientID, "error", err)
			return
		}
		code = rendered
	}

	ok := h.mutate(func(s *Session, events *[]webhook.Event) error {
		if s.State != StateConnecting && s.State != StateQRPending {
			return errStale
		}
		s.State = StateQRPending
		s.QRCode = code
		*events = append(*events, webhook.NewQREvent(s.ClientID, code))
		return nil
	})
	if ok {
		h.c.logger.Info("qr code received", "client_id", h.clientID)
	}
}

func (h *generationHandler) onOpen() {
	ok := h.mutate(func(s *Session, events *[]webhook.Event) error {
		switch s.State {
		case StateConnecting, StateQRPending, StateReconnecting:
		default:
			return errStale
		}
		s.State = StateConnected
		s.QRCode = ""
		s.ReconnectAttempts = 0
		s.backoff = nil
		s.LastDisconnectReason = ""
		*events = append(*events, webhook.NewConnectionEvent(s.ClientID, true))
		return nil
	})
	if ok {
		h.c.logger.Info("session connected", "client_id", h.clientID)
	}
}

func (h *generationHandler) onClose(detail string) {
	var old Socket
	h.mutate(func(s *Session, events *[]webhook.Event) error {
		switch s.State {
		case StateConnected, StateQRPending, StateConnecting:
		default:
			return errStale
		}
		old = s.takeSocket()
		s.QRCode = ""
		s.LastDisconnectReason = detail
		h.c.scheduleReconnect(s)
		*events = append(*events, webhook.NewConnectionEvent(s.ClientID, false))
		return nil
	})
	if old != nil {
		h.c.closeSocket(h.clientID, old)
	}
}

func (h *generationHandler) onLoggedOut(detail string) {
	var old Socket
	loggedOut := h.mutate(func(s *Session, events *[]webhook.Event) error {
		if s.State == StateLoggedOut {
			return errStale
		}
		s.stopTimer()
		old = s.takeSocket()
		s.State = StateLoggedOut
		s.QRCode = ""
		s.backoff = nil
		s.LastDisconnectReason = detail
		*events = append(*events, webhook.NewConnectionEvent(s.ClientID, false))
		return nil
	})
	if old != nil {
		h.c.closeSocket(h.clientID, old)
	}
	if !loggedOut {
		return
	}

	h.c.logger.Warn("session logged out", "client_id", h.clientID, "reason", detail)
	// Revoked credentials can never be used again.
	if err := h.c.creds.Delete(context.Background(), h.clientID); err != nil {
		h.c.logger.Debug("deleting revoked credentials", "client_id", h.clientID, "error", err)
	}
}

// OnCredentials implements EventHandler. The save runs under the session's
// slot so a concurrent disconnect either sees the new credentials and deletes
// them, or removes the session first and the update is dropped.
func (h *generationHandler) OnCredentials(data []byte) {
	var saveErr error
	saved := h.mutate(func(s *Session, _ *[]webhook.Event) error {
		if s.State.Terminal() {
			return errStale
		}
		saveErr = h.c.creds.Save(h.c.ctx, &store.Credentials{
			ClientID: h.clientID,
			Data:     data,
		})
		return saveErr
	})
	switch {
	case saveErr != nil:
		h.c.logger.Error("failed to persist credentials", "client_id", h.clientID, "error", saveErr)
	case !saved:
		h.c.logger.Debug("ignoring credential update", "client_id", h.clientID, "generation", h.gen)
	default:
		h.c.logger.Debug("credentials persisted", "client_id", h.clientID)
	}
}

// OnMessages implements EventHandler.
func (h *generationHandler) OnMessages(batch []InboundMessage) {
	s, ok := h.c.registry.Get(h.clientID)
	if !ok || s.Generation != h.gen {
		h.c.logger.Debug("dropped messages of stale generation", "client_id", h.clientID, "count", len(batch))
		return
	}
	h.c.relay(s, batch)
}
