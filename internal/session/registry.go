// ABOUTME: Session records and the registry that owns them
// ABOUTME: Mutations are serialized per clientId and committed only on success

package session

import (
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is a session's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateQRPending    State = "qr_pending"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLoggedOut    State = "logged_out"
	// StateFailed is reached when the reconnect budget is spent.
	StateFailed State = "failed"
)

// Terminal reports whether the state never leads to an automatic reconnect.
func (s State) Terminal() bool {
	return s == StateLoggedOut || s == StateFailed
}

// Session is the per-tenant record. Values handed out by the Registry are
// copies; the transport handle inside stays owned by the registry entry.
type Session struct {
	ClientID   string
	WebhookURL string
	State      State
	// QRCode is the rendered pairing code while QR_PENDING.
	QRCode string
	// Generation tags the current transport handle.
	Generation uint64
	// ReconnectAttempts counts reconnects scheduled since the last CONNECTED.
	ReconnectAttempts    int
	LastDisconnectReason string
	LastEventAt          time.Time
	CreatedAt            time.Time

	socket  Socket
	timer   *time.Timer
	backoff *backoff.ExponentialBackOff
}

// HasSocket reports whether a transport handle is installed.
func (s *Session) HasSocket() bool {
	return s.socket != nil
}

// takeSocket detaches the transport handle so the caller can close it.
func (s *Session) takeSocket() Socket {
	sock := s.socket
	s.socket = nil
	return sock
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Registry maps clientId to Session. It is the only holder of per-tenant state.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// slot serializes access to one clientId. It lives while it holds a session
// or someone is waiting on it.
type slot struct {
	mu      sync.Mutex
	refs    int
	session *Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

func (r *Registry) acquire(clientID string) *slot {
	r.mu.Lock()
	sl, ok := r.slots[clientID]
	if !ok {
		sl = &slot{}
		r.slots[clientID] = sl
	}
	sl.refs++
	r.mu.Unlock()

	sl.mu.Lock()
	return sl
}

// release must be called with sl.mu held.
func (r *Registry) release(clientID string, sl *slot) {
	r.mu.Lock()
	sl.refs--
	if sl.refs == 0 && sl.session == nil {
		delete(r.slots, clientID)
	}
	r.mu.Unlock()
	sl.mu.Unlock()
}

// Get returns a copy of the session for clientID.
func (r *Registry) Get(clientID string) (Session, bool) {
	sl := r.acquire(clientID)
	defer r.release(clientID, sl)

	if sl.session == nil {
		return Session{}, false
	}
	return *sl.session, true
}

// Upsert runs fn on a working copy of clientID's session and commits the copy
// if fn returns nil. When no session exists fn sees a fresh record with only
// ClientID set and exists=false. Calls for the same clientId never overlap.
func (r *Registry) Upsert(clientID string, fn func(s *Session, exists bool) error) (Session, error) {
	sl := r.acquire(clientID)
	defer r.release(clientID, sl)

	exists := sl.session != nil
	work := Session{ClientID: clientID}
	if exists {
		work = *sl.session
	}

	if err := fn(&work, exists); err != nil {
		return Session{}, err
	}

	committed := work
	sl.session = &committed
	return work, nil
}

// Remove deletes clientID's session and returns what was stored.
func (r *Registry) Remove(clientID string) (Session, bool) {
	sl := r.acquire(clientID)
	defer r.release(clientID, sl)

	if sl.session == nil {
		return Session{}, false
	}
	removed := *sl.session
	sl.session = nil
	return removed, true
}

// List returns copies of all sessions ordered by clientId.
func (r *Registry) List() []Session {
	r.mu.Lock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	return len(r.List())
}
