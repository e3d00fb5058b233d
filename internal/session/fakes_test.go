// ABOUTME: Test doubles for the session engine: dialer, socket and event sink
// ABOUTME: Lets tests play the transport's role by calling the captured handler

package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	to   Address
	text string
}

type fakeSocket struct {
	mu        sync.Mutex
	sent      []sentMessage
	sendID    string
	sendErr   error
	logoutErr error
	logouts   int
	closes    int
}

func (s *fakeSocket) SendText(_ context.Context, to Address, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sent = append(s.sent, sentMessage{to: to, text: text})
	return s.sendID, nil
}

func (s *fakeSocket) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return s.logoutErr
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSocket) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSocket) logoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func (s *fakeSocket) sentMessages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeDialer struct {
	mu       sync.Mutex
	requests []DialRequest
	sockets  []*fakeSocket
	times    []time.Time
	err      error
}

func (d *fakeDialer) Dial(_ context.Context, req DialRequest) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	d.times = append(d.times, time.Now())
	if d.err != nil {
		return nil, d.err
	}
	sock := &fakeSocket{sendID: "MSG-1"}
	d.sockets = append(d.sockets, sock)
	return sock, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDialer) request(i int) DialRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[i]
}

func (d *fakeDialer) dialedAt(i int) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.times[i]
}

// handler returns the event handler of the most recent dial.
func (d *fakeDialer) handler() EventHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1].Handler
}

func (d *fakeDialer) socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[i]
}

type sinkEntry struct {
	url string
	ev  webhook.Event
}

type recordingSink struct {
	mu      sync.Mutex
	entries []sinkEntry
	panicOn func(webhook.Event) bool
}

func (r *recordingSink) Emit(url string, ev webhook.Event) {
	if r.panicOn != nil && r.panicOn(ev) {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, sinkEntry{url: url, ev: ev})
}

func (r *recordingSink) ofType(typ string) []sinkEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sinkEntry
	for _, e := range r.entries {
		if e.ev.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingSink) connectionEvents() []bool {
	var out []bool
	for _, e := range r.ofType(webhook.TypeConnection) {
		out = append(out, e.ev.(*webhook.ConnectionEvent).IsConnected)
	}
	return out
}

// gatedStore blocks Save until release is closed, after signalling entered.
type gatedStore struct {
	*store.MockStore
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MockStore: store.NewMockStore(),
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (g *gatedStore) Save(ctx context.Context, creds *store.Credentials) error {
	g.entered <- struct{}{}
	<-g.release
	return g.MockStore.Save(ctx, creds)
}

type harness struct {
	ctrl   *Controller
	dialer *fakeDialer
	creds  *store.MockStore
	sink   *recordingSink
}

func testBackoff() Backoff {
	return Backoff{
		InitialDelay: 40 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     200 * time.Millisecond,
		MaxAttempts:  10,
	}
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{},
		creds:  store.NewMockStore(),
		sink:   &recordingSink{},
	}
	cfg := Config{
		Dialer:      h.dialer,
		Credentials: h.creds,
		Sink:        h.sink,
		Backoff:     testBackoff(),
		Logger:      testLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	ctrl, err := NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })
	h.ctrl = ctrl
	return h
}

// connected drives clientID through connect and open.
func (h *harness) connected(t *testing.T, clientID, url string) EventHandler {
	t.Helper()
	require.NoError(t, h.ctrl.Connect(context.Background(), clientID, url))
	handler := h.dialer.handler()
	handler.OnStatus(StatusUpdate{Kind: StatusOpen})
	require.Equal(t, StateConnected, h.ctrl.Status(clientID).State)
	return handler
}
