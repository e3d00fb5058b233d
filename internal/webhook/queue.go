// ABOUTME: Per-client ordered webhook queue so producers never block on HTTP
// ABOUTME: One short-lived worker per client drains its backlog in FIFO order

package webhook

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the per-client backlog bound.
const DefaultQueueSize = 256

// notifier is the part of Notifier the queue needs.
type notifier interface {
	Notify(ctx context.Context, url string, ev Event)
}

type job struct {
	url string
	ev  Event
}

// Queue serializes deliveries per client and runs them off the caller's
// goroutine. Events for one client reach the notifier in Enqueue order;
// different clients are delivered independently. When a client's backlog is
// full the new event is dropped.
type Queue struct {
	notifier notifier
	maxSize  int
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string][]job
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue creates a Queue. A maxSize <= 0 uses DefaultQueueSize.
func NewQueue(n notifier, maxSize int, logger *slog.Logger) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		notifier: n,
		maxSize:  maxSize,
		logger:   logger.With("component", "webhook-queue"),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string][]job),
	}
}

// Emit enqueues ev for the client it belongs to. Empty URLs are dropped here.
func (q *Queue) Emit(url string, ev Event) {
	if url == "" {
		return
	}
	q.Enqueue(ev.Client(), url, ev)
}

// Enqueue appends a delivery to clientID's backlog, starting a worker if none runs.
func (q *Queue) Enqueue(clientID, url string, ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Debug("queue closed, dropping event", "client_id", clientID, "type", ev.EventType())
		return
	}

	backlog, running := q.pending[clientID]
	if len(backlog) >= q.maxSize {
		q.logger.Warn("webhook backlog full, dropping event",
			"client_id", clientID,
			"type", ev.EventType(),
			"backlog", len(backlog),
		)
		return
	}

	q.pending[clientID] = append(backlog, job{url: url, ev: ev})
	if !running {
		q.wg.Add(1)
		go q.drain(clientID)
	}
}

// drain delivers clientID's backlog until it is empty, then exits.
// A present map key (even with an empty slice) marks a running worker.
func (q *Queue) drain(clientID string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		backlog := q.pending[clientID]
		if len(backlog) == 0 {
			delete(q.pending, clientID)
			q.mu.Unlock()
			return
		}
		next := backlog[0]
		q.pending[clientID] = backlog[1:]
		q.mu.Unlock()

		q.notifier.Notify(q.ctx, next.url, next.ev)
	}
}

// Pending returns the number of queued (not yet started) deliveries for clientID.
func (q *Queue) Pending(clientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[clientID])
}

// Close stops accepting events and waits for backlogs to drain. If ctx ends
// first, in-flight deliveries are cancelled and Close returns ctx.Err().
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
