// ABOUTME: In-memory fan-out of session events to live subscribers
// ABOUTME: Subscribers register per clientId or for all clients; slow ones drop events

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/wa-gateway/internal/webhook"
)

// AllClients subscribes to events of every client.
const AllClients = "*"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for session events. It mirrors what
// tenants receive on their webhooks so operators can watch a session live.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan webhook.Event // clientID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan webhook.Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for clientID (or AllClients). The returned
// channel is closed when ctx is cancelled, on Unsubscribe, or on Close.
func (b *Broadcaster) Subscribe(ctx context.Context, clientID string) (<-chan webhook.Event, string) {
	subID := uuid.New().String()
	ch := make(chan webhook.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[clientID]; !ok {
		b.subscribers[clientID] = make(map[string]chan webhook.Event)
	}
	b.subscribers[clientID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "client_id", clientID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(clientID, subID)
	}()

	return ch, subID
}

// Emit publishes ev. The webhook URL is irrelevant to in-process subscribers.
func (b *Broadcaster) Emit(_ string, ev webhook.Event) {
	b.Publish(ev)
}

// Publish sends ev to subscribers of its client and to AllClients subscribers.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(ev webhook.Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{ev.Client(), AllClients} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- ev:
			default:
				b.logger.Debug("dropped event for slow subscriber",
					"client_id", ev.Client(),
					"type", ev.EventType())
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(clientID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[clientID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, clientID)
	}

	b.logger.Debug("subscriber removed", "client_id", clientID, "sub_id", subID)
}

// SubscriberCount returns the number of subscribers registered for clientID.
func (b *Broadcaster) SubscriberCount(clientID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[clientID])
}

// Close closes all subscriber channels. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for clientID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, clientID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
