// ABOUTME: Server-Sent Events stream of session events for operators and dashboards
// ABOUTME: Mirrors the webhook payloads of one client, or of all clients, as they happen

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/wa-gateway/internal/events"
)

const sseHeartbeatInterval = 30 * time.Second

// handleEvents handles GET /api/whatsapp/events?clientId=.
// Without a clientId the stream carries every client's events.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = events.AllClients
	}

	updates, subID := g.broadcaster.Subscribe(r.Context(), clientID)
	defer g.broadcaster.Unsubscribe(clientID, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "connected", map[string]string{"clientId": clientID})
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-updates:
			if !ok {
				return
			}
			g.writeSSEEvent(w, ev.EventType(), ev)
			flusher.Flush()
		}
	}
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}
