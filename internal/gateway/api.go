// ABOUTME: HTTP API handlers for the WhatsApp session gateway
// ABOUTME: Connect, status, send, disconnect, session listing and health endpoints

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/session"
	"github.com/2389/wa-gateway/internal/webhook"
)

// ConnectRequest is the JSON request body for POST /api/whatsapp/connect.
type ConnectRequest struct {
	ClientID string `json:"clientId"`
	Webhook  string `json:"webhook"`
}

// ConnectResponse is the JSON response for POST /api/whatsapp/connect.
type ConnectResponse struct {
	Success     bool   `json:"success"`
	QRCode      string `json:"qrCode"`
	IsConnected bool   `json:"isConnected"`
}

// StatusResponse is the JSON response for GET /api/whatsapp/status.
type StatusResponse struct {
	ConnectionState string `json:"connectionState"`
	QRCode          string `json:"qrCode"`
	IsConnected     bool   `json:"isConnected"`
}

// SendRequest is the JSON request body for POST /api/whatsapp/send.
type SendRequest struct {
	ClientID    string `json:"clientId,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// SendResponse is the JSON response for POST /api/whatsapp/send.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
}

// DisconnectRequest is the JSON request body for POST /api/whatsapp/disconnect.
type DisconnectRequest struct {
	ClientID string `json:"clientId,omitempty"`
}

// SuccessResponse acknowledges a command with no other result.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// SessionResponse summarizes one session for GET /api/whatsapp/sessions.
type SessionResponse struct {
	ClientID             string `json:"clientId"`
	ConnectionState      string `json:"connectionState"`
	IsConnected          bool   `json:"isConnected"`
	HasQRCode            bool   `json:"hasQrCode"`
	Paired               bool   `json:"paired"`
	WebhookConfigured    bool   `json:"webhookConfigured"`
	ReconnectAttempts    int    `json:"reconnectAttempts"`
	LastDisconnectReason string `json:"lastDisconnectReason,omitempty"`
	LastEventAt          string `json:"lastEventAt,omitempty"`
	CreatedAt            string `json:"createdAt"`
}

// ListSessionsResponse is the JSON response for GET /api/whatsapp/sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// HealthResponse is the JSON response for GET /api/health.
type HealthResponse struct {
	Success       bool    `json:"success"`
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Sessions      int     `json:"sessions"`
	Timestamp     string  `json:"timestamp"`
}

// handleHealth reports liveness. It requires no authentication.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := time.Now()
	g.writeJSON(w, http.StatusOK, HealthResponse{
		Success:       true,
		Name:          Name,
		Version:       g.version,
		UptimeSeconds: now.Sub(g.startedAt).Seconds(),
		Sessions:      g.sessions.Registry().Len(),
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	})
}

// handleConnect handles POST /api/whatsapp/connect.
// It starts a connection attempt, then waits up to api.connect_wait for the
// first QR code or the connected state so the caller can show it right away.
func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ConnectRequest
	if err := decodeJSON(r.Body, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClientID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	// Subscribe before connecting so the first QR event cannot be missed.
	waitCtx, cancel := context.WithTimeout(r.Context(), g.config.API.ConnectWait)
	defer cancel()
	updates, _ := g.broadcaster.Subscribe(waitCtx, req.ClientID)

	if err := g.sessions.Connect(r.Context(), req.ClientID, req.Webhook); err != nil {
		g.logger.Warn("connect failed", "client_id", req.ClientID, "caller", callerOf(r), "error", err)
		g.sendJSONError(w, statusForError(err), err.Error())
		return
	}
	g.logger.Info("connect requested", "client_id", req.ClientID, "caller", callerOf(r), "webhook", req.Webhook != "")

	awaitConnectOutcome(waitCtx, updates)

	status := g.sessions.Status(req.ClientID)
	g.writeJSON(w, http.StatusOK, ConnectResponse{
		Success:     true,
		QRCode:      status.QRCode,
		IsConnected: status.State == session.StateConnected,
	})
}

// awaitConnectOutcome returns on the first QR or connection event, or when
// ctx ends.
func awaitConnectOutcome(ctx context.Context, updates <-chan webhook.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			switch ev.EventType() {
			case webhook.TypeQR, webhook.TypeConnection:
				return
			}
		}
	}
}

// handleStatus handles GET /api/whatsapp/status?clientId=.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clientID := g.clientIDOrDefault(r.URL.Query().Get("clientId"))
	status := g.sessions.Status(clientID)
	g.writeJSON(w, http.StatusOK, StatusResponse{
		ConnectionState: string(status.State),
		QRCode:          status.QRCode,
		IsConnected:     status.State == session.StateConnected,
	})
}

// handleSend handles POST /api/whatsapp/send.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendRequest
	if err := decodeJSON(r.Body, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PhoneNumber == "" || req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "phoneNumber and message are required")
		return
	}

	clientID := g.clientIDOrDefault(req.ClientID)
	result, err := g.sessions.Send(r.Context(), clientID, req.PhoneNumber, req.Message)
	if err != nil {
		g.sendJSONError(w, statusForError(err), err.Error())
		return
	}

	g.writeJSON(w, http.StatusOK, SendResponse{Success: true, MessageID: result.MessageID})
}

// handleDisconnect handles POST /api/whatsapp/disconnect. An empty body
// disconnects the default client.
func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req DisconnectRequest
	if err := decodeJSON(r.Body, &req, true); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	clientID := g.clientIDOrDefault(req.ClientID)
	if err := g.sessions.Disconnect(r.Context(), clientID); err != nil {
		g.logger.Warn("disconnect failed", "client_id", clientID, "caller", callerOf(r), "error", err)
		g.sendJSONError(w, statusForError(err), err.Error())
		return
	}
	g.logger.Info("client disconnected", "client_id", clientID, "caller", callerOf(r))

	g.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleListSessions handles GET /api/whatsapp/sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	paired := make(map[string]bool)
	ids, err := g.store.ListClientIDs(r.Context())
	if err != nil {
		g.logger.Error("failed to list stored credentials", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	for _, id := range ids {
		paired[id] = true
	}

	sessions := g.sessions.Sessions()
	resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		out := toSessionResponse(s)
		out.Paired = paired[s.ClientID]
		resp.Sessions = append(resp.Sessions, out)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func toSessionResponse(s session.Session) SessionResponse {
	out := SessionResponse{
		ClientID:             s.ClientID,
		ConnectionState:      string(s.State),
		IsConnected:          s.State == session.StateConnected,
		HasQRCode:            s.QRCode != "",
		WebhookConfigured:    s.WebhookURL != "",
		ReconnectAttempts:    s.ReconnectAttempts,
		LastDisconnectReason: s.LastDisconnectReason,
		CreatedAt:            s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !s.LastEventAt.IsZero() {
		out.LastEventAt = s.LastEventAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (g *Gateway) clientIDOrDefault(clientID string) string {
	if clientID == "" {
		return g.config.API.DefaultClientID
	}
	return clientID
}

// statusForError maps session errors to HTTP status codes. Everything that
// is not the caller's fault is a 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func callerOf(r *http.Request) string {
	if a := auth.FromContext(r.Context()); a != nil {
		return a.Subject
	}
	return ""
}

// decodeJSON decodes a request body. When allowEmpty is set, an empty body
// leaves v untouched.
func decodeJSON(body io.Reader, v any, allowEmpty bool) error {
	err := json.NewDecoder(body).Decode(v)
	switch {
	case err == nil:
		return nil
	case allowEmpty && errors.Is(err, io.EOF):
		return nil
	default:
		return errors.New("invalid JSON body")
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
