// ABOUTME: Tests for the WhatsApp HTTP API handlers
// ABOUTME: Drives sessions through a fake transport and checks JSON responses and status codes

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/session"
	"github.com/2389/wa-gateway/internal/store"
)

// do sends a request through the full handler chain, auth included.
func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	tg := newTestGateway(t, nil)

	rec := do(t, tg.Handler(), http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "wa-gateway", resp.Name)
	assert.Equal(t, "test", resp.Version)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
	assert.Equal(t, 0, resp.Sessions)
	_, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	assert.NoError(t, err)

	tg.connected(t, "acme", "")
	rec = do(t, tg.Handler(), http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, 1, decodeBody[HealthResponse](t, rec).Sessions)
}

func TestHandleHealth_MethodNotAllowed(t *testing.T) {
	tg := newTestGateway(t, nil)

	rec := do(t, tg.Handler(), http.MethodPost, "/api/health", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_RequiresBearerCredential(t *testing.T) {
	tg := newTestGateway(t, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong key", "not-the-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/status", nil, tt.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestAPI_AcceptsJWTWhenSecretConfigured(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Auth.JWTSecret = "a-very-long-test-secret-for-hmac"
	tg := newTestGateway(t, cfg)

	token, err := auth.NewJWTVerifier([]byte("a-very-long-test-secret-for-hmac")).Generate("crm-backend", time.Hour)
	require.NoError(t, err)

	rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/status", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	forged, err := auth.NewJWTVerifier([]byte("some-other-secret-entirely-wrong")).Generate("crm-backend", time.Hour)
	require.NoError(t, err)
	rec = do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/status", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleStatus_UnknownClient(t *testing.T) {
	tg := newTestGateway(t, nil)

	rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/status?clientId=nobody", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatusResponse](t, rec)
	assert.Equal(t, "disconnected", resp.ConnectionState)
	assert.Empty(t, resp.QRCode)
	assert.False(t, resp.IsConnected)
}

func TestHandleStatus_DefaultClientID(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.connected(t, "whatsapp-crm", "")

	rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/status", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatusResponse](t, rec)
	assert.Equal(t, "connected", resp.ConnectionState)
	assert.True(t, resp.IsConnected)
}

func TestHandleConnect_ReturnsFirstQRCode(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.dialer.onDial = func(h session.EventHandler) {
		h.OnStatus(session.StatusUpdate{Kind: session.StatusQR, QR: "2@pairing-ref"})
	}

	start := time.Now()
	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/connect",
		ConnectRequest{ClientID: "acme", Webhook: "http://crm.invalid/hook"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ConnectResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "2@pairing-ref", resp.QRCode)
	assert.False(t, resp.IsConnected)
	assert.Less(t, time.Since(start), tg.config.API.ConnectWait, "should answer as soon as the QR arrives")

	s, ok := tg.Sessions().Session("acme")
	require.True(t, ok)
	assert.Equal(t, session.StateQRPending, s.State)
	assert.Equal(t, "http://crm.invalid/hook", s.WebhookURL)
}

func TestHandleConnect_AlreadyPaired(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.dialer.onDial = func(h session.EventHandler) {
		h.OnStatus(session.StatusUpdate{Kind: session.StatusOpen})
	}

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/connect", ConnectRequest{ClientID: "acme"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ConnectResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.QRCode)
	assert.True(t, resp.IsConnected)
}

func TestHandleConnect_NoEventBeforeWait(t *testing.T) {
	tg := newTestGateway(t, nil)

	start := time.Now()
	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/connect", ConnectRequest{ClientID: "acme"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), tg.config.API.ConnectWait)

	resp := decodeBody[ConnectResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.QRCode)
	assert.False(t, resp.IsConnected)
	assert.Equal(t, session.StateConnecting, tg.Sessions().Status("acme").State)
}

func TestHandleConnect_Validation(t *testing.T) {
	tg := newTestGateway(t, nil)

	tests := []struct {
		name    string
		method  string
		body    any
		status  int
		message string
	}{
		{"missing clientId", http.MethodPost, ConnectRequest{Webhook: "http://x.invalid"}, http.StatusBadRequest, "clientId is required"},
		{"invalid JSON", http.MethodPost, "{not json", http.StatusBadRequest, "invalid JSON body"},
		{"empty body", http.MethodPost, "", http.StatusBadRequest, "invalid JSON body"},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, tg.Handler(), tt.method, "/api/whatsapp/connect", tt.body, testAPIKey)
			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				resp := decodeBody[map[string]string](t, rec)
				assert.Equal(t, tt.message, resp["error"])
			}
		})
	}
	assert.Empty(t, tg.Sessions().Sessions())
}

func TestHandleConnect_DialFailure(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.dialer.err = errors.New("device store locked")

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/connect", ConnectRequest{ClientID: "acme"}, testAPIKey)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Contains(t, resp["error"], "device store locked")
	assert.Equal(t, session.StateDisconnected, tg.Sessions().Status("acme").State)
}

func TestHandleConnect_AfterShutdown(t *testing.T) {
	tg := newTestGateway(t, nil)
	require.NoError(t, tg.Sessions().Shutdown(context.Background()))

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/connect", ConnectRequest{ClientID: "acme"}, testAPIKey)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSend_Success(t *testing.T) {
	tg := newTestGateway(t, nil)
	sock := tg.connected(t, "acme", "")

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/send", SendRequest{
		ClientID:    "acme",
		PhoneNumber: "+55 (11) 99999-9999",
		Message:     "Olá!",
	}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[SendResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "MSG-1", resp.MessageID)

	sock.mu.Lock()
	defer sock.mu.Unlock()
	assert.Equal(t, []string{"5511999999999@s.whatsapp.net Olá!"}, sock.sent)
}

func TestHandleSend_DefaultClientID(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.connected(t, "whatsapp-crm", "")

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/send",
		SendRequest{PhoneNumber: "15551234567", Message: "hi"}, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSend_Errors(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.connected(t, "acme", "")

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"missing phone", SendRequest{ClientID: "acme", Message: "hi"}, http.StatusBadRequest, "phoneNumber and message are required"},
		{"missing message", SendRequest{ClientID: "acme", PhoneNumber: "1555"}, http.StatusBadRequest, "phoneNumber and message are required"},
		{"invalid JSON", "[", http.StatusBadRequest, "invalid JSON body"},
		{"not connected", SendRequest{ClientID: "other", PhoneNumber: "1555", Message: "hi"}, http.StatusInternalServerError, "not connected"},
		{"no digits", SendRequest{ClientID: "acme", PhoneNumber: "call me", Message: "hi"}, http.StatusInternalServerError, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/send", tt.body, testAPIKey)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeBody[map[string]string](t, rec)
			assert.Contains(t, resp["error"], tt.message)
		})
	}
}

func TestHandleSend_TransportFailure(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.dialer.socket = func(s *fakeSocket) { s.sendErr = errors.New("websocket closed") }
	tg.connected(t, "acme", "")

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/send",
		SendRequest{ClientID: "acme", PhoneNumber: "15551234567", Message: "hi"}, testAPIKey)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Contains(t, resp["error"], "websocket closed")
}

func TestHandleDisconnect(t *testing.T) {
	tg := newTestGateway(t, nil)
	sock := tg.connected(t, "acme", "")
	require.NoError(t, tg.store.Save(context.Background(), &store.Credentials{ClientID: "acme", Data: []byte("jid")}))

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/disconnect", DisconnectRequest{ClientID: "acme"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[SuccessResponse](t, rec).Success)

	logouts, _ := sock.counts()
	assert.Equal(t, 1, logouts)
	_, ok := tg.Sessions().Session("acme")
	assert.False(t, ok)
	_, err := tg.store.Load(context.Background(), "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleDisconnect_EmptyBodyUsesDefaultClient(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.connected(t, "whatsapp-crm", "")

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/disconnect", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := tg.Sessions().Session("whatsapp-crm")
	assert.False(t, ok)
}

func TestHandleDisconnect_UnknownClientSucceeds(t *testing.T) {
	tg := newTestGateway(t, nil)

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/disconnect", DisconnectRequest{ClientID: "ghost"}, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDisconnect_QRPendingSession(t *testing.T) {
	tg := newTestGateway(t, nil)
	require.NoError(t, tg.Sessions().Connect(context.Background(), "acme", ""))
	tg.dialer.handler(0).OnStatus(session.StatusUpdate{Kind: session.StatusQR, QR: "qr-acme"})
	require.Equal(t, session.StateQRPending, tg.Sessions().Status("acme").State)

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/disconnect", DisconnectRequest{ClientID: "acme"}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[SuccessResponse](t, rec).Success)

	logouts, _ := tg.dialer.lastSocket().counts()
	assert.Equal(t, 1, logouts)
	assert.Equal(t, session.StateDisconnected, tg.Sessions().Status("acme").State)
}

func TestHandleDisconnect_LogoutFailure(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.dialer.socket = func(s *fakeSocket) { s.logoutErr = errors.New("server unreachable") }
	tg.connected(t, "acme", "")

	rec := do(t, tg.Handler(), http.MethodPost, "/api/whatsapp/disconnect", DisconnectRequest{ClientID: "acme"}, testAPIKey)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decodeBody[map[string]string](t, rec)
	assert.Contains(t, resp["error"], "server unreachable")

	// The session is forgotten even though logout failed.
	_, ok := tg.Sessions().Session("acme")
	assert.False(t, ok)
}

func TestHandleListSessions(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.connected(t, "beta", "http://crm.invalid/hook")
	require.NoError(t, tg.Sessions().Connect(context.Background(), "alpha", ""))
	tg.dialer.handler(1).OnStatus(session.StatusUpdate{Kind: session.StatusQR, QR: "qr-alpha"})
	require.NoError(t, tg.store.Save(context.Background(), &store.Credentials{ClientID: "beta", Data: []byte("jid")}))

	rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/sessions", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ListSessionsResponse](t, rec)
	require.Len(t, resp.Sessions, 2)

	alpha, beta := resp.Sessions[0], resp.Sessions[1]
	assert.Equal(t, "alpha", alpha.ClientID)
	assert.Equal(t, "qr_pending", alpha.ConnectionState)
	assert.True(t, alpha.HasQRCode)
	assert.False(t, alpha.WebhookConfigured)
	assert.False(t, alpha.Paired)

	assert.Equal(t, "beta", beta.ClientID)
	assert.Equal(t, "connected", beta.ConnectionState)
	assert.True(t, beta.IsConnected)
	assert.True(t, beta.WebhookConfigured)
	assert.True(t, beta.Paired)
	assert.NotEmpty(t, beta.CreatedAt)
	assert.NotEmpty(t, beta.LastEventAt)
}

func TestHandleListSessions_Empty(t *testing.T) {
	tg := newTestGateway(t, nil)

	rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/sessions", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, strings.TrimSpace(rec.Body.String()))
}

func TestHandleListSessions_StoreFailure(t *testing.T) {
	tg := newTestGateway(t, nil)
	tg.connected(t, "acme", "")
	tg.store.ListErr = errors.New("disk gone")

	rec := do(t, tg.Handler(), http.MethodGet, "/api/whatsapp/sessions", nil, testAPIKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForError(session.ErrValidation))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(session.ErrShuttingDown))
	assert.Equal(t, http.StatusInternalServerError, statusForError(session.ErrNotConnected))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}
