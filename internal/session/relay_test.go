// ABOUTME: Tests for the inbound message relay
// ABOUTME: Covers self-message filtering, extraction order, isolation and dedupe

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/dedupe"
	"github.com/2389/wa-gateway/internal/webhook"
)

var fixedNow = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

func relayHarness(t *testing.T, mutate ...func(*Config)) (*harness, EventHandler) {
	t.Helper()
	opts := append([]func(*Config){func(c *Config) { c.Now = func() time.Time { return fixedNow } }}, mutate...)
	h := newHarness(t, opts...)
	return h, h.connected(t, "c1", "http://hook")
}

func messages(h *harness) []*webhook.MessageEvent {
	var out []*webhook.MessageEvent
	for _, e := range h.sink.ofType(webhook.TypeMessage) {
		out = append(out, e.ev.(*webhook.MessageEvent))
	}
	return out
}

func TestRelay_SkipsSelfAuthored(t *testing.T) {
	h, handler := relayHarness(t)

	handler.OnMessages([]InboundMessage{
		{ID: "SELF", RemoteJID: "15550000000@s.whatsapp.net", FromMe: true, Content: &MessageContent{Conversation: "note to self"}},
		{ID: "ABC", RemoteJID: "15551234567@s.whatsapp.net", PushName: "Ann", Content: &MessageContent{Conversation: "hi"}},
	})

	got := messages(h)
	require.Len(t, got, 1)
	assert.Equal(t, &webhook.MessageEvent{
		Type:          "message",
		ClientID:      "c1",
		PhoneNumber:   "+15551234567",
		Message:       "hi",
		IsFromContact: true,
		ContactName:   "Ann",
		MessageID:     "ABC",
		Timestamp:     "2026-03-04T10:30:00Z",
	}, got[0])

	entries := h.sink.ofType(webhook.TypeMessage)
	assert.Equal(t, "http://hook", entries[0].url)
}

func TestExtractText_Order(t *testing.T) {
	tests := []struct {
		name     string
		content  *MessageContent
		wantText string
		wantRule string
	}{
		{"nil content", nil, "", ""},
		{"empty", &MessageContent{}, "", ""},
		{"conversation wins", &MessageContent{Conversation: "a", ExtendedText: "b", ImageCaption: "c"}, "a", "conversation"},
		{"extended text next", &MessageContent{ExtendedText: "b", ImageCaption: "c"}, "b", "extended_text"},
		{"caption last", &MessageContent{ImageCaption: "c"}, "c", "image_caption"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, rule := extractText(tt.content)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestRelay_DropsMessagesWithoutText(t *testing.T) {
	h, handler := relayHarness(t)

	handler.OnMessages([]InboundMessage{
		{ID: "STICKER", RemoteJID: "1555@s.whatsapp.net", Content: &MessageContent{}},
		{ID: "NIL", RemoteJID: "1555@s.whatsapp.net"},
		{ID: "CAPTION", RemoteJID: "1555@s.whatsapp.net", Content: &MessageContent{ImageCaption: "look"}},
	})

	got := messages(h)
	require.Len(t, got, 1)
	assert.Equal(t, "CAPTION", got[0].MessageID)
	assert.Equal(t, "look", got[0].Message)
}

func TestRelay_StripsDeviceAndServer(t *testing.T) {
	h, handler := relayHarness(t)

	handler.OnMessages([]InboundMessage{
		{ID: "1", RemoteJID: "15551234567:12@s.whatsapp.net", Content: &MessageContent{Conversation: "x"}},
		{ID: "2", RemoteJID: "", Content: &MessageContent{Conversation: "no sender"}},
	})

	got := messages(h)
	require.Len(t, got, 1)
	assert.Equal(t, "+15551234567", got[0].PhoneNumber)
}

func TestRelay_FailureIsIsolatedPerMessage(t *testing.T) {
	h, handler := relayHarness(t)
	h.sink.panicOn = func(ev webhook.Event) bool {
		m, ok := ev.(*webhook.MessageEvent)
		return ok && m.MessageID == "BOOM"
	}

	assert.NotPanics(t, func() {
		handler.OnMessages([]InboundMessage{
			{ID: "BOOM", RemoteJID: "1@s.whatsapp.net", Content: &MessageContent{Conversation: "first"}},
			{ID: "OK", RemoteJID: "2@s.whatsapp.net", Content: &MessageContent{Conversation: "second"}},
		})
	})

	got := messages(h)
	require.Len(t, got, 1)
	assert.Equal(t, "OK", got[0].MessageID)
	assert.Equal(t, StateConnected, h.ctrl.Status("c1").State)
}

func TestRelay_DedupesRedeliveries(t *testing.T) {
	cache := dedupe.New(5*time.Minute, 100)
	t.Cleanup(cache.Close)
	h, handler := relayHarness(t, func(c *Config) { c.Dedupe = cache })

	msg := InboundMessage{ID: "ABC", RemoteJID: "1@s.whatsapp.net", Content: &MessageContent{Conversation: "hi"}}
	handler.OnMessages([]InboundMessage{msg})
	handler.OnMessages([]InboundMessage{msg})

	assert.Len(t, messages(h), 1)
}

func TestRelay_StaleGenerationDropped(t *testing.T) {
	h, old := relayHarness(t)
	require.NoError(t, h.ctrl.Connect(t.Context(), "c1", "http://hook"))

	old.OnMessages([]InboundMessage{
		{ID: "LATE", RemoteJID: "1@s.whatsapp.net", Content: &MessageContent{Conversation: "late"}},
	})

	assert.Empty(t, messages(h))
}
