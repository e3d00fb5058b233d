// ABOUTME: Inbound message relay from transport batches to tenant webhooks
// ABOUTME: Extracts plain text through ordered rules and isolates failures per message

package session

import (
	"time"

	"github.com/2389/wa-gateway/internal/dedupe"
	"github.com/2389/wa-gateway/internal/webhook"
)

// textRule extracts a text body from one message kind.
type textRule struct {
	name    string
	extract func(*MessageContent) string
}

// textRules are tried in order; the first non-empty result wins. Messages no
// rule matches (media without caption, reactions, stickers) are not relayed.
var textRules = []textRule{
	{name: "conversation", extract: func(m *MessageContent) string { return m.Conversation }},
	{name: "extended_text", extract: func(m *MessageContent) string { return m.ExtendedText }},
	{name: "image_caption", extract: func(m *MessageContent) string { return m.ImageCaption }},
}

func extractText(content *MessageContent) (string, string) {
	if content == nil {
		return "", ""
	}
	for _, rule := range textRules {
		if text := rule.extract(content); text != "" {
			return text, rule.name
		}
	}
	return "", ""
}

// relay forwards the text messages in batch to s's webhook.
func (c *Controller) relay(s Session, batch []InboundMessage) {
	relayed := 0
	for i := range batch {
		if c.relayOne(s, &batch[i]) {
			relayed++
		}
	}
	if relayed > 0 {
		c.logger.Debug("relayed inbound messages", "client_id", s.ClientID, "relayed", relayed, "batch", len(batch))
	}
}

// relayOne handles a single message. A panic here is logged and swallowed so
// the rest of the batch still goes out.
func (c *Controller) relayOne(s Session, m *InboundMessage) (relayed bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic relaying inbound message",
				"client_id", s.ClientID,
				"message_id", m.ID,
				"panic", r,
			)
			relayed = false
		}
	}()

	if m.FromMe {
		return false
	}

	text, rule := extractText(m.Content)
	if text == "" {
		c.logger.Debug("skipping message without text", "client_id", s.ClientID, "message_id", m.ID)
		return false
	}

	user := userFromJID(m.RemoteJID)
	if user == "" {
		c.logger.Debug("skipping message without sender", "client_id", s.ClientID, "message_id", m.ID)
		return false
	}

	if c.seen != nil && m.ID != "" && c.seen.CheckAndMark(dedupe.Key(s.ClientID, m.ID)) {
		c.logger.Debug("skipping redelivered message", "client_id", s.ClientID, "message_id", m.ID)
		return false
	}

	c.emit(s.WebhookURL, &webhook.MessageEvent{
		Type:          webhook.TypeMessage,
		ClientID:      s.ClientID,
		PhoneNumber:   "+" + user,
		Message:       text,
		IsFromContact: true,
		ContactName:   m.PushName,
		MessageID:     m.ID,
		Timestamp:     c.now().UTC().Format(time.RFC3339),
	})
	c.logger.Debug("message relayed", "client_id", s.ClientID, "message_id", m.ID, "rule", rule)
	return true
}
