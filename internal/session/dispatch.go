// ABOUTME: Outbound dispatch of text messages through a connected session
// ABOUTME: Normalizes phone numbers to digits and surfaces transport failures

package session

import (
	"context"
	"fmt"
	"strings"
)

// SendResult describes a sent message.
type SendResult struct {
	// MessageID is empty when the transport does not report one.
	MessageID string
	To        Address
}

// Send delivers text to phoneNumber through clientID's transport. It does
// not retry.
func (c *Controller) Send(ctx context.Context, clientID, phoneNumber, text string) (*SendResult, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}

	s, ok := c.registry.Get(clientID)
	if !ok || s.State != StateConnected || s.socket == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, clientID)
	}

	digits := normalizePhone(phoneNumber)
	if digits == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, phoneNumber)
	}
	to := Address{User: digits, Server: UserServer}

	id, err := s.socket.SendText(ctx, to, text)
	if err != nil {
		c.logger.Warn("send failed", "client_id", clientID, "to", to.String(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.logger.Debug("message sent", "client_id", clientID, "to", to.String(), "message_id", id)
	return &SendResult{MessageID: id, To: to}, nil
}

// normalizePhone keeps only ASCII digits.
func normalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
