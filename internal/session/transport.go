// ABOUTME: Boundary between the session engine and a messaging transport
// ABOUTME: A Dialer opens one Socket per generation and reports events to its handler

package session

import (
	"context"
	"strings"
)

// UserServer is the address suffix for individual user accounts.
const UserServer = "s.whatsapp.net"

// Address identifies a recipient on the transport.
type Address struct {
	User   string
	Server string
}

func (a Address) String() string {
	return a.User + "@" + a.Server
}

// StatusKind classifies a connection status update.
type StatusKind int

const (
	// StatusQR carries a pairing code awaiting a scan.
	StatusQR StatusKind = iota + 1
	// StatusOpen means the transport is authenticated and usable.
	StatusOpen
	// StatusClose means the transport went away.
	StatusClose
)

func (k StatusKind) String() string {
	switch k {
	case StatusQR:
		return "qr"
	case StatusOpen:
		return "open"
	case StatusClose:
		return "close"
	default:
		return "unknown"
	}
}

// CloseCause says why a transport closed.
type CloseCause int

const (
	// CauseOther covers network loss, server restarts and everything that
	// should be retried.
	CauseOther CloseCause = iota
	// CauseLoggedOut means the credentials were revoked; never retried.
	CauseLoggedOut
)

// StatusUpdate is a connection status event.
type StatusUpdate struct {
	Kind StatusKind
	// QR is set for StatusQR.
	QR string
	// Cause and Detail are set for StatusClose.
	Cause  CloseCause
	Detail string
}

// MessageContent holds the text-bearing parts of a message a transport decoded.
type MessageContent struct {
	Conversation string
	ExtendedText string
	ImageCaption string
}

// InboundMessage is one message from a transport's inbound batch.
type InboundMessage struct {
	ID string
	// RemoteJID is the sender's phone-number address, e.g. "15551234567@s.whatsapp.net".
	RemoteJID string
	FromMe    bool
	PushName  string
	Content   *MessageContent
}

// EventHandler receives a socket's events. Calls for one socket arrive in order.
type EventHandler interface {
	OnStatus(update StatusUpdate)
	OnCredentials(data []byte)
	OnMessages(batch []InboundMessage)
}

// DialRequest describes a new transport connection.
type DialRequest struct {
	ClientID string
	// Credentials is nil when the client has never paired.
	Credentials []byte
	Handler     EventHandler
}

// Dialer opens transports. Dial returns once the connection attempt is under
// way; QR and open events follow through the handler.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Socket, error)
}

// Socket is one live transport generation.
type Socket interface {
	// SendText sends text and returns the transport's message id, if any.
	SendText(ctx context.Context, to Address, text string) (string, error)
	// Logout revokes the credentials on the server side. A transport that
	// never paired has nothing to revoke and returns nil.
	Logout(ctx context.Context) error
	// Close stops event delivery and drops the connection.
	Close() error
}

// userFromJID strips the server suffix and any device part from a JID.
func userFromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}
