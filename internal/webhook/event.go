// ABOUTME: Webhook event payloads delivered to tenant webhooks
// ABOUTME: Defines the qr, connection and message event shapes

package webhook

// Event type names as they appear in the "type" field.
const (
	TypeQR         = "qr"
	TypeConnection = "connection"
	TypeMessage    = "message"
)

// Event is a JSON-serializable webhook payload.
type Event interface {
	EventType() string
	Client() string
}

// QREvent announces a new pairing code awaiting a scan.
type QREvent struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	QRCode   string `json:"qrCode"`
}

// NewQREvent builds a qr event.
func NewQREvent(clientID, qrCode string) *QREvent {
	return &QREvent{Type: TypeQR, ClientID: clientID, QRCode: qrCode}
}

func (e *QREvent) EventType() string { return TypeQR }
func (e *QREvent) Client() string    { return e.ClientID }

// ConnectionEvent reports that a session became connected or lost its connection.
type ConnectionEvent struct {
	Type        string `json:"type"`
	ClientID    string `json:"clientId"`
	IsConnected bool   `json:"isConnected"`
}

// NewConnectionEvent builds a connection event.
func NewConnectionEvent(clientID string, connected bool) *ConnectionEvent {
	return &ConnectionEvent{Type: TypeConnection, ClientID: clientID, IsConnected: connected}
}

func (e *ConnectionEvent) EventType() string { return TypeConnection }
func (e *ConnectionEvent) Client() string    { return e.ClientID }

// MessageEvent carries one inbound text message from a contact.
// Timestamp is the gateway's receipt time in RFC 3339, not the protocol time.
type MessageEvent struct {
	Type          string `json:"type"`
	ClientID      string `json:"clientId"`
	PhoneNumber   string `json:"phoneNumber"`
	Message       string `json:"message"`
	IsFromContact bool   `json:"isFromContact"`
	ContactName   string `json:"contactName"`
	MessageID     string `json:"messageId"`
	Timestamp     string `json:"timestamp"`
}

func (e *MessageEvent) EventType() string { return TypeMessage }
func (e *MessageEvent) Client() string    { return e.ClientID }
