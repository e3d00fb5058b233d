// Package webhook delivers session events to tenant webhooks.
//
// # Delivery contract
//
// Delivery is at most once and best effort: each event is POSTed once as JSON
// with "Authorization: Bearer <api key>" and a 10 second timeout. Timeouts,
// network errors and non-2xx responses are logged and discarded. There is no
// retry, no persistence and no backpressure on the producer.
//
// # Payloads
//
//	{"type":"qr","clientId":"acme","qrCode":"data:image/png;base64,..."}
//	{"type":"connection","clientId":"acme","isConnected":true}
//	{"type":"message","clientId":"acme","phoneNumber":"+15551234567",
//	 "message":"hi","isFromContact":true,"contactName":"Ann",
//	 "messageId":"3EB0...","timestamp":"2026-01-01T10:00:00Z"}
//
// # Ordering
//
// Queue runs deliveries on a per-client worker so a slow webhook for one tenant
// never delays another tenant, while events of one tenant keep their order.
// Each client's backlog is bounded; overflow is dropped with a warning.
package webhook
