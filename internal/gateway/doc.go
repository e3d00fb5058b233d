// Package gateway orchestrates the wa-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the wa-gateway server.
// It owns the credential store, the WhatsApp dialer, the session controller,
// the webhook queue, the event broadcaster and the HTTP server, and shuts them
// down in dependency order.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go and events.go:
//
//   - GET /api/health - Liveness, version, uptime and session count (no auth)
//   - POST /api/whatsapp/connect - Start a session, return the first QR code
//   - GET /api/whatsapp/status - Connection state and pending QR code
//   - POST /api/whatsapp/send - Send a text message
//   - POST /api/whatsapp/disconnect - Log out and forget a session
//   - GET /api/whatsapp/sessions - Summaries of every session, with a paired flag
//   - GET /api/whatsapp/events - Server-Sent Events mirror of the webhooks
//
// Every /api/whatsapp/ route requires "Authorization: Bearer <token>", where
// the token is the configured API key or a JWT signed with auth.jwt_secret.
// Errors are JSON objects of the form {"error": "..."}.
//
// CORS preflights are answered ahead of authentication for the origins in
// server.cors_origins (any origin when unset).
//
// # SSE Streaming
//
// Events are streamed with the webhook payload as data:
//
//	event: qr
//	data: {"type":"qr","clientId":"acme","qrCode":"data:image/png;base64,..."}
//
//	event: connection
//	data: {"type":"connection","clientId":"acme","isConnected":true}
//
// A comment line is sent every 30 seconds to keep proxies from timing out.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
//	err = gw.Run(ctx)
//
// Run returns after ctx is cancelled and Shutdown has completed. Shutdown
// closes transports without logging out, so sessions resume from their stored
// credentials on the next start once a client calls connect again.
package gateway
