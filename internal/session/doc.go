// Package session implements the session lifecycle and relay engine.
//
// # Overview
//
// A Controller keeps at most one messaging transport per tenant (clientId)
// and turns the transport's events into state changes and webhook events.
// All per-tenant state lives in the Registry; every change goes through
// Registry.Upsert, which serializes changes per clientId and commits nothing
// when the mutator fails.
//
// # State machine
//
//	connecting    --qr-->              qr_pending   (qr event)
//	connecting/qr_pending/reconnecting
//	              --open-->            connected    (connection true, qr cleared)
//	connected/qr_pending/connecting
//	              --close-->           reconnecting (connection false, timer armed)
//	any           --close(logged out)--> logged_out (connection false, no retry)
//	reconnecting  --budget spent-->    failed       (connection false, no retry)
//
// Credential updates are persisted without changing state.
//
// # Generations
//
// Each dial gets a fresh generation number. The transport's handler carries
// the generation it was created with; events whose generation is no longer
// the session's are dropped, so a late event from a replaced transport can
// never change the state of its successor. Reconnect timers check both the
// generation and the RECONNECTING state before dialing, which turns them into
// no-ops after a disconnect or a newer connect.
//
// # Reconnects
//
// Reconnect delays start at 3s and double up to 2m. After 10 consecutive
// attempts that do not reach CONNECTED the session is marked failed and
// waits for an explicit Connect. A reconnect whose dial fails counts as an
// attempt; an explicit Connect whose dial fails leaves the session
// disconnected and reports ErrConnectFailed.
package session
