// Package events fans session events out to in-process subscribers.
//
// Every event the session controller sends to a tenant webhook is also
// published here. The gateway exposes subscriptions as a Server-Sent Events
// stream at /api/whatsapp/events. Publishing never blocks: a subscriber whose
// 64-event buffer is full misses events.
package events
