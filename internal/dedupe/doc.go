// Package dedupe suppresses duplicate inbound messages before they are relayed
// to a tenant's webhook.
package dedupe
