// Package whatsapp connects sessions to WhatsApp through whatsmeow.
//
// All tenants share one whatsmeow device store (a SQLite file opened with
// mattn/go-sqlite3). A tenant's entry in the gateway's credential store holds
// only the JID of its paired device; the keys stay in the device store.
//
// whatsmeow's own reconnect loop is disabled. Disconnects are reported to the
// session controller, which decides whether and when to dial again.
package whatsapp
