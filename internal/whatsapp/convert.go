// ABOUTME: Translates whatsmeow events into session status updates and messages
// ABOUTME: Keeps protocol types out of the session engine

package whatsapp

import (
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/2389/wa-gateway/internal/session"
)

// statusFromEvent maps connection-level events. ok is false for events that
// carry no status.
func statusFromEvent(evt any) (session.StatusUpdate, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return session.StatusUpdate{Kind: session.StatusOpen}, true
	case *events.LoggedOut:
		return session.StatusUpdate{
			Kind:   session.StatusClose,
			Cause:  session.CauseLoggedOut,
			Detail: fmt.Sprintf("logged out (%s)", e.Reason.String()),
		}, true
	case *events.Disconnected:
		return closeOther("connection lost"), true
	case *events.StreamReplaced:
		return closeOther("stream replaced by another connection"), true
	case *events.ConnectFailure:
		return closeOther(fmt.Sprintf("connect failure: %s %s", e.Reason.String(), e.Message)), true
	case *events.TemporaryBan:
		return closeOther("temporary ban: " + e.String()), true
	case *events.ClientOutdated:
		return closeOther("client outdated"), true
	default:
		return session.StatusUpdate{}, false
	}
}

func closeOther(detail string) session.StatusUpdate {
	return session.StatusUpdate{Kind: session.StatusClose, Cause: session.CauseOther, Detail: detail}
}

// inboundFromEvent converts a message event. Reactions, receipts and protocol
// messages still convert; the relay drops whatever has no text.
func inboundFromEvent(evt *events.Message) session.InboundMessage {
	return session.InboundMessage{
		ID:        evt.Info.ID,
		RemoteJID: senderJID(evt.Info.MessageSource).String(),
		FromMe:    evt.Info.IsFromMe,
		PushName:  evt.Info.PushName,
		Content:   contentFromProto(evt.Message),
	}
}

// senderJID is the phone-number address of whoever wrote the message, never the
// chat (a group chat's JID is the group). LID-addressed senders carry their
// phone-number JID in SenderAlt.
func senderJID(src types.MessageSource) types.JID {
	if src.Sender.Server == types.HiddenUserServer && !src.SenderAlt.IsEmpty() {
		return src.SenderAlt.ToNonAD()
	}
	return src.Sender.ToNonAD()
}

func contentFromProto(msg *waE2E.Message) *session.MessageContent {
	if msg == nil {
		return nil
	}
	return &session.MessageContent{
		Conversation: msg.GetConversation(),
		ExtendedText: msg.GetExtendedTextMessage().GetText(),
		ImageCaption: msg.GetImageMessage().GetCaption(),
	}
}
