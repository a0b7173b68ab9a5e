package whatsapp

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-echo-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

// translateEvent maps a whatsmeow event onto zero or more session events.
func translateEvent(raw interface{}, device *store.Device) []session.Event {
	switch e := raw.(type) {
	case *events.Message:
		if evt := messageEvent(e); evt != nil {
			return []session.Event{evt}
		}
	case *events.Connected:
		out := []session.Event{&session.ConnectionEvent{State: session.StateOpen}}
		return append(out, credentialsEvent(device)...)
	case *events.PushNameSetting:
		return credentialsEvent(device)
	case *events.Disconnected:
		return closed(session.CodeConnectionClosed, errors.New("connection closed"))
	case *events.LoggedOut:
		code := session.CodeLoggedOut
		if e.Reason.IsLoggedOut() {
			code = int(e.Reason)
		}
		return closed(code, fmt.Errorf("logged out: %s", e.Reason))
	case *events.StreamReplaced:
		return closed(session.CodeStreamReplaced, errors.New("stream replaced by another connection"))
	case *events.ConnectFailure:
		return closed(int(e.Reason), fmt.Errorf("connect failure: %s %s", e.Reason, e.Message))
	case *events.TemporaryBan:
		return closed(session.CodeTemporaryBan, fmt.Errorf("temporary ban: %s", e.String()))
	case *events.ClientOutdated:
		return closed(session.CodeClientOutdated, errors.New("client outdated"))
	case *events.KeepAliveTimeout:
		log.Print(nil).Warn(fmt.Sprintf("Client keepalive timeout, errors=%d", e.ErrorCount))
	}
	return nil
}

func closed(code int, err error) []session.Event {
	return []session.Event{&session.ConnectionEvent{State: session.StateClosed, Code: code, Err: err}}
}

func credentialsEvent(device *store.Device) []session.Event {
	bundle, err := BundleFromDevice(device)
	if err != nil {
		log.Print(nil).WithError(err).Warn("Skipping credential update")
		return nil
	}
	return []session.Event{&session.CredentialsEvent{Bundle: bundle}}
}

// messageEvent drops own messages, status broadcasts and protocol messages.
func messageEvent(e *events.Message) *session.MessageEvent {
	if e == nil || e.Message == nil || e.Info.IsFromMe {
		return nil
	}
	if e.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	if e.Message.GetProtocolMessage() != nil {
		return nil
	}
	if e.Message.GetSenderKeyDistributionMessage() != nil && !hasPayload(e.Message) {
		return nil
	}

	return &session.MessageEvent{
		ID:          e.Info.ID,
		Sender:      e.Info.Chat.String(),
		Participant: e.Info.Sender.String(),
		PushName:    e.Info.PushName,
		Timestamp:   e.Info.Timestamp,
		Content:     contentFromMessage(e.Message),
	}
}

func hasPayload(msg *waE2E.Message) bool {
	if msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil {
		return true
	}
	return messageType(msg) != "unknown"
}

func contentFromMessage(msg *waE2E.Message) session.Content {
	if text := msg.GetConversation(); text != "" {
		return session.PlainText{Text: text}
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return session.ExtendedText{
			Text:        ext.GetText(),
			MatchedText: ext.GetMatchedText(),
			QuotedID:    ext.GetContextInfo().GetStanzaID(),
		}
	}
	return session.Unsupported{Type: messageType(msg)}
}

func messageType(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil, msg.GetContactsArrayMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil, msg.GetLiveLocationMessage() != nil:
		return "location"
	case msg.GetReactionMessage() != nil:
		return "reaction"
	case msg.GetPollCreationMessage() != nil, msg.GetPollCreationMessageV3() != nil:
		return "poll"
	case msg.GetButtonsResponseMessage() != nil, msg.GetListResponseMessage() != nil, msg.GetTemplateButtonReplyMessage() != nil:
		return "interactive-response"
	default:
		return "unknown"
	}
}
