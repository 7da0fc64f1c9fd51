package wa

import (
	"github.com/matheus3301/wppimport/internal/staging"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types/events"
)

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) staging.Message {
	return staging.Message{
		ID:        evt.Info.ID,
		RemoteJID: evt.Info.Chat.ToNonAD().String(),
		SenderJID: evt.Info.Sender.ToNonAD().String(),
		PushName:  evt.Info.PushName,
		Text:      extractTextBody(evt.Message),
		Type:      detectMessageType(evt.Message),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp.Unix(),
	}
}

// ParseHistoryMessage normalizes one message of a history sync conversation.
// chatJID is the conversation id, already normalized by the caller.
func ParseHistoryMessage(chatJID string, wmi *waWeb.WebMessageInfo) (staging.Message, bool) {
	if wmi == nil || wmi.GetMessage() == nil {
		return staging.Message{}, false
	}
	key := wmi.GetKey()
	sender := key.GetParticipant()
	if sender == "" && !key.GetFromMe() {
		sender = chatJID
	}
	return staging.Message{
		ID:        key.GetID(),
		RemoteJID: chatJID,
		SenderJID: sender,
		PushName:  wmi.GetPushName(),
		Text:      extractTextBody(wmi.GetMessage()),
		Type:      detectMessageType(wmi.GetMessage()),
		FromMe:    key.GetFromMe(),
		Timestamp: int64(wmi.GetMessageTimestamp()),
	}, true
}

// extractTextBody returns the renderable text of a message: plain text,
// extended text, or the caption of a media message.
func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
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
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
