package wa

import (
	"github.com/mvtorres/groupwatch/internal/source"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// parseRecent normalizes a live whatsmeow message event into the
// source DTO consumed by the watch engine.
func parseRecent(evt *events.Message) source.RecentMessage {
	msgType := detectMessageType(evt.Message)
	return source.RecentMessage{
		ID:        evt.Info.ID,
		Timestamp: evt.Info.Timestamp.UnixMilli(),
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		Body:      extractTextBody(evt.Message),
		HasMedia:  isMediaType(msgType),
		Type:      msgType,
	}
}

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
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

// detectMessageType distinguishes push-to-talk voice notes ("ptt") from
// regular audio attachments; both produce CERTIFICATE events downstream.
func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "ptt"
		}
		return "audio"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
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

func isMediaType(t string) bool {
	switch t {
	case "image", "video", "audio", "ptt", "document", "sticker":
		return true
	}
	return false
}
