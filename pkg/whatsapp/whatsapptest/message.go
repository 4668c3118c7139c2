package whatsapptest

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Incoming builds a received message event carrying msg.
func Incoming(chat types.JID, sender types.JID, id types.MessageID, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    chat,
				Sender:  sender,
				IsGroup: chat.Server == types.GroupServer,
			},
			ID:        id,
			Timestamp: time.Now(),
			PushName:  "Tester",
		},
		Message: msg,
	}
}

// IncomingText is Incoming with a plain conversation body.
func IncomingText(chat types.JID, sender types.JID, id types.MessageID, text string) *events.Message {
	return Incoming(chat, sender, id, &waE2E.Message{Conversation: proto.String(text)})
}

// ReplyTo builds a text message from sender that quotes the message with id quoted.
func ReplyTo(chat types.JID, sender types.JID, id types.MessageID, quoted types.MessageID, text string) *events.Message {
	return Incoming(chat, sender, id, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(quoted),
			},
		},
	})
}
