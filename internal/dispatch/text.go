package dispatch

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// ExtractText returns the first non-empty text field of msg in a fixed priority:
// conversation, extended text, image, video and document captions, then the ids
// carried by button, list and template replies.
func ExtractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	doc := msg.GetDocumentMessage()
	if doc == nil {
		doc = msg.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage()
	}
	candidates := []string{
		msg.GetConversation(),
		msg.GetExtendedTextMessage().GetText(),
		msg.GetImageMessage().GetCaption(),
		msg.GetVideoMessage().GetCaption(),
		doc.GetCaption(),
		msg.GetButtonsResponseMessage().GetSelectedButtonID(),
		msg.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID(),
		msg.GetTemplateButtonReplyMessage().GetSelectedID(),
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
