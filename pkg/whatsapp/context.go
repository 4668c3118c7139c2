package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// ForwardContext describes the attributes stamped on every outbound message.
// An empty NewsletterJID disables the stamp.
type ForwardContext struct {
	NewsletterJID   string
	NewsletterName  string
	ServerMessageID int32
}

// ContextInfo renders the forward attributes, or nil when none are configured.
func (f ForwardContext) ContextInfo() *waE2E.ContextInfo {
	if f.NewsletterJID == "" {
		return nil
	}
	serverID := f.ServerMessageID
	if serverID == 0 {
		serverID = 100
	}
	return &waE2E.ContextInfo{
		IsForwarded:     proto.Bool(true),
		ForwardingScore: proto.Uint32(1),
		ForwardedNewsletterMessageInfo: &waE2E.ContextInfo_ForwardedNewsletterMessageInfo{
			NewsletterJID:   proto.String(f.NewsletterJID),
			NewsletterName:  proto.String(f.NewsletterName),
			ServerMessageID: proto.Int32(serverID),
		},
	}
}

type SendOption func(*sendOptions)

type sendOptions struct {
	quoted     *types.MessageInfo
	quotedMsg  *waE2E.Message
	mentions   []types.JID
	noDefaults bool
}

// Quote makes the outbound message a reply to the given inbound one.
func Quote(info types.MessageInfo, msg *waE2E.Message) SendOption {
	return func(o *sendOptions) {
		o.quoted = &info
		o.quotedMsg = msg
	}
}

func Mention(jids ...types.JID) SendOption {
	return func(o *sendOptions) {
		o.mentions = append(o.mentions, jids...)
	}
}

// Plain sends the message without the default forward attributes.
func Plain() SendOption {
	return func(o *sendOptions) {
		o.noDefaults = true
	}
}

func (o *sendOptions) contextInfo(defaults *waE2E.ContextInfo) *waE2E.ContextInfo {
	var info *waE2E.ContextInfo
	if o.quoted != nil || len(o.mentions) > 0 {
		info = &waE2E.ContextInfo{}
		if o.quoted != nil {
			info.StanzaID = proto.String(o.quoted.ID)
			info.Participant = proto.String(o.quoted.Sender.ToNonAD().String())
			info.QuotedMessage = o.quotedMsg
			if o.quoted.IsGroup {
				info.RemoteJID = proto.String(o.quoted.Chat.String())
			}
		}
		for _, m := range o.mentions {
			info.MentionedJID = append(info.MentionedJID, m.String())
		}
	}
	if !o.noDefaults && defaults != nil {
		if info == nil {
			info = &waE2E.ContextInfo{}
		}
		MergeContext(info, defaults)
	}
	return info
}

// Render returns a copy of msg with the context built from opts and defaults attached.
func Render(msg *waE2E.Message, defaults *waE2E.ContextInfo, opts ...SendOption) *waE2E.Message {
	o := &sendOptions{}
	for _, opt := range opts {
		opt(o)
	}
	out := proto.Clone(msg).(*waE2E.Message)
	ApplyContext(out, o.contextInfo(defaults))
	return out
}

// Text is the simplest outbound message.
func Text(body string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(body)}
}

// ApplyContext attaches info to whichever content msg carries. A plain conversation is
// upgraded to an extended text message since it cannot hold a context.
// Fields already present on the message win over info.
func ApplyContext(msg *waE2E.Message, info *waE2E.ContextInfo) {
	if msg == nil || info == nil {
		return
	}
	if msg.Conversation != nil && msg.ExtendedTextMessage == nil {
		msg.ExtendedTextMessage = &waE2E.ExtendedTextMessage{Text: msg.Conversation}
		msg.Conversation = nil
	}
	slot := contextSlot(msg)
	if slot == nil {
		return
	}
	if *slot == nil {
		*slot = &waE2E.ContextInfo{}
	}
	MergeContext(*slot, info)
}

// MergeContext copies every field of src that dst leaves unset.
func MergeContext(dst *waE2E.ContextInfo, src *waE2E.ContextInfo) {
	if dst.IsForwarded == nil {
		dst.IsForwarded = src.IsForwarded
	}
	if dst.ForwardingScore == nil {
		dst.ForwardingScore = src.ForwardingScore
	}
	if dst.ForwardedNewsletterMessageInfo == nil {
		dst.ForwardedNewsletterMessageInfo = src.ForwardedNewsletterMessageInfo
	}
	if dst.StanzaID == nil {
		dst.StanzaID = src.StanzaID
	}
	if dst.Participant == nil {
		dst.Participant = src.Participant
	}
	if dst.RemoteJID == nil {
		dst.RemoteJID = src.RemoteJID
	}
	if dst.QuotedMessage == nil {
		dst.QuotedMessage = src.QuotedMessage
	}
	if len(dst.MentionedJID) == 0 {
		dst.MentionedJID = src.MentionedJID
	}
}

func contextSlot(msg *waE2E.Message) **waE2E.ContextInfo {
	switch {
	case msg.ExtendedTextMessage != nil:
		return &msg.ExtendedTextMessage.ContextInfo
	case msg.ImageMessage != nil:
		return &msg.ImageMessage.ContextInfo
	case msg.VideoMessage != nil:
		return &msg.VideoMessage.ContextInfo
	case msg.AudioMessage != nil:
		return &msg.AudioMessage.ContextInfo
	case msg.DocumentMessage != nil:
		return &msg.DocumentMessage.ContextInfo
	case msg.StickerMessage != nil:
		return &msg.StickerMessage.ContextInfo
	case msg.ContactMessage != nil:
		return &msg.ContactMessage.ContextInfo
	case msg.LocationMessage != nil:
		return &msg.LocationMessage.ContextInfo
	}
	return nil
}

// QuotedContext returns the context of msg if it quotes another message.
func QuotedContext(msg *waE2E.Message) *waE2E.ContextInfo {
	if msg == nil {
		return nil
	}
	slot := contextSlot(msg)
	if slot == nil || *slot == nil || (*slot).GetStanzaID() == "" {
		return nil
	}
	return *slot
}
