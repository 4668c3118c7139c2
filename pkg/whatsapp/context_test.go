package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

func TestForwardContextDisabledWithoutNewsletter(t *testing.T) {
	assert.Nil(t, ForwardContext{}.ContextInfo())
}

func TestApplyContextUpgradesConversation(t *testing.T) {
	defaults := ForwardContext{NewsletterJID: "120363@newsletter", NewsletterName: "Silva"}.ContextInfo()
	msg := Text("pong")

	ApplyContext(msg, defaults)

	assert.Nil(t, msg.Conversation)
	require.NotNil(t, msg.ExtendedTextMessage)
	assert.Equal(t, "pong", msg.ExtendedTextMessage.GetText())
	ctx := msg.ExtendedTextMessage.GetContextInfo()
	assert.True(t, ctx.GetIsForwarded())
	assert.Equal(t, uint32(1), ctx.GetForwardingScore())
	assert.Equal(t, "120363@newsletter", ctx.GetForwardedNewsletterMessageInfo().GetNewsletterJID())
	assert.Equal(t, int32(100), ctx.GetForwardedNewsletterMessageInfo().GetServerMessageID())
}

func TestApplyContextKeepsExistingFields(t *testing.T) {
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		ContextInfo: &waE2E.ContextInfo{ForwardingScore: proto.Uint32(7)},
	}}

	ApplyContext(msg, &waE2E.ContextInfo{ForwardingScore: proto.Uint32(1), IsForwarded: proto.Bool(true)})

	assert.Equal(t, uint32(7), msg.ImageMessage.ContextInfo.GetForwardingScore())
	assert.True(t, msg.ImageMessage.ContextInfo.GetIsForwarded())
}

func TestSendOptionsBuildQuoteAndMentions(t *testing.T) {
	sender := types.NewJID("254700143167", types.DefaultUserServer)
	chat := types.NewJID("120363025246125888", types.GroupServer)
	info := types.MessageInfo{ID: "ABC", MessageSource: types.MessageSource{Chat: chat, Sender: sender, IsGroup: true}}
	quoted := Text(".ping")

	o := &sendOptions{}
	Quote(info, quoted)(o)
	Mention(sender)(o)
	ctx := o.contextInfo(nil)

	assert.Equal(t, "ABC", ctx.GetStanzaID())
	assert.Equal(t, sender.String(), ctx.GetParticipant())
	assert.Equal(t, chat.String(), ctx.GetRemoteJID())
	assert.Same(t, quoted, ctx.GetQuotedMessage())
	assert.Equal(t, []string{sender.String()}, ctx.GetMentionedJID())
	assert.False(t, ctx.GetIsForwarded())
}

func TestPlainSkipsDefaults(t *testing.T) {
	o := &sendOptions{}
	Plain()(o)
	assert.Nil(t, o.contextInfo(ForwardContext{NewsletterJID: "x@newsletter"}.ContextInfo()))
}

func TestQuotedContext(t *testing.T) {
	assert.Nil(t, QuotedContext(Text("hi")))
	reply := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String("yes"),
		ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String("PROMPT")},
	}}
	assert.Equal(t, "PROMPT", QuotedContext(reply).GetStanzaID())
}
