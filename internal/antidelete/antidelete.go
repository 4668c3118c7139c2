// Package antidelete keeps recent messages and re-posts them to the bot's own chat when the sender revokes them.
package antidelete

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/retention"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const timeLayout = "2006-01-02 15:04:05"

type Config struct {
	Global    bool
	Group     bool
	Private   bool
	CacheSize int
	MaxAge    time.Duration
}

// Enabled reports whether revokes are recovered in chats of the given kind.
func (c Config) Enabled(isGroup bool) bool {
	if c.Global {
		return true
	}
	if isGroup {
		return c.Group
	}
	return c.Private
}

type stored struct {
	info    types.MessageInfo
	message *waE2E.Message
}

type Handler struct {
	cfg    Config
	store  *retention.Cache[string, stored]
	events webhook.Emitter
}

func New(cfg Config, emitter webhook.Emitter) *Handler {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if emitter == nil {
		emitter = webhook.Nop
	}
	return &Handler{
		cfg:    cfg,
		store:  retention.New[string, stored](cfg.CacheSize, cfg.MaxAge),
		events: emitter,
	}
}

func (h *Handler) Name() string {
	return "antidelete"
}

func (h *Handler) Len() int {
	return h.store.Len()
}

func (h *Handler) Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
	for _, evt := range batch {
		msg, ok := evt.(*events.Message)
		if !ok || msg.Message == nil || msg.Info.Chat == types.StatusBroadcastJID {
			continue
		}

		if pm := msg.Message.GetProtocolMessage(); pm != nil {
			if pm.GetType() == waE2E.ProtocolMessage_REVOKE {
				h.restore(ctx, sock, msg, pm.GetKey().GetID())
			}
			continue
		}

		if msg.Info.IsFromMe || !h.cfg.Enabled(msg.Info.IsGroup) || !hasContent(msg.Message) {
			continue
		}
		h.store.Put(cacheKey(msg.Info.Chat, msg.Info.ID), stored{info: msg.Info, message: msg.Message})
	}
}

func (h *Handler) restore(ctx context.Context, sock whatsapp.Socket, revoke *events.Message, id types.MessageID) {
	logger := log.Component("antidelete").WithFields(logrus.Fields{
		"id":   id,
		"chat": whatsapp.MaskJID(revoke.Info.Chat),
	})

	orig, ok := h.store.Take(cacheKey(revoke.Info.Chat, id))
	if !ok {
		logger.Debug("Revoked message was not cached")
		return
	}
	self := sock.Self().JID
	if self.IsEmpty() {
		return
	}
	own := self.ToNonAD()

	receipt, err := sock.SendMessage(ctx, own, orig.message, whatsapp.Plain())
	if err != nil {
		logger.WithError(err).Warn("Failed to re-post deleted message")
		return
	}

	resent := types.MessageInfo{
		MessageSource: types.MessageSource{Chat: own, Sender: own, IsFromMe: true},
		ID:            receipt.ID,
	}
	alert := fmt.Sprintf("🚨 *Deleted message*\n👤 From: @%s\n💬 Chat: %s\n🕒 Sent: %s\n🗑 Deleted: %s",
		orig.info.Sender.User,
		chatLabel(orig.info),
		orig.info.Timestamp.Local().Format(timeLayout),
		revoke.Info.Timestamp.Local().Format(timeLayout),
	)
	if _, err := sock.SendMessage(ctx, own, whatsapp.Text(alert),
		whatsapp.Quote(resent, orig.message), whatsapp.Mention(orig.info.Sender.ToNonAD()), whatsapp.Plain()); err != nil {
		logger.WithError(err).Warn("Failed to send deletion alert")
	}

	h.events.Emit(ctx, webhook.EventMessageDeleted, map[string]interface{}{
		"message_id": id,
		"chat":       orig.info.Chat.String(),
		"from":       orig.info.Sender.String(),
		"deleted_by": revoke.Info.Sender.String(),
		"timestamp":  orig.info.Timestamp.Unix(),
	})
	logger.Info("Recovered deleted message")
}

func cacheKey(chat types.JID, id types.MessageID) string {
	return chat.ToNonAD().String() + "/" + id
}

func chatLabel(info types.MessageInfo) string {
	if info.IsGroup {
		return "group " + info.Chat.User
	}
	if info.PushName != "" {
		return "private (" + info.PushName + ")"
	}
	return "private"
}

func hasContent(m *waE2E.Message) bool {
	return m.Conversation != nil ||
		m.ExtendedTextMessage != nil ||
		m.ImageMessage != nil ||
		m.VideoMessage != nil ||
		m.AudioMessage != nil ||
		m.DocumentMessage != nil ||
		m.DocumentWithCaptionMessage != nil ||
		m.StickerMessage != nil ||
		m.ContactMessage != nil ||
		m.LocationMessage != nil
}
