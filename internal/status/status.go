// Package status reacts to contacts' status updates: view, react, reply and save.
package status

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/retention"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const (
	DefaultEmoji = "💚"
	seenCapacity = 500
)

type Config struct {
	AutoView     bool
	AutoReact    bool
	ReactEmoji   string
	AutoReply    bool
	ReplyMessage string
	AutoSave     bool
}

func (c Config) active() bool {
	return c.AutoView || c.AutoReact || c.AutoReply || c.AutoSave
}

type Handler struct {
	cfg  Config
	seen *retention.Cache[types.MessageID, struct{}]
}

// New falls back to DefaultEmoji when the configured reaction is not a single emoji.
func New(cfg Config) *Handler {
	if cfg.AutoReact {
		if err := whatsapp.ValidateReaction(cfg.ReactEmoji); err != nil {
			log.Component("status").WithError(err).WithField("emoji", cfg.ReactEmoji).Warn("Invalid status reaction, using default")
			cfg.ReactEmoji = DefaultEmoji
		}
	}
	return &Handler{
		cfg:  cfg,
		seen: retention.New[types.MessageID, struct{}](seenCapacity, 0),
	}
}

func (h *Handler) Name() string {
	return "status"
}

func (h *Handler) Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
	if !h.cfg.active() {
		return
	}
	for _, evt := range batch {
		msg, ok := evt.(*events.Message)
		if !ok || msg.Info.Chat != types.StatusBroadcastJID || msg.Info.IsFromMe || msg.Message == nil {
			continue
		}
		if msg.Message.GetProtocolMessage() != nil || msg.Message.GetReactionMessage() != nil {
			continue
		}
		if !h.seen.Add(msg.Info.ID, struct{}{}) {
			continue
		}
		h.process(ctx, sock, msg)
	}
}

func (h *Handler) process(ctx context.Context, sock whatsapp.Socket, msg *events.Message) {
	info := msg.Info
	logger := log.Component("status").WithFields(logrus.Fields{
		"id":     info.ID,
		"poster": whatsapp.MaskJID(info.Sender),
	})

	if h.cfg.AutoView {
		if err := sock.MarkRead(ctx, info.Chat, info.Sender, info.ID); err != nil {
			logger.WithError(err).Warn("Failed to view status")
		}
	}
	if h.cfg.AutoReact {
		if err := sock.React(ctx, info.Chat, info.Sender, info.ID, h.cfg.ReactEmoji); err != nil {
			logger.WithError(err).Warn("Failed to react to status")
		}
	}
	if h.cfg.AutoReply && h.cfg.ReplyMessage != "" {
		if _, err := sock.SendMessage(ctx, info.Sender.ToNonAD(), whatsapp.Text(h.cfg.ReplyMessage),
			whatsapp.Quote(info, msg.Message)); err != nil {
			logger.WithError(err).Warn("Failed to reply to status")
		}
	}
	if h.cfg.AutoSave {
		self := sock.Self().JID
		if !self.IsEmpty() {
			if _, err := sock.SendMessage(ctx, self.ToNonAD(), msg.Message, whatsapp.Plain()); err != nil {
				logger.WithError(err).Warn("Failed to save status")
			}
		}
	}
	logger.Debug("Status handled")
}
