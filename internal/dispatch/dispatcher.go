// Package dispatch turns incoming chat messages into command invocations.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/permission"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/retention"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const (
	DenyGroupOnly   = "❌ This command can only be used in groups."
	DenyOwnerOnly   = "❌ This command is for the bot owner only."
	DenyAdminOnly   = "❌ This command is for group admins only."
	DenyBotNotAdmin = "❌ I need to be a group admin to do that."
	GroupInfoFailed = "⚠️ Could not load group info, please try again."
	CommandFailed   = "⚠️ Something went wrong while running that command. Please try again later."
)

const autoReplyCapacity = 4096

type Config struct {
	Prefix           string
	BotName          string
	AutoRead         bool
	AutoTyping       bool
	AutoReply        bool
	AutoReplyMessage string
	AutoReplyWindow  time.Duration
	ReplyTTL         time.Duration
	TypingResetDelay time.Duration
}

// Dispatcher runs the per-message pipeline on the pump and hands resolved commands to a
// single executor, so commands run strictly in arrival order while replies to a pending
// prompt are still consumed by the pump.
type Dispatcher struct {
	cfg         Config
	registry    *plugin.Registry
	perms       *permission.Evaluator
	replies     *Correlator
	events      webhook.Emitter
	builtins    map[string]*plugin.Descriptor
	builtinList []*plugin.Descriptor
	autoReplied *retention.Cache[string, struct{}]
	started     time.Time
	now         func() time.Time
	afterFunc   func(d time.Duration, f func())
	exec        executor
}

// New reserves the built-in command names on registry, so it must run before LoadAll.
func New(cfg Config, registry *plugin.Registry, perms *permission.Evaluator, replies *Correlator, emitter webhook.Emitter) *Dispatcher {
	if emitter == nil {
		emitter = webhook.Nop
	}
	if replies == nil {
		replies = NewCorrelator()
	}
	window := cfg.AutoReplyWindow
	if window <= 0 {
		window = time.Hour
	}
	d := &Dispatcher{
		cfg:         cfg,
		registry:    registry,
		perms:       perms,
		replies:     replies,
		events:      emitter,
		builtins:    make(map[string]*plugin.Descriptor),
		autoReplied: retention.New[string, struct{}](autoReplyCapacity, window),
		started:     time.Now(),
		now:         time.Now,
		afterFunc: func(delay time.Duration, f func()) {
			time.AfterFunc(delay, f)
		},
	}
	d.builtinList = d.builtinDescriptors()
	for _, desc := range d.builtinList {
		for _, name := range desc.Names {
			d.builtins[name] = desc
			registry.Reserve(name)
		}
	}
	return d
}

func (d *Dispatcher) Name() string {
	return "dispatch"
}

func (d *Dispatcher) Replies() *Correlator {
	return d.replies
}

// Sweep drops expired reply waiters.
func (d *Dispatcher) Sweep() int {
	return d.replies.Sweep()
}

// Wait blocks until every command submitted so far has returned.
func (d *Dispatcher) Wait() {
	d.exec.wait()
}

// Queued counts commands waiting behind the one currently running.
func (d *Dispatcher) Queued() int {
	return d.exec.pending()
}

// Handle processes each message of one upsert batch in order.
func (d *Dispatcher) Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
	for _, evt := range batch {
		msg, ok := evt.(*events.Message)
		if !ok || msg == nil {
			continue
		}
		d.handleSafe(ctx, sock, msg)
	}
}

func (d *Dispatcher) handleSafe(ctx context.Context, sock whatsapp.Socket, msg *events.Message) {
	defer func() {
		if p := recover(); p != nil {
			log.Component("dispatch").WithFields(logrus.Fields{
				"id":    msg.Info.ID,
				"panic": p,
			}).Error("Message handling panicked")
			log.Component("dispatch").Debug(string(debug.Stack()))
		}
	}()
	d.HandleMessage(ctx, sock, msg)
}

// HandleMessage runs the pipeline for one message.
func (d *Dispatcher) HandleMessage(ctx context.Context, sock whatsapp.Socket, msg *events.Message) {
	info := msg.Info
	logger := log.Component("dispatch").WithFields(logrus.Fields{
		"id":   info.ID,
		"chat": whatsapp.MaskJID(info.Chat),
	})

	if info.Chat == types.StatusBroadcastJID || info.Chat.Server == types.NewsletterServer {
		return
	}

	if d.cfg.AutoRead {
		if err := sock.MarkRead(ctx, info.Chat, info.Sender, info.ID); err != nil {
			logger.WithError(err).Debug("Auto-read failed")
		}
	}
	if info.IsFromMe {
		return
	}

	if d.cfg.AutoTyping {
		if err := sock.SetTyping(ctx, info.Chat, true); err != nil {
			logger.WithError(err).Debug("Typing indicator failed")
		} else {
			chat := info.Chat
			d.afterFunc(d.cfg.TypingResetDelay, func() {
				resetCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = sock.SetTyping(resetCtx, chat, false)
			})
		}
	}

	text := ExtractText(msg.Message)

	if d.replies.Offer(msg) {
		logger.Debug("Message consumed as prompt reply")
		return
	}

	cmd, ok := ParseCommand(text, d.cfg.Prefix)
	if !ok {
		d.autoReply(ctx, sock, msg, logger)
		return
	}

	self := sock.Self()
	identity := permission.Identity{Number: self.JID.User, LID: self.LID.User}
	decision := d.perms.Classify(info.Sender.String(), info.Chat.String(), identity)
	if !decision.IsAllowed {
		logger.WithField("command", cmd.Name).Debug("Command ignored by mode gate")
		return
	}

	desc, ok := d.builtins[cmd.Name]
	if !ok {
		desc, ok = d.registry.Resolve(cmd.Name)
	}
	if !ok {
		logger.WithField("command", cmd.Name).Debug("Unknown command")
		return
	}

	pc := &plugin.Context{
		ID:       uuid.NewString(),
		Chat:     info.Chat,
		Sender:   info.Sender,
		IsGroup:  info.IsGroup,
		Prefix:   d.cfg.Prefix,
		Command:  cmd.Name,
		Args:     cmd.Args,
		Text:     text,
		Socket:   sock,
		Message:  msg,
		Replies:  d.replies,
		ReplyTTL: d.cfg.ReplyTTL,
		Permissions: plugin.Permissions{
			IsOwner: decision.IsOwner,
		},
	}

	d.exec.submit(func() {
		if ctx.Err() != nil {
			logger.WithField("command", cmd.Name).Debug("Command dropped on disconnect")
			return
		}
		if denial := d.checkRequirements(ctx, sock, desc.Requirements, pc, self); denial != "" {
			if _, err := pc.Reply(ctx, denial); err != nil {
				logger.WithError(err).Warn("Failed to send denial")
			}
			return
		}
		d.execute(ctx, desc, pc)
	})
}

func (d *Dispatcher) checkRequirements(ctx context.Context, sock whatsapp.Socket, req plugin.Requirements, pc *plugin.Context, self whatsapp.Identity) string {
	if (req.Group || req.NeedsGroupMetadata()) && !pc.IsGroup {
		return DenyGroupOnly
	}
	if req.Owner && !pc.Permissions.IsOwner {
		return DenyOwnerOnly
	}
	if !pc.IsGroup {
		return ""
	}

	if req.NeedsGroupMetadata() {
		info, err := sock.GroupMetadata(ctx, pc.Chat)
		if err != nil {
			log.Command(pc.ID, pc.Command, pc.Chat.String(), pc.Sender.String()).WithError(err).Warn("Group metadata unavailable")
			return GroupInfoFailed
		}
		pc.Permissions.IsAdmin = whatsapp.IsGroupAdmin(info, pc.Sender)
		pc.Permissions.IsBotAdmin = whatsapp.IsGroupAdmin(info, self.JID, self.LID)
	}
	if req.Admin && !pc.Permissions.IsAdmin {
		return DenyAdminOnly
	}
	if req.BotAdmin && !pc.Permissions.IsBotAdmin {
		return DenyBotNotAdmin
	}
	return ""
}

func (d *Dispatcher) execute(ctx context.Context, desc *plugin.Descriptor, pc *plugin.Context) {
	entry := log.Command(pc.ID, desc.Name, pc.Chat.String(), pc.Sender.String())
	start := d.now()

	err := d.registry.Run(ctx, desc, pc)
	if err == nil {
		entry.WithField("took", d.now().Sub(start).String()).Info("Command completed")
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		entry.Debug("Command abandoned on disconnect")
		return
	}

	entry.WithError(err).Error("Command failed")
	d.events.Emit(ctx, webhook.EventCommandFailed, map[string]interface{}{
		"invocation": pc.ID,
		"command":    desc.Name,
		"source":     desc.Source,
		"chat":       pc.Chat.String(),
		"error":      err.Error(),
	})

	noticeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, sendErr := pc.Reply(noticeCtx, CommandFailed); sendErr != nil {
		entry.WithError(sendErr).Warn("Failed to send failure notice")
	}
}

func (d *Dispatcher) autoReply(ctx context.Context, sock whatsapp.Socket, msg *events.Message, logger *logrus.Entry) {
	if !d.cfg.AutoReply || d.cfg.AutoReplyMessage == "" || msg.Info.IsGroup {
		return
	}
	if !d.autoReplied.Add(msg.Info.Sender.User, struct{}{}) {
		return
	}
	if _, err := sock.SendMessage(ctx, msg.Info.Chat, whatsapp.Text(d.cfg.AutoReplyMessage)); err != nil {
		d.autoReplied.Delete(msg.Info.Sender.User)
		logger.WithError(err).Warn("Auto-reply failed")
	}
}
