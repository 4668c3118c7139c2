package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/antidelete"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/commands"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/config"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/connection"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/dispatch"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/newsletter"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/permission"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/session"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/status"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const (
	versionRefreshTimeout = 20 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// App is everything one bot process owns. It replaces package-level singletons.
type App struct {
	Config     *config.Config
	Datastore  *whatsapp.Datastore
	Registry   *plugin.Registry
	Dispatcher *dispatch.Dispatcher
	AntiDelete *antidelete.Handler
	Status     *status.Handler
	Newsletter *newsletter.Follower
	Webhooks   *webhook.Engine
	Manager    *connection.Manager
	QR         *whatsapp.PairingQR
	Auth       *auth.Guard
	Version    *whatsapp.VersionRefresher
	Started    time.Time
}

// Startup restores the session, opens the credential store, loads plugins and
// assembles the connection manager. Nothing is dialed until Run.
func Startup(ctx context.Context, cfg *config.Config) (*App, error) {
	log.SetDebug(cfg.Debug)
	log.Print(nil).Info("Running Startup Tasks")

	a := &App{
		Config:  cfg,
		QR:      &whatsapp.PairingQR{},
		Auth:    auth.New(cfg.Server.AuthSecret),
		Version: whatsapp.NewVersionRefresher(),
		Started: time.Now(),
	}

	var onCorrupt func() error
	if cfg.IsSQLite() {
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
		a.restoreSession()
		onCorrupt = func() error {
			return session.Remove(cfg.CredentialPath())
		}
	} else if cfg.SessionID != "" {
		log.Component("session").WithField("datastore", cfg.Datastore.Type).Warn("SESSION_ID is only used with the sqlite3 datastore, ignoring it")
	}

	ds, err := whatsapp.OpenDatastore(ctx, cfg.Datastore.Type, cfg.Datastore.URI, onCorrupt)
	if err != nil {
		return nil, err
	}
	a.Datastore = ds

	a.Webhooks = webhook.NewEngine(webhook.Options{
		URLs:         cfg.Webhook.URLs,
		Secret:       cfg.Webhook.Secret,
		Bot:          cfg.BotName,
		Workers:      cfg.Webhook.Workers,
		RetryLimit:   cfg.Webhook.RetryLimit,
		AllowPrivate: cfg.Webhook.AllowPrivate,
	})

	a.Registry = plugin.NewRegistry(cfg.CommandTimeout)
	perms := permission.NewEvaluator(permission.Mode(cfg.Mode), cfg.OwnerNumbers, cfg.AllowedUsers)
	a.Dispatcher = dispatch.New(dispatch.Config{
		Prefix:           cfg.Prefix,
		BotName:          cfg.BotName,
		AutoRead:         cfg.AutoRead,
		AutoTyping:       cfg.AutoTyping,
		AutoReply:        cfg.AutoReply,
		AutoReplyMessage: cfg.AutoReplyMessage,
		AutoReplyWindow:  cfg.AutoReplyWindow,
		ReplyTTL:         cfg.ReplyTimeout,
		TypingResetDelay: cfg.TypingResetDelay,
	}, a.Registry, perms, nil, a.Webhooks)

	if _, err := a.Registry.LoadAll(cfg.PluginDir, commands.Catalog(commands.Deps{})); err != nil {
		a.close()
		return nil, err
	}

	a.AntiDelete = antidelete.New(antidelete.Config{
		Global:    cfg.AntiDelete.Global,
		Group:     cfg.AntiDelete.Group,
		Private:   cfg.AntiDelete.Private,
		CacheSize: cfg.AntiDelete.CacheSize,
		MaxAge:    cfg.AntiDelete.MaxAge,
	}, a.Webhooks)
	a.Status = status.New(status.Config{
		AutoView:     cfg.Status.AutoView,
		AutoReact:    cfg.Status.AutoReact,
		ReactEmoji:   cfg.Status.ReactEmoji,
		AutoReply:    cfg.Status.AutoReply,
		ReplyMessage: cfg.Status.ReplyMessage,
		AutoSave:     cfg.Status.AutoSave,
	})
	a.Newsletter = newsletter.New(cfg.Newsletter.JIDs, cfg.Newsletter.FollowDelay)

	sink := "postgres"
	if cfg.IsSQLite() {
		sink = cfg.CredentialPath()
	}
	dialer := &connection.WhatsMeowDialer{
		Datastore:     ds,
		ProxyURL:      cfg.Datastore.ProxyURL,
		PairingNumber: cfg.PairingNumber,
		Client: whatsapp.ClientOptions{
			Forward: whatsapp.ForwardContext{
				NewsletterJID:  cfg.Forward.NewsletterJID,
				NewsletterName: cfg.Forward.NewsletterName,
			},
		},
		QR:    a.QR,
		QROut: os.Stdout,
	}
	a.Manager = connection.New(dialer, connection.Options{
		BaseDelay:        cfg.Reconnect.BaseDelay,
		MaxDelay:         cfg.Reconnect.MaxDelay,
		AlertAfter:       cfg.Reconnect.AlertAfter,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CredentialSink:   sink,
		Events:           a.Webhooks,
		BeforeDial:       a.refreshVersion,
		OnOpen:           a.notifyOwners,
	}, a.Dispatcher, a.AntiDelete, a.Status, a.Newsletter)

	log.Print(nil).WithField("plugins", a.Registry.Len()).WithField("mode", cfg.Mode).Info("Startup complete")
	return a, nil
}

// Run keeps the connection alive until ctx ends or the session is logged out,
// then drains running commands and queued webhooks.
func (a *App) Run(ctx context.Context) error {
	err := a.Manager.Run(ctx)

	done := make(chan struct{})
	go func() {
		a.Dispatcher.Wait()
		close(done)
	}()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Print(nil).Warn("Commands still running at shutdown")
	}

	a.Webhooks.Shutdown(shutdownCtx)
	a.close()

	if errors.Is(err, connection.ErrLoggedOut) && a.Config.IsSQLite() {
		// the stored credentials are dead, the next start pairs again
		if rerr := session.Remove(a.Config.CredentialPath()); rerr != nil {
			log.Component("session").WithError(rerr).Warn("Failed to remove logged out credentials")
		}
	}
	return err
}

func (a *App) close() {
	if a.Datastore == nil {
		return
	}
	if err := a.Datastore.Close(); err != nil {
		log.Component("datastore").WithError(err).Warn("Failed to close datastore")
	}
}

// restoreSession writes SESSION_ID into the credential file when no paired file exists yet.
// A bad token is logged and the bot falls back to pairing.
func (a *App) restoreSession() {
	cfg := a.Config
	if cfg.SessionID == "" {
		return
	}
	logger := log.Component("session")
	if info, err := os.Stat(cfg.CredentialPath()); err == nil && info.Size() > 0 {
		logger.WithField("path", cfg.CredentialPath()).Info("Credential file already present, SESSION_ID not applied")
		return
	}
	if err := session.NewLoader(cfg.CredentialPath()).Load(cfg.SessionID); err != nil {
		logger.WithError(err).Warn("SESSION_ID could not be loaded, falling back to pairing")
	}
}

func (a *App) refreshVersion(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, versionRefreshTimeout)
	defer cancel()
	_, refreshed, err := a.Version.Refresh(ctx, false)
	if err != nil {
		return fmt.Errorf("refresh WA Web version: %w", err)
	}
	if refreshed {
		log.Component("connection").WithField("version", a.Version.Status().CurrentVersion.String()).Debug("WA Web version refreshed")
	}
	return nil
}

// notifyOwners tells every owner, or the bot's own chat when none is configured, that the bot is up.
func (a *App) notifyOwners(ctx context.Context, sock whatsapp.Socket) {
	cfg := a.Config
	text := fmt.Sprintf("✅ *%s* is connected\n📌 Prefix: %s\n🔌 Plugins: %d\n🔒 Mode: %s",
		cfg.BotName, cfg.Prefix, a.Registry.Len(), strings.ToUpper(cfg.Mode))

	var targets []types.JID
	for _, owner := range cfg.OwnerNumbers {
		jid, err := whatsapp.UserJID(owner)
		if err != nil {
			log.Component("connection").WithField("owner", owner).Warn("Ignoring invalid OWNER_NUMBER entry")
			continue
		}
		targets = append(targets, jid)
	}
	if len(targets) == 0 {
		if self := sock.Self().JID; !self.IsEmpty() {
			targets = append(targets, self.ToNonAD())
		}
	}

	for _, jid := range targets {
		if _, err := sock.SendMessage(ctx, jid, whatsapp.Text(text), whatsapp.Plain()); err != nil {
			log.Component("connection").WithError(err).WithField("to", whatsapp.MaskJID(jid)).Warn("Failed to send connected notice")
		}
	}
}
