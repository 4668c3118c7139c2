// Package config holds the bot configuration, read once from the environment at startup.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/validation"
)

const (
	ModePublic  = "public"
	ModePrivate = "private"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type AntiDelete struct {
	Global    bool          `env:"GLOBAL"`
	Group     bool          `env:"GROUP"`
	Private   bool          `env:"PRIVATE" envDefault:"true"`
	CacheSize int           `env:"CACHE_SIZE" envDefault:"1000"`
	MaxAge    time.Duration `env:"MAX_AGE" envDefault:"6h"`
}

type Status struct {
	AutoView     bool   `env:"AUTO_VIEW" envDefault:"true"`
	AutoReact    bool   `env:"AUTO_REACT"`
	ReactEmoji   string `env:"REACT_EMOJI" envDefault:"💚"`
	AutoReply    bool   `env:"AUTO_REPLY"`
	ReplyMessage string `env:"REPLY_MESSAGE" envDefault:"Seen your status 👀"`
	AutoSave     bool   `env:"AUTO_SAVE"`
}

type Newsletter struct {
	JIDs        []string      `env:"JIDS" envSeparator:","`
	FollowDelay time.Duration `env:"FOLLOW_DELAY" envDefault:"5s"`
}

type Forward struct {
	NewsletterJID  string `env:"NEWSLETTER_JID"`
	NewsletterName string `env:"NEWSLETTER_NAME"`
}

type Datastore struct {
	Type     string `env:"WHATSAPP_DATASTORE_TYPE" envDefault:"sqlite3"`
	URI      string `env:"WHATSAPP_DATASTORE_URI"`
	ProxyURL string `env:"WHATSAPP_CLIENT_PROXY_URL"`
}

type Reconnect struct {
	BaseDelay  time.Duration `env:"BASE_DELAY" envDefault:"2s"`
	MaxDelay   time.Duration `env:"MAX_DELAY" envDefault:"60s"`
	AlertAfter int           `env:"ALERT_AFTER" envDefault:"5"`
}

type Server struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	Address      string        `env:"ADDRESS" envDefault:"0.0.0.0"`
	Port         string        `env:"PORT" envDefault:"7001"`
	AuthSecret   string        `env:"AUTH_SECRET"`
	AuthTokenTTL time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
}

type Webhook struct {
	URLs         []string `env:"URLS" envSeparator:","`
	Secret       string   `env:"SECRET"`
	Workers      int      `env:"WORKERS" envDefault:"2"`
	RetryLimit   int      `env:"RETRY_LIMIT" envDefault:"3"`
	AllowPrivate bool     `env:"ALLOW_PRIVATE"`
}

type Routines struct {
	WAVersionRefresh     bool   `env:"WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON"`
	WAVersionRefreshSpec string `env:"WHATSAPP_WAVERSION_REFRESH_CRON_SPEC" envDefault:"0 0 3 * * *"`
}

type Config struct {
	SessionID     string   `env:"SESSION_ID"`
	SessionDir    string   `env:"SESSION_DIR" envDefault:"session"`
	PairingNumber string   `env:"PAIRING_NUMBER"`
	Prefix        string   `env:"PREFIX" envDefault:"."`
	BotName       string   `env:"BOT_NAME" envDefault:"Silva MD"`
	OwnerNumbers  []string `env:"OWNER_NUMBER" envSeparator:","`
	Mode          string   `env:"MODE" envDefault:"public"`
	AllowedUsers  []string `env:"ALLOWED_USERS" envSeparator:","`
	PluginDir     string   `env:"PLUGIN_DIR" envDefault:"plugins"`
	Debug         bool     `env:"DEBUG"`

	AutoRead         bool          `env:"AUTO_READ"`
	AutoTyping       bool          `env:"AUTO_TYPING"`
	AutoReply        bool          `env:"AUTO_REPLY"`
	AutoReplyMessage string        `env:"AUTO_REPLY_MESSAGE" envDefault:"Hi! I'm a bot. The owner will get back to you soon."`
	AutoReplyWindow  time.Duration `env:"AUTO_REPLY_WINDOW" envDefault:"1h"`

	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"60s"`
	CommandTimeout   time.Duration `env:"COMMAND_TIMEOUT" envDefault:"2m"`
	ReplyTimeout     time.Duration `env:"REPLY_TIMEOUT" envDefault:"60s"`
	TypingResetDelay time.Duration `env:"TYPING_RESET_DELAY" envDefault:"1500ms"`

	AntiDelete AntiDelete `envPrefix:"ANTIDELETE_"`
	Status     Status     `envPrefix:"STATUS_"`
	Newsletter Newsletter `envPrefix:"NEWSLETTER_"`
	Forward    Forward    `envPrefix:"FORWARD_"`
	Reconnect  Reconnect  `envPrefix:"RECONNECT_"`
	Server     Server     `envPrefix:"SERVER_"`
	Webhook    Webhook    `envPrefix:"WEBHOOK_"`
	Datastore  Datastore
	Routines   Routines
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Datastore.Type = strings.ToLower(strings.TrimSpace(c.Datastore.Type))
	c.OwnerNumbers = compact(c.OwnerNumbers)
	c.AllowedUsers = compact(c.AllowedUsers)
	c.Newsletter.JIDs = compact(c.Newsletter.JIDs)
	c.Webhook.URLs = compact(c.Webhook.URLs)
	if c.Datastore.URI == "" && c.IsSQLite() {
		c.Datastore.URI = "file:" + c.CredentialPath() + "?_foreign_keys=on"
	}
}

func (c *Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("%w: PREFIX must not be empty", ErrInvalidConfig)
	}
	if c.Mode != ModePublic && c.Mode != ModePrivate {
		return fmt.Errorf("%w: MODE must be %q or %q, got %q", ErrInvalidConfig, ModePublic, ModePrivate, c.Mode)
	}
	if c.PluginDir == "" {
		return fmt.Errorf("%w: PLUGIN_DIR must not be empty", ErrInvalidConfig)
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("%w: RECONNECT_MAX_DELAY must be >= RECONNECT_BASE_DELAY > 0", ErrInvalidConfig)
	}
	if c.AntiDelete.CacheSize <= 0 {
		return fmt.Errorf("%w: ANTIDELETE_CACHE_SIZE must be positive", ErrInvalidConfig)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("%w: COMMAND_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if err := validation.ValidatePhones(c.OwnerNumbers); err != nil {
		return fmt.Errorf("%w: OWNER_NUMBER %v", ErrInvalidConfig, err)
	}
	if c.PairingNumber != "" {
		if err := validation.ValidatePhone(c.PairingNumber); err != nil {
			return fmt.Errorf("%w: PAIRING_NUMBER %v", ErrInvalidConfig, err)
		}
	}
	if secret := strings.TrimSpace(c.Server.AuthSecret); secret != "" && len(secret) < auth.MinSecretLength {
		return fmt.Errorf("%w: SERVER_AUTH_SECRET must be at least %d characters", ErrInvalidConfig, auth.MinSecretLength)
	}
	for _, u := range c.Webhook.URLs {
		if err := validation.ValidateURL(u); err != nil {
			return fmt.Errorf("%w: WEBHOOK_URLS %s: %v", ErrInvalidConfig, u, err)
		}
	}
	return nil
}

// IsSQLite reports whether credentials live in a local SQLite file.
func (c *Config) IsSQLite() bool {
	return c.Datastore.Type == "sqlite3" || c.Datastore.Type == "sqlite"
}

// CredentialPath is the file the session loader writes and the datastore opens.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.SessionDir, "whatsapp.db")
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
