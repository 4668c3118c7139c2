// Package plugin binds command manifests to handlers compiled into the binary.
package plugin

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

type Requirements struct {
	Group    bool `json:"group"`
	Admin    bool `json:"admin"`
	BotAdmin bool `json:"bot_admin"`
	Owner    bool `json:"owner"`
}

// NeedsGroupMetadata is true when checking the requirements needs the group's admin list.
func (r Requirements) NeedsGroupMetadata() bool {
	return r.Admin || r.BotAdmin
}

// Descriptor is one registered command. It is never mutated after LoadAll.
type Descriptor struct {
	Name         string         `json:"name"`
	Names        []string       `json:"names"`
	Pattern      *regexp.Regexp `json:"-"`
	Description  string         `json:"description"`
	Category     string         `json:"category"`
	Requirements Requirements   `json:"requirements"`
	Source       string         `json:"source"`
	Handler      Handler        `json:"-"`
}

// Handler runs one command. Implementations must return promptly once ctx is
// done: Run stops waiting at the deadline but cannot stop the handler itself.
type Handler interface {
	Execute(ctx context.Context, c *Context) error
}

type HandlerFunc func(ctx context.Context, c *Context) error

func (f HandlerFunc) Execute(ctx context.Context, c *Context) error {
	return f(ctx, c)
}

type Permissions struct {
	IsOwner    bool
	IsAdmin    bool
	IsBotAdmin bool
}

// ReplyAwaiter lets a handler prompt the sender and wait for a message quoting the prompt.
type ReplyAwaiter interface {
	Await(ctx context.Context, promptID types.MessageID, chat types.JID, sender types.JID, ttl time.Duration) (*events.Message, error)
}

// Context is built fresh for every command invocation.
type Context struct {
	ID          string
	Chat        types.JID
	Sender      types.JID
	IsGroup     bool
	Prefix      string
	Command     string
	Args        []string
	Text        string
	Permissions Permissions
	Socket      whatsapp.Socket
	Message     *events.Message
	Replies     ReplyAwaiter
	ReplyTTL    time.Duration
}

// Query is the argument list joined back into one string.
func (c *Context) Query() string {
	return strings.Join(c.Args, " ")
}

// Reply sends text to the originating chat, quoting the command message.
func (c *Context) Reply(ctx context.Context, text string) (whatsapp.Receipt, error) {
	return c.Send(ctx, whatsapp.Text(text))
}

func (c *Context) Send(ctx context.Context, msg *waE2E.Message, opts ...whatsapp.SendOption) (whatsapp.Receipt, error) {
	if c.Message != nil {
		opts = append([]whatsapp.SendOption{whatsapp.Quote(c.Message.Info, c.Message.Message)}, opts...)
	}
	return c.Socket.SendMessage(ctx, c.Chat, msg, opts...)
}

// Prompt sends text and blocks until the sender replies to it or the reply window closes.
func (c *Context) Prompt(ctx context.Context, text string) (*events.Message, error) {
	if c.Replies == nil {
		return nil, ErrNoReplies
	}
	receipt, err := c.Reply(ctx, text)
	if err != nil {
		return nil, err
	}
	return c.Replies.Await(ctx, receipt.ID, c.Chat, c.Sender, c.ReplyTTL)
}
