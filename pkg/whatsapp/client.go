package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/patrickmn/go-cache"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/sync/singleflight"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

type ParticipantAction = whatsmeow.ParticipantChange

const (
	ParticipantAdd     = whatsmeow.ParticipantChangeAdd
	ParticipantRemove  = whatsmeow.ParticipantChangeRemove
	ParticipantPromote = whatsmeow.ParticipantChangePromote
	ParticipantDemote  = whatsmeow.ParticipantChangeDemote
)

var ErrNoSession = errors.New("WhatsApp Client Store ID is Empty, Please Re-Login and Scan QR Code Again")

// Identity is the logged-in account. LID is empty until the server assigns one.
type Identity struct {
	JID types.JID
	LID types.JID
}

type Receipt struct {
	ID        types.MessageID
	Timestamp time.Time
}

// SendError wraps any failure to deliver an outbound message.
type SendError struct {
	Chat types.JID
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", MaskJID(e.Chat), e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Socket is everything the bot needs from a live WhatsApp connection.
type Socket interface {
	Self() Identity
	SendMessage(ctx context.Context, chat types.JID, msg *waE2E.Message, opts ...SendOption) (Receipt, error)
	React(ctx context.Context, chat types.JID, sender types.JID, id types.MessageID, emoji string) error
	MarkRead(ctx context.Context, chat types.JID, sender types.JID, ids ...types.MessageID) error
	SetTyping(ctx context.Context, chat types.JID, typing bool) error
	GroupMetadata(ctx context.Context, group types.JID) (*types.GroupInfo, error)
	Download(ctx context.Context, media whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	FollowNewsletter(ctx context.Context, jid types.JID) error
	UpdateParticipants(ctx context.Context, group types.JID, users []types.JID, action ParticipantAction) ([]types.GroupParticipant, error)
}

type ClientOptions struct {
	Forward        ForwardContext
	GroupCacheTTL  time.Duration
	RetryCacheSize int
}

// Client adapts a whatsmeow client to Socket.
type Client struct {
	wa       *whatsmeow.Client
	defaults *waE2E.ContextInfo

	groups      *cache.Cache
	groupFlight singleflight.Group
	sent        *expirable.LRU[types.MessageID, *waE2E.Message]
}

var _ Socket = (*Client)(nil)

func NewClient(wa *whatsmeow.Client, opts ClientOptions) *Client {
	if opts.GroupCacheTTL <= 0 {
		opts.GroupCacheTTL = 5 * time.Minute
	}
	if opts.RetryCacheSize <= 0 {
		opts.RetryCacheSize = 256
	}
	c := &Client{
		wa:       wa,
		defaults: opts.Forward.ContextInfo(),
		groups:   cache.New(opts.GroupCacheTTL, 2*opts.GroupCacheTTL),
		sent:     expirable.NewLRU[types.MessageID, *waE2E.Message](opts.RetryCacheSize, nil, 0),
	}
	wa.GetMessageForRetry = c.messageForRetry
	wa.AddEventHandler(c.handleEvent)
	return c
}

// WhatsMeow exposes the underlying client for pairing and connection control.
func (c *Client) WhatsMeow() *whatsmeow.Client {
	return c.wa
}

func (c *Client) Self() Identity {
	var id Identity
	if c.wa.Store == nil {
		return id
	}
	if c.wa.Store.ID != nil {
		id.JID = c.wa.Store.ID.ToNonAD()
	}
	id.LID = c.wa.Store.LID.ToNonAD()
	return id
}

func (c *Client) SendMessage(ctx context.Context, chat types.JID, msg *waE2E.Message, opts ...SendOption) (Receipt, error) {
	if msg == nil {
		return Receipt{}, &SendError{Chat: chat, Err: errors.New("message content cannot be nil")}
	}
	out := Render(msg, c.defaults, opts...)

	msgExtra := whatsmeow.SendRequestExtra{ID: c.wa.GenerateMessageID()}
	resp, err := c.wa.SendMessage(ctx, chat, out, msgExtra)
	if err != nil {
		log.Component("whatsapp").WithField("chat", MaskJID(chat)).WithError(err).Warn("Failed to send message")
		return Receipt{}, &SendError{Chat: chat, Err: err}
	}
	c.sent.Add(resp.ID, out)
	return Receipt{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *Client) React(ctx context.Context, chat types.JID, sender types.JID, id types.MessageID, emoji string) error {
	if err := ValidateReaction(emoji); err != nil {
		return err
	}
	msg := c.wa.BuildReaction(chat, sender, id, emoji)
	if _, err := c.wa.SendMessage(ctx, chat, msg); err != nil {
		return &SendError{Chat: chat, Err: err}
	}
	return nil
}

func (c *Client) MarkRead(ctx context.Context, chat types.JID, sender types.JID, ids ...types.MessageID) error {
	if len(ids) == 0 {
		return nil
	}
	return c.wa.MarkRead(ctx, ids, time.Now(), chat, sender)
}

func (c *Client) SetTyping(ctx context.Context, chat types.JID, typing bool) error {
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return c.wa.SendChatPresence(ctx, chat, state, types.ChatPresenceMediaText)
}

// GroupMetadata serves group info from a short-lived cache. Concurrent misses share one request.
func (c *Client) GroupMetadata(ctx context.Context, group types.JID) (*types.GroupInfo, error) {
	if group.Server != types.GroupServer {
		return nil, ErrInvalidGroupID
	}
	key := group.String()
	if v, ok := c.groups.Get(key); ok {
		return v.(*types.GroupInfo), nil
	}
	v, err, _ := c.groupFlight.Do(key, func() (interface{}, error) {
		info, err := c.wa.GetGroupInfo(ctx, group)
		if err != nil {
			return nil, err
		}
		c.groups.SetDefault(key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.GroupInfo), nil
}

func (c *Client) Download(ctx context.Context, media whatsmeow.DownloadableMessage) ([]byte, error) {
	return c.wa.Download(ctx, media)
}

func (c *Client) Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return c.wa.Upload(ctx, data, kind)
}

func (c *Client) FollowNewsletter(ctx context.Context, jid types.JID) error {
	return c.wa.FollowNewsletter(ctx, jid)
}

func (c *Client) UpdateParticipants(ctx context.Context, group types.JID, users []types.JID, action ParticipantAction) ([]types.GroupParticipant, error) {
	if group.Server != types.GroupServer {
		return nil, ErrInvalidGroupID
	}
	result, err := c.wa.UpdateGroupParticipants(ctx, group, users, action)
	if err == nil {
		c.groups.Delete(group.String())
	}
	return result, err
}

func (c *Client) messageForRetry(requester types.JID, to types.JID, id types.MessageID) *waE2E.Message {
	msg, _ := c.sent.Peek(id)
	return msg
}

func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.GroupInfo:
		c.groups.Delete(e.JID.String())
	case *events.JoinedGroup:
		c.groups.Delete(e.JID.String())
	}
}

// IsGroupAdmin reports whether user holds admin rights in info. The phone JID and the LID both count.
func IsGroupAdmin(info *types.GroupInfo, user ...types.JID) bool {
	if info == nil {
		return false
	}
	for _, p := range info.Participants {
		if !p.IsAdmin && !p.IsSuperAdmin {
			continue
		}
		for _, u := range user {
			if u.User == "" {
				continue
			}
			if p.JID.User == u.User || p.LID.User == u.User {
				return true
			}
		}
	}
	return false
}
