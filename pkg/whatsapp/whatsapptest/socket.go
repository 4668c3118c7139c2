// Package whatsapptest provides an in-memory whatsapp.Socket for tests.
package whatsapptest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

type Sent struct {
	Chat    types.JID
	ID      types.MessageID
	Message *waE2E.Message
}

type Reaction struct {
	Chat   types.JID
	Sender types.JID
	ID     types.MessageID
	Emoji  string
}

type ParticipantUpdate struct {
	Group  types.JID
	Users  []types.JID
	Action whatsapp.ParticipantAction
}

// Socket records every outbound call. Zero value is ready to use; the exported
// fields may be set before the socket is shared.
type Socket struct {
	Identity  whatsapp.Identity
	Groups    map[types.JID]*types.GroupInfo
	Media     []byte
	SendErr   error
	GroupErr  error
	Defaults  *waE2E.ContextInfo
	OnSend    func(Sent)
	FollowErr error

	mu           sync.Mutex
	seq          int
	sent         []Sent
	reactions    []Reaction
	reads        []types.MessageID
	typing       []bool
	groupCalls   int
	followed     []types.JID
	participants []ParticipantUpdate
	uploads      [][]byte
}

var _ whatsapp.Socket = (*Socket)(nil)

func (s *Socket) Self() whatsapp.Identity {
	return s.Identity
}

func (s *Socket) SendMessage(ctx context.Context, chat types.JID, msg *waE2E.Message, opts ...whatsapp.SendOption) (whatsapp.Receipt, error) {
	if s.SendErr != nil {
		return whatsapp.Receipt{}, &whatsapp.SendError{Chat: chat, Err: s.SendErr}
	}
	s.mu.Lock()
	s.seq++
	out := Sent{
		Chat:    chat,
		ID:      types.MessageID(fmt.Sprintf("OUT%04d", s.seq)),
		Message: whatsapp.Render(msg, s.Defaults, opts...),
	}
	s.sent = append(s.sent, out)
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return whatsapp.Receipt{ID: out.ID, Timestamp: time.Now()}, nil
}

func (s *Socket) React(ctx context.Context, chat types.JID, sender types.JID, id types.MessageID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = append(s.reactions, Reaction{Chat: chat, Sender: sender, ID: id, Emoji: emoji})
	return nil
}

func (s *Socket) MarkRead(ctx context.Context, chat types.JID, sender types.JID, ids ...types.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, ids...)
	return nil
}

func (s *Socket) SetTyping(ctx context.Context, chat types.JID, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typing)
	return nil
}

func (s *Socket) GroupMetadata(ctx context.Context, group types.JID) (*types.GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupCalls++
	if s.GroupErr != nil {
		return nil, s.GroupErr
	}
	info, ok := s.Groups[group]
	if !ok {
		return nil, fmt.Errorf("group %s not found", group)
	}
	return info, nil
}

func (s *Socket) Download(ctx context.Context, media whatsmeow.DownloadableMessage) ([]byte, error) {
	if s.Media == nil {
		return nil, fmt.Errorf("no media")
	}
	return s.Media, nil
}

func (s *Socket) Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, data)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/test",
		DirectPath: "/test",
		FileLength: uint64(len(data)),
	}, nil
}

func (s *Socket) FollowNewsletter(ctx context.Context, jid types.JID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FollowErr != nil {
		return s.FollowErr
	}
	s.followed = append(s.followed, jid)
	return nil
}

func (s *Socket) UpdateParticipants(ctx context.Context, group types.JID, users []types.JID, action whatsapp.ParticipantAction) ([]types.GroupParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, ParticipantUpdate{Group: group, Users: users, Action: action})
	out := make([]types.GroupParticipant, 0, len(users))
	for _, u := range users {
		out = append(out, types.GroupParticipant{JID: u})
	}
	return out, nil
}

func (s *Socket) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Texts returns the text body of every sent message, in order.
func (s *Socket) Texts() []string {
	var out []string
	for _, m := range s.Sent() {
		if t := m.Message.GetConversation(); t != "" {
			out = append(out, t)
			continue
		}
		if t := m.Message.GetExtendedTextMessage().GetText(); t != "" {
			out = append(out, t)
			continue
		}
		out = append(out, m.Message.GetImageMessage().GetCaption()+m.Message.GetVideoMessage().GetCaption())
	}
	return out
}

func (s *Socket) Reactions() []Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reaction(nil), s.reactions...)
}

func (s *Socket) Reads() []types.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.MessageID(nil), s.reads...)
}

func (s *Socket) Typing() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.typing...)
}

func (s *Socket) GroupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupCalls
}

func (s *Socket) Followed() []types.JID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.JID(nil), s.followed...)
}

func (s *Socket) Participants() []ParticipantUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ParticipantUpdate(nil), s.participants...)
}

func (s *Socket) Uploads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.uploads...)
}
