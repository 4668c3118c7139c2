package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

var ErrReplyExpired = errors.New("no reply before the prompt expired")

const defaultReplyTTL = time.Minute

type waiter struct {
	chat     types.JID
	sender   types.JID
	deadline time.Time
	ch       chan *events.Message
}

// Correlator pairs prompts sent by handlers with the replies that quote them.
// Waiters are keyed by the prompt's message id and always carry a deadline.
type Correlator struct {
	mu      sync.Mutex
	waiters map[types.MessageID]*waiter
	now     func() time.Time
}

func NewCorrelator() *Correlator {
	return &Correlator{
		waiters: make(map[types.MessageID]*waiter),
		now:     time.Now,
	}
}

// Await blocks until a message quoting promptID arrives from sender in chat, the waiter
// is swept after ttl, or ctx ends. The waiter is removed in every case.
func (c *Correlator) Await(ctx context.Context, promptID types.MessageID, chat types.JID, sender types.JID, ttl time.Duration) (*events.Message, error) {
	if ttl <= 0 {
		ttl = defaultReplyTTL
	}
	w := &waiter{
		chat:     chat.ToNonAD(),
		sender:   sender.ToNonAD(),
		deadline: c.now().Add(ttl),
		ch:       make(chan *events.Message, 1),
	}

	c.mu.Lock()
	if prev, ok := c.waiters[promptID]; ok {
		close(prev.ch)
	}
	c.waiters[promptID] = w
	c.mu.Unlock()

	defer c.remove(promptID, w)

	select {
	case msg, ok := <-w.ch:
		if !ok {
			return nil, ErrReplyExpired
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Offer hands msg to the waiter whose prompt it quotes. It reports whether msg was consumed.
func (c *Correlator) Offer(msg *events.Message) bool {
	quoted := whatsapp.QuotedContext(msg.Message)
	if quoted == nil {
		return false
	}
	id := types.MessageID(quoted.GetStanzaID())

	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.waiters[id]
	if !ok {
		return false
	}
	if w.chat != msg.Info.Chat.ToNonAD() || w.sender.User != msg.Info.Sender.User {
		return false
	}
	delete(c.waiters, id)
	w.ch <- msg
	return true
}

// Sweep expires every waiter past its deadline and returns how many were dropped.
func (c *Correlator) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := 0
	for id, w := range c.waiters {
		if now.After(w.deadline) {
			delete(c.waiters, id)
			close(w.ch)
			expired++
		}
	}
	return expired
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Correlator) remove(id types.MessageID, w *waiter) {
	c.mu.Lock()
	if cur, ok := c.waiters[id]; ok && cur == w {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
}
