// Package newsletter follows the configured channels once per process after the bot connects.
package newsletter

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

type Follower struct {
	targets []types.JID
	limiter *rate.Limiter

	mu       sync.Mutex
	followed map[types.JID]bool
}

// New skips entries that are not newsletter JIDs. A zero delay disables throttling.
func New(jids []string, delay time.Duration) *Follower {
	logger := log.Component("newsletter")

	f := &Follower{followed: make(map[types.JID]bool)}
	seen := make(map[types.JID]bool)
	for _, raw := range jids {
		jid, err := types.ParseJID(raw)
		if err != nil || jid.Server != types.NewsletterServer {
			logger.WithField("jid", raw).Warn("Ignoring invalid newsletter JID")
			continue
		}
		if seen[jid] {
			continue
		}
		seen[jid] = true
		f.targets = append(f.targets, jid)
	}

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	f.limiter = rate.NewLimiter(limit, 1)
	return f
}

func (f *Follower) Name() string {
	return "newsletter"
}

func (f *Follower) Targets() []types.JID {
	return append([]types.JID(nil), f.targets...)
}

func (f *Follower) Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
	for _, evt := range batch {
		if _, ok := evt.(*events.Connected); ok {
			f.FollowAll(ctx, sock)
			return
		}
	}
}

// FollowAll follows every target not followed yet. Failures are retried on the next call.
func (f *Follower) FollowAll(ctx context.Context, sock whatsapp.Socket) {
	for _, jid := range f.pending() {
		if err := f.limiter.Wait(ctx); err != nil {
			return
		}
		logger := log.Component("newsletter").WithFields(logrus.Fields{"jid": jid.String()})
		if err := sock.FollowNewsletter(ctx, jid); err != nil {
			logger.WithError(err).Warn("Failed to follow newsletter")
			continue
		}
		f.mu.Lock()
		f.followed[jid] = true
		f.mu.Unlock()
		logger.Info("Followed newsletter")
	}
}

func (f *Follower) pending() []types.JID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.JID
	for _, jid := range f.targets {
		if !f.followed[jid] {
			out = append(out, jid)
		}
	}
	return out
}
