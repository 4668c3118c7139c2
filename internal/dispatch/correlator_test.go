package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp/whatsapptest"
)

type awaitResult struct {
	msg *events.Message
	err error
}

func startAwait(c *Correlator, id types.MessageID, ttl time.Duration) <-chan awaitResult {
	out := make(chan awaitResult, 1)
	go func() {
		msg, err := c.Await(context.Background(), id, userJID, userJID, ttl)
		out <- awaitResult{msg, err}
	}()
	return out
}

func TestCorrelatorDeliversQuotedReply(t *testing.T) {
	c := NewCorrelator()
	res := startAwait(c, "P1", time.Minute)
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	assert.False(t, c.Offer(whatsapptest.IncomingText(userJID, userJID, "X", "no quote")))
	assert.False(t, c.Offer(whatsapptest.ReplyTo(userJID, userJID, "X", "OTHER", "wrong prompt")))
	assert.False(t, c.Offer(whatsapptest.ReplyTo(userJID, ownerJID, "X", "P1", "wrong sender")))

	assert.True(t, c.Offer(whatsapptest.ReplyTo(userJID, userJID, "R1", "P1", "answer")))

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, types.MessageID("R1"), r.msg.Info.ID)
	assert.Zero(t, c.Pending())

	assert.False(t, c.Offer(whatsapptest.ReplyTo(userJID, userJID, "R2", "P1", "late")), "a waiter fires once")
}

func TestCorrelatorSweepExpires(t *testing.T) {
	c := NewCorrelator()
	now := time.Now()
	c.now = func() time.Time { return now }

	res := startAwait(c, "P1", time.Second)
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	assert.Zero(t, c.Sweep())
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())

	r := <-res
	assert.ErrorIs(t, r.err, ErrReplyExpired)
	assert.Zero(t, c.Pending())
}

func TestCorrelatorHonoursContext(t *testing.T) {
	c := NewCorrelator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Await(ctx, "P1", userJID, userJID, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Pending())
}
