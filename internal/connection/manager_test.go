package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp/whatsapptest"
)

type fakeTransport struct {
	sock         *whatsapptest.Socket
	handle       func(interface{})
	autoOpen     bool
	pairing      bool
	disconnected atomic.Bool
}

func (t *fakeTransport) Socket() whatsapp.Socket { return t.sock }
func (t *fakeTransport) Pairing() bool           { return t.pairing }
func (t *fakeTransport) Disconnect()             { t.disconnected.Store(true) }

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.autoOpen {
		t.handle(&events.Connected{})
	}
	return nil
}

func (t *fakeTransport) emit(evt interface{}) {
	t.handle(evt)
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int
	autoOpen bool
	dials    int
	dialed   chan *fakeTransport
}

func newFakeDialer(autoOpen bool) *fakeDialer {
	return &fakeDialer{autoOpen: autoOpen, dialed: make(chan *fakeTransport, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, handle func(interface{})) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial tcp: connection refused")
	}
	t := &fakeTransport{
		sock:     &whatsapptest.Socket{Identity: whatsapp.Identity{JID: types.NewJID("254799999999", types.DefaultUserServer)}},
		handle:   handle,
		autoOpen: d.autoOpen,
	}
	d.dialed <- t
	return t, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type delivery struct {
	sock  whatsapp.Socket
	batch []interface{}
}

type recordingSubscriber struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (s *recordingSubscriber) Name() string { return "recorder" }

func (s *recordingSubscriber) Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, delivery{sock: sock, batch: batch})
}

// messages returns the ids of every message delivered with sock.
func (s *recordingSubscriber) messages(sock whatsapp.Socket) []types.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []types.MessageID
	for _, d := range s.deliveries {
		if d.sock != sock {
			continue
		}
		for _, evt := range d.batch {
			if m, ok := evt.(*events.Message); ok {
				ids = append(ids, m.Info.ID)
			}
		}
	}
	return ids
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []webhook.EventType
}

func (r *recordingEmitter) Emit(ctx context.Context, kind webhook.EventType, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *recordingEmitter) count(kind webhook.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.events {
		if k == kind {
			n++
		}
	}
	return n
}

func newTestManager(d Dialer, opts Options, subs ...Subscriber) *Manager {
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Millisecond
		opts.MaxDelay = 5 * time.Millisecond
	}
	m := New(d, opts, subs...)
	m.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	m.jitter = func() time.Duration { return 0 }
	return m
}

func runManager(m *Manager, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return done
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, time.Millisecond, "state %s", want)
}

func msg(id types.MessageID) *events.Message {
	chat := types.NewJID("254700000001", types.DefaultUserServer)
	return whatsapptest.IncomingText(chat, chat, id, "hi")
}

func TestReconnectOnDropStopOnLogout(t *testing.T) {
	d := newFakeDialer(true)
	emitter := &recordingEmitter{}
	m := newTestManager(d, Options{Events: emitter})
	done := runManager(m, context.Background())

	first := <-d.dialed
	waitState(t, m, StateOpen)

	first.emit(&events.Disconnected{})
	second := <-d.dialed
	waitState(t, m, StateOpen)
	assert.True(t, first.disconnected.Load(), "the old socket is closed before redial")

	second.emit(&events.LoggedOut{})
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLoggedOut)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on logout")
	}
	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, 2, d.Dials())
	assert.Equal(t, 1, emitter.count(webhook.EventConnectionLoggedOut))
	assert.Equal(t, 2, emitter.count(webhook.EventConnectionOpen))
}

func TestConnectFailureLoggedOutIsTerminal(t *testing.T) {
	d := newFakeDialer(false)
	m := newTestManager(d, Options{})
	done := runManager(m, context.Background())

	tr := <-d.dialed
	tr.emit(&events.ConnectFailure{Reason: events.ConnectFailureLoggedOut})

	assert.ErrorIs(t, <-done, ErrLoggedOut)
	assert.Equal(t, 1, d.Dials())
}

func TestSubscribersFollowTheCurrentGeneration(t *testing.T) {
	d := newFakeDialer(true)
	sub := &recordingSubscriber{}
	m := newTestManager(d, Options{}, sub)
	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(m, ctx)

	first := <-d.dialed
	waitState(t, m, StateOpen)
	first.emit(msg("A1"))
	require.Eventually(t, func() bool { return len(sub.messages(first.sock)) == 1 }, time.Second, time.Millisecond)

	first.emit(&events.StreamReplaced{})
	second := <-d.dialed
	waitState(t, m, StateOpen)

	first.emit(msg("STALE"))
	second.emit(msg("B1"))
	second.emit(msg("B2"))

	require.Eventually(t, func() bool { return len(sub.messages(second.sock)) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []types.MessageID{"B1", "B2"}, sub.messages(second.sock))
	assert.Equal(t, []types.MessageID{"A1"}, sub.messages(first.sock))
	assert.Same(t, second.sock, m.Socket())

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Nil(t, m.Socket())
}

func TestPanickingSubscriberKeepsPumping(t *testing.T) {
	d := newFakeDialer(true)
	var calls atomic.Int32
	sub := subscriberFunc(func(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	m := newTestManager(d, Options{}, sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runManager(m, ctx)

	tr := <-d.dialed
	waitState(t, m, StateOpen)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	tr.emit(msg("M1"))
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
}

type subscriberFunc func(ctx context.Context, sock whatsapp.Socket, batch []interface{})

func (f subscriberFunc) Name() string { return "func" }

func (f subscriberFunc) Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{}) {
	f(ctx, sock, batch)
}

func TestAlertRaisedOnceAfterThreshold(t *testing.T) {
	d := newFakeDialer(true)
	d.failures = 5
	emitter := &recordingEmitter{}
	m := newTestManager(d, Options{AlertAfter: 3, Events: emitter})
	done := runManager(m, context.Background())

	tr := <-d.dialed
	waitState(t, m, StateOpen)
	assert.Equal(t, 6, d.Dials())
	assert.Equal(t, 1, emitter.count(webhook.EventReconnectAlert))
	assert.Zero(t, m.Status().Failures, "an open socket resets the failure count")

	tr.emit(&events.LoggedOut{})
	assert.ErrorIs(t, <-done, ErrLoggedOut)
}

func TestHandshakeTimeoutRedials(t *testing.T) {
	d := newFakeDialer(false)
	m := newTestManager(d, Options{HandshakeTimeout: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(m, ctx)

	<-d.dialed
	second := <-d.dialed
	second.emit(&events.Connected{})
	waitState(t, m, StateOpen)

	cancel()
	assert.NoError(t, <-done)
}

func TestPairingWaitsWithoutHandshakeTimeout(t *testing.T) {
	d := &pairingDialer{inner: newFakeDialer(false)}
	m := newTestManager(d, Options{HandshakeTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(m, ctx)

	tr := <-d.inner.dialed
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.inner.Dials())
	assert.Equal(t, StateConnecting, m.State())

	tr.emit(&events.Connected{})
	waitState(t, m, StateOpen)
	cancel()
	<-done
}

type pairingDialer struct {
	inner *fakeDialer
}

func (p *pairingDialer) Dial(ctx context.Context, handle func(interface{})) (Transport, error) {
	tr, err := p.inner.Dial(ctx, handle)
	if err != nil {
		return nil, err
	}
	tr.(*fakeTransport).pairing = true
	return tr, nil
}

func TestOnOpenFiresOnce(t *testing.T) {
	d := newFakeDialer(true)
	var opened atomic.Int32
	m := newTestManager(d, Options{OnOpen: func(ctx context.Context, sock whatsapp.Socket) {
		opened.Add(1)
	}})
	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(m, ctx)

	first := <-d.dialed
	waitState(t, m, StateOpen)
	first.emit(&events.Disconnected{})
	<-d.dialed
	waitState(t, m, StateOpen)

	require.Eventually(t, func() bool { return opened.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.EqualValues(t, 1, opened.Load())
}

func TestSendMessageRequiresOpenSocket(t *testing.T) {
	m := newTestManager(newFakeDialer(true), Options{})
	_, err := m.SendMessage(context.Background(), types.NewJID("254700000001", types.DefaultUserServer), whatsapp.Text("hi"))
	assert.ErrorIs(t, err, ErrNotConnected)

	var sendErr *whatsapp.SendError
	assert.True(t, errors.As(err, &sendErr))
}

func TestSendMessageUsesCurrentSocket(t *testing.T) {
	d := newFakeDialer(true)
	m := newTestManager(d, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := runManager(m, ctx)

	tr := <-d.dialed
	waitState(t, m, StateOpen)
	_, err := m.SendMessage(context.Background(), types.NewJID("254700000001", types.DefaultUserServer), whatsapp.Text("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, tr.sock.Texts())

	cancel()
	<-done
}

func TestBackoff(t *testing.T) {
	m := New(newFakeDialer(true), Options{BaseDelay: time.Second, MaxDelay: 10 * time.Second})
	m.jitter = func() time.Duration { return 0 }

	assert.Equal(t, time.Second, m.backoff(1))
	assert.Equal(t, 2*time.Second, m.backoff(2))
	assert.Equal(t, 8*time.Second, m.backoff(4))
	assert.Equal(t, 10*time.Second, m.backoff(5))
	assert.Equal(t, 10*time.Second, m.backoff(500))

	m.jitter = func() time.Duration { return 300 * time.Millisecond }
	assert.Equal(t, 1300*time.Millisecond, m.backoff(1))
	assert.Equal(t, 10*time.Second, m.backoff(9))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
