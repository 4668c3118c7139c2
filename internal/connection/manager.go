// Package connection keeps one WhatsApp socket alive and feeds its events to subscribers.
package connection

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/webhook"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

// Transport is one dialed socket. Events for it go to the handler given to Dial.
type Transport interface {
	Socket() whatsapp.Socket
	Connect(ctx context.Context) error
	Disconnect()
	// Pairing is true while the device has no credentials yet.
	Pairing() bool
}

type Dialer interface {
	Dial(ctx context.Context, handle func(evt interface{})) (Transport, error)
}

type Options struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	AlertAfter       int
	HandshakeTimeout time.Duration
	QueueSize        int
	CredentialSink   string
	Events           webhook.Emitter
	// BeforeDial runs ahead of every dial. Its error is logged and otherwise ignored.
	BeforeDial func(ctx context.Context) error
	// OnOpen runs once per process, on the first generation that opens.
	OnOpen func(ctx context.Context, sock whatsapp.Socket)
}

type generation struct {
	id        uint64
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport
	opened    chan struct{}
	openOnce  sync.Once
	ended     chan error
	endOnce   sync.Once

	mu    sync.Mutex
	pumps []*pump
}

func (g *generation) end(err error) {
	g.endOnce.Do(func() {
		g.ended <- err
	})
}

func (g *generation) isOpen() bool {
	select {
	case <-g.opened:
		return true
	default:
		return false
	}
}

func (g *generation) snapshot() []*pump {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*pump(nil), g.pumps...)
}

type Status struct {
	State      string     `json:"state"`
	Generation uint64     `json:"generation"`
	Failures   int        `json:"failures"`
	OpenSince  *time.Time `json:"open_since,omitempty"`
}

// Manager is the only owner of the socket. It dials, supervises and replaces it, and runs
// a fresh set of subscriber pumps for every socket generation.
type Manager struct {
	dialer Dialer
	opts   Options
	subs   []Subscriber

	state      atomic.Int32
	genSeq     atomic.Uint64
	failures   atomic.Int32
	onOpenOnce sync.Once

	mu        sync.RWMutex
	current   *generation
	openSince time.Time

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func New(dialer Dialer, opts Options, subs ...Subscriber) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Events == nil {
		opts.Events = webhook.Nop
	}
	return &Manager{
		dialer: dialer,
		opts:   opts,
		subs:   subs,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		jitter: func() time.Duration {
			return time.Duration(mathrand.Int64N(int64(500*time.Millisecond) + 1))
		},
	}
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Manager) Status() Status {
	st := Status{
		State:      m.State().String(),
		Generation: m.genSeq.Load(),
		Failures:   int(m.failures.Load()),
	}
	m.mu.RLock()
	if m.current != nil && m.current.isOpen() {
		since := m.openSince
		st.OpenSince = &since
	}
	m.mu.RUnlock()
	return st
}

// Socket returns the open socket, or nil between generations.
func (m *Manager) Socket() whatsapp.Socket {
	m.mu.RLock()
	g := m.current
	m.mu.RUnlock()
	if g == nil || !g.isOpen() {
		return nil
	}
	return g.transport.Socket()
}

// SendMessage sends through the current socket. The default context attributes are merged
// by the socket itself.
func (m *Manager) SendMessage(ctx context.Context, chat types.JID, msg *waE2E.Message, opts ...whatsapp.SendOption) (whatsapp.Receipt, error) {
	sock := m.Socket()
	if sock == nil {
		return whatsapp.Receipt{}, &whatsapp.SendError{Chat: chat, Err: ErrNotConnected}
	}
	return sock.SendMessage(ctx, chat, msg, opts...)
}

// Run dials and keeps the connection alive until ctx ends or the session is logged out.
// Only a logout is reported as an error.
func (m *Manager) Run(ctx context.Context) error {
	logger := log.Component("connection")
	failures := 0
	alerted := false

	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.setState(StateConnecting)
		opened, err := m.runGeneration(ctx)

		if errors.Is(err, ErrLoggedOut) {
			m.setState(StateClosed)
			logger.Error("WhatsApp session logged out, pair again to continue")
			m.opts.Events.Emit(ctx, webhook.EventConnectionLoggedOut, nil)
			return err
		}
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		if opened {
			failures = 0
			alerted = false
		}
		failures++
		m.failures.Store(int32(failures))
		m.setState(StateReconnecting)

		errText := ""
		if err != nil {
			errText = err.Error()
		}
		m.opts.Events.Emit(ctx, webhook.EventConnectionClosed, map[string]interface{}{
			"error":   errText,
			"attempt": failures,
		})

		if m.opts.AlertAfter > 0 && failures >= m.opts.AlertAfter && !alerted {
			alerted = true
			logger.WithField("failures", failures).Error("WhatsApp connection keeps failing, still retrying")
			m.opts.Events.Emit(ctx, webhook.EventReconnectAlert, map[string]interface{}{
				"failures": failures,
				"error":    errText,
			})
		}

		delay := m.backoff(failures)
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt": failures,
			"delay":   delay.String(),
		}).Warn("WhatsApp connection lost, reconnecting")

		if err := m.sleep(ctx, delay); err != nil {
			m.setState(StateDisconnected)
			return nil
		}
	}
}

// backoff doubles from BaseDelay per failed attempt, adds jitter, and never exceeds MaxDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.opts.BaseDelay
	for i := 1; i < attempt && delay < m.opts.MaxDelay; i++ {
		delay *= 2
	}
	delay += m.jitter()
	if delay > m.opts.MaxDelay {
		delay = m.opts.MaxDelay
	}
	return delay
}

func (m *Manager) runGeneration(ctx context.Context) (bool, error) {
	if m.opts.BeforeDial != nil {
		if err := m.opts.BeforeDial(ctx); err != nil {
			log.Component("connection").WithError(err).Warn("Pre-dial step failed, dialing anyway")
		}
	}

	genCtx, cancel := context.WithCancel(ctx)
	g := &generation{
		id:     m.genSeq.Add(1),
		ctx:    genCtx,
		cancel: cancel,
		opened: make(chan struct{}),
		ended:  make(chan error, 1),
	}
	defer m.teardown(g)

	id := g.id
	transport, err := m.dialer.Dial(genCtx, func(evt interface{}) {
		m.route(id, evt)
	})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	g.transport = transport

	m.mu.Lock()
	m.current = g
	m.mu.Unlock()

	if err := transport.Connect(genCtx); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}

	var handshake <-chan time.Time
	if m.opts.HandshakeTimeout > 0 && !transport.Pairing() {
		timer := time.NewTimer(m.opts.HandshakeTimeout)
		defer timer.Stop()
		handshake = timer.C
	}

	select {
	case <-g.opened:
	case err := <-g.ended:
		return false, err
	case <-handshake:
		return false, ErrHandshakeTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case err := <-g.ended:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// teardown retires g: events still tagged with it are dropped from here on, and its pumps
// have returned before the next dial starts.
func (m *Manager) teardown(g *generation) {
	m.mu.Lock()
	if m.current == g {
		m.current = nil
	}
	m.mu.Unlock()

	g.cancel()
	if g.transport != nil {
		g.transport.Disconnect()
	}
	for _, p := range g.snapshot() {
		<-p.done
	}
}

func (m *Manager) open(g *generation) {
	g.openOnce.Do(func() {
		sock := g.transport.Socket()

		g.mu.Lock()
		for _, sub := range m.subs {
			p := newPump(sub, m.opts.QueueSize)
			g.pumps = append(g.pumps, p)
			go p.run(g.ctx, sock, g.id)
		}
		g.mu.Unlock()

		m.mu.Lock()
		m.openSince = time.Now()
		m.mu.Unlock()
		m.failures.Store(0)
		m.setState(StateOpen)
		close(g.opened)

		self := sock.Self()
		log.Component("connection").WithFields(logrus.Fields{
			"generation":  g.id,
			"jid":         whatsapp.MaskJID(self.JID),
			"credentials": m.opts.CredentialSink,
		}).Info("WhatsApp connection open")
		m.opts.Events.Emit(g.ctx, webhook.EventConnectionOpen, map[string]interface{}{
			"generation": g.id,
			"jid":        self.JID.String(),
		})

		if m.opts.OnOpen != nil {
			m.onOpenOnce.Do(func() {
				go m.opts.OnOpen(g.ctx, sock)
			})
		}
	})
}

func (m *Manager) route(id uint64, evt interface{}) {
	m.mu.RLock()
	g := m.current
	m.mu.RUnlock()
	if g == nil || g.id != id {
		log.Component("connection").WithField("generation", id).Debugf("Dropping %T from a retired socket", evt)
		return
	}

	logger := log.Component("connection").WithField("generation", id)
	switch e := evt.(type) {
	case *events.Connected:
		m.open(g)
	case *events.PairSuccess:
		logger.WithFields(logrus.Fields{
			"jid":         whatsapp.MaskJID(e.ID),
			"platform":    e.Platform,
			"credentials": m.opts.CredentialSink,
		}).Info("Device paired")
	case *events.LoggedOut:
		g.end(ErrLoggedOut)
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			g.end(ErrLoggedOut)
		} else {
			g.end(fmt.Errorf("connect failure: %v %s", e.Reason, e.Message))
		}
	case *events.StreamReplaced:
		g.end(ErrStreamReplaced)
	case *events.TemporaryBan:
		g.end(fmt.Errorf("temporary ban: %v", e))
	case *events.Disconnected:
		g.end(ErrDisconnected)
	case *events.KeepAliveTimeout:
		logger.WithField("errors", e.ErrorCount).Warn("WhatsApp keepalive timeout")
	}

	for _, p := range g.snapshot() {
		if !p.push(g.ctx, evt) {
			return
		}
	}
}
