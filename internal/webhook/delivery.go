// Package webhook posts signed bot events to the configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

type Options struct {
	URLs         []string
	Secret       string
	Bot          string
	Workers      int
	RetryLimit   int
	AllowPrivate bool
}

type Engine struct {
	urls         []string
	secret       string
	bot          string
	httpClient   *http.Client
	queue        chan *deliveryTask
	retryLimit   int
	allowPrivate bool
	backoff      func(attempt int) time.Duration
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once

	// queueMu guards sends on queue against Shutdown closing it.
	queueMu sync.RWMutex
	closed  bool
}

type deliveryTask struct {
	url   string
	event Event
}

// NewEngine starts the delivery workers. With no URLs the engine accepts and drops events.
func NewEngine(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 2
	}
	retryLimit := opts.RetryLimit
	if retryLimit <= 0 {
		retryLimit = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		urls:         opts.URLs,
		secret:       opts.Secret,
		bot:          opts.Bot,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		queue:        make(chan *deliveryTask, 1000),
		retryLimit:   retryLimit,
		allowPrivate: opts.AllowPrivate,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*2) * time.Second
		},
		ctx:    ctx,
		cancel: cancel,
	}

	if engine.Enabled() {
		for i := 0; i < workers; i++ {
			engine.wg.Add(1)
			go engine.worker()
		}
	}

	return engine
}

func (e *Engine) Enabled() bool {
	return len(e.urls) > 0
}

// Shutdown stops the workers once queued deliveries finish or ctx ends.
func (e *Engine) Shutdown(ctx context.Context) {
	e.closeOnce.Do(func() {
		e.queueMu.Lock()
		e.closed = true
		close(e.queue)
		e.queueMu.Unlock()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
		e.cancel()
	})
}

func (e *Engine) Emit(ctx context.Context, eventType EventType, data map[string]interface{}) {
	if !e.Enabled() || e.ctx.Err() != nil {
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Bot:       e.bot,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	e.queueMu.RLock()
	defer e.queueMu.RUnlock()
	if e.closed {
		return
	}

	dispatched := 0
	for _, u := range e.urls {
		select {
		case e.queue <- &deliveryTask{url: u, event: event}:
			dispatched++
		default:
			log.Component("webhook").WithField("event", eventType).Warn("Webhook queue full, dropping event")
		}
	}

	if dispatched > 0 {
		log.Component("webhook").WithFields(logrus.Fields{
			"event":   eventType,
			"targets": dispatched,
		}).Debug("Webhook event queued")
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.queue:
			if !ok {
				return
			}
			e.deliver(task)
		}
	}
}

func (e *Engine) deliver(task *deliveryTask) DeliveryStatus {
	entry := log.Component("webhook").WithFields(logrus.Fields{
		"event": task.event.EventType,
		"id":    task.event.ID,
	})

	if err := e.validateURL(task.url); err != nil {
		entry.WithError(err).Warn("Webhook URL rejected")
		return DeliveryFailed
	}

	payload, err := json.Marshal(task.event)
	if err != nil {
		entry.WithError(err).Error("Failed to marshal webhook event")
		return DeliveryFailed
	}

	signature := e.generateSignature(payload)

	var lastErr error
	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, task.url, bytes.NewReader(payload))
		if err != nil {
			lastErr = err
			break
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Hub-Signature-256", signature)
		req.Header.Set("X-Webhook-Event", string(task.event.EventType))
		req.Header.Set("User-Agent", "WhatsApp-Silva-Bot/1.0")

		resp, err := e.httpClient.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				entry.WithField("attempt", attempt).Debug("Webhook delivered")
				return DeliverySuccess
			}
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		} else {
			lastErr = err
		}

		if attempt < e.retryLimit {
			select {
			case <-time.After(e.backoff(attempt)):
			case <-e.ctx.Done():
				return DeliveryFailed
			}
		}
	}

	entry.WithError(lastErr).WithField("attempts", e.retryLimit).Warn("Webhook delivery failed")
	return DeliveryFailed
}

func (e *Engine) generateSignature(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(e.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *Engine) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	if e.allowPrivate {
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
		}
		return nil
	}

	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" {
		return fmt.Errorf("private/local network URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()) {
		return fmt.Errorf("private/local network URLs are not allowed")
	}

	return nil
}
