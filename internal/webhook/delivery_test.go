package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversSignedEvent(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	engine := NewEngine(Options{URLs: []string{srv.URL}, Secret: "s3cret", Bot: "Silva MD", AllowPrivate: true})
	defer engine.Shutdown(context.Background())

	engine.Emit(context.Background(), EventCommandFailed, map[string]interface{}{"command": "kick"})

	var req *http.Request
	var body []byte
	select {
	case body = <-bodies:
		req = <-received
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), req.Header.Get("X-Webhook-Signature"))
	assert.Equal(t, string(EventCommandFailed), req.Header.Get("X-Webhook-Event"))

	var event Event
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, EventCommandFailed, event.EventType)
	assert.Equal(t, "Silva MD", event.Bot)
	assert.Equal(t, "kick", event.Data["command"])
	assert.NotEmpty(t, event.ID)
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine := NewEngine(Options{RetryLimit: 3, AllowPrivate: true})
	engine.backoff = func(int) time.Duration { return time.Millisecond }

	status := engine.deliver(&deliveryTask{url: srv.URL, event: Event{EventType: EventMessageDeleted}})
	assert.Equal(t, DeliverySuccess, status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDeliverGivesUpAfterRetryLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := NewEngine(Options{RetryLimit: 2, AllowPrivate: true})
	engine.backoff = func(int) time.Duration { return time.Millisecond }

	status := engine.deliver(&deliveryTask{url: srv.URL, event: Event{EventType: EventMessageDeleted}})
	assert.Equal(t, DeliveryFailed, status)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestValidateURL(t *testing.T) {
	strict := NewEngine(Options{})
	assert.NoError(t, strict.validateURL("https://hooks.example.com/bot"))
	assert.Error(t, strict.validateURL("http://hooks.example.com/bot"))
	assert.Error(t, strict.validateURL("https://localhost/bot"))
	assert.Error(t, strict.validateURL("https://10.1.2.3/bot"))
	assert.Error(t, strict.validateURL("https://192.168.1.5/bot"))
	assert.Error(t, strict.validateURL("https://127.0.0.1/bot"))

	relaxed := NewEngine(Options{AllowPrivate: true})
	assert.NoError(t, relaxed.validateURL("http://127.0.0.1:9000/bot"))
	assert.Error(t, relaxed.validateURL("ftp://example.com"))
}

func TestEmitWithoutTargetsIsNoop(t *testing.T) {
	engine := NewEngine(Options{})
	assert.False(t, engine.Enabled())
	engine.Emit(context.Background(), EventConnectionOpen, nil)
	engine.Shutdown(context.Background())
	engine.Emit(context.Background(), EventConnectionOpen, nil)
}

func TestEmitRacingShutdownIsSafe(t *testing.T) {
	for i := 0; i < 20; i++ {
		engine := NewEngine(Options{URLs: []string{"http://127.0.0.1:1/hook"}, AllowPrivate: true, RetryLimit: 1})
		engine.backoff = func(int) time.Duration { return 0 }

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 50; j++ {
				engine.Emit(context.Background(), EventMessageDeleted, map[string]interface{}{"n": j})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		assert.NotPanics(t, func() { engine.Shutdown(ctx) })
		cancel()
		<-done

		assert.NotPanics(t, func() {
			engine.Emit(context.Background(), EventConnectionOpen, nil)
		})
	}
}
