package commands

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp/whatsapptest"
)

type cannedReplies struct {
	reply *events.Message
	err   error
	asked atomic.Int32
}

func (c *cannedReplies) Await(ctx context.Context, promptID types.MessageID, chat types.JID, sender types.JID, ttl time.Duration) (*events.Message, error) {
	c.asked.Add(1)
	return c.reply, c.err
}

func dictionaryServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.Query().Get("q"))
		switch r.URL.Path {
		case "/define":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"word":"` + r.URL.Query().Get("q") + `","meanings":[{"definition":"a greeting"}],"image":{"url":"` + "http://" + r.Host + `/pic.png"}}`))
		case "/pic.png":
			img := image.NewRGBA(image.Rect(0, 0, 4, 4))
			img.Set(1, 1, color.RGBA{R: 255, A: 255})
			var buf bytes.Buffer
			_ = png.Encode(&buf, img)
			_, _ = w.Write(buf.Bytes())
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("plain answer"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastQuery
}

func buildHTTP(t *testing.T, srv *httptest.Server, opts plugin.Options) plugin.Handler {
	t.Helper()
	h, err := newHTTP(opts, srv.Client())
	require.NoError(t, err)
	return h
}

func TestHTTPRendersTemplate(t *testing.T) {
	srv, lastQuery := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{
		"url":      srv.URL + "/define?q={query}",
		"template": "📖 ${word}: ${ meanings.0.definition }",
	})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".define hello world")

	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "define", "hello", "world")))
	assert.Equal(t, "hello world", lastQuery.Load())
	assert.Equal(t, []string{"📖 hello world: a greeting"}, sock.Texts())
}

func TestHTTPWithoutTemplateRepliesRawBody(t *testing.T) {
	srv, _ := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/quote"})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".quote")

	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "quote")))
	assert.Equal(t, []string{"plain answer"}, sock.Texts())
}

func TestHTTPAttachesMedia(t *testing.T) {
	srv, _ := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{
		"url":      srv.URL + "/define?q={query}",
		"template": "${word}",
		"media":    "image.url",
	})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".define cat")

	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "define", "cat")))
	require.Len(t, sock.Uploads(), 1)
	img := sock.Sent()[0].Message.GetImageMessage()
	require.NotNil(t, img)
	assert.Equal(t, "cat", img.GetCaption())
	assert.Equal(t, "image/png", img.GetMimetype())
	assert.Equal(t, "M1", img.GetContextInfo().GetStanzaID())
}

func TestHTTPUpstreamErrorFails(t *testing.T) {
	srv, _ := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/broken"})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".x")

	err := h.Execute(context.Background(), invoke(sock, msg, "x"))
	assert.ErrorIs(t, err, ErrUpstreamStatus)
	assert.Empty(t, sock.Sent())
}

func TestHTTPUsageWithoutQuery(t *testing.T) {
	srv, lastQuery := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/define?q={query}"})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".define")

	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "define")))
	assert.Equal(t, []string{"❌ Usage: .define <text>"}, sock.Texts())
	assert.Nil(t, lastQuery.Load())
}

func TestHTTPPromptsForQuery(t *testing.T) {
	srv, lastQuery := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{
		"url":      srv.URL + "/define?q={query}",
		"template": "${word}",
		"prompt":   "Which word?",
	})
	sock := newSocket()
	replies := &cannedReplies{reply: whatsapptest.ReplyTo(userJID, userJID, "M2", "OUT0001", "  serendipity ")}
	c := invoke(sock, whatsapptest.IncomingText(userJID, userJID, "M1", ".define"), "define")
	c.Replies = replies

	require.NoError(t, h.Execute(context.Background(), c))
	assert.EqualValues(t, 1, replies.asked.Load())
	assert.Equal(t, "serendipity", lastQuery.Load())
	assert.Equal(t, []string{"Which word?", "serendipity"}, sock.Texts())
}

func TestHTTPPromptExpiry(t *testing.T) {
	srv, lastQuery := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/define?q={query}", "prompt": "Which word?"})
	sock := newSocket()
	c := invoke(sock, whatsapptest.IncomingText(userJID, userJID, "M1", ".define"), "define")
	c.Replies = &cannedReplies{err: errors.New("expired")}

	require.NoError(t, h.Execute(context.Background(), c))
	assert.Contains(t, sock.Texts()[1], "No reply received")
	assert.Nil(t, lastQuery.Load())
}

func TestHTTPRateLimit(t *testing.T) {
	srv, _ := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/quote", "rate": "1h"})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".quote")

	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "quote")))
	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "quote")))
	assert.Equal(t, []string{"plain answer", "⏳ Too many requests, try again shortly."}, sock.Texts())
}

func TestHTTPRejectsNonJSONForTemplate(t *testing.T) {
	srv, _ := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/quote", "template": "${a}"})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".quote")

	assert.ErrorIs(t, h.Execute(context.Background(), invoke(sock, msg, "quote")), ErrNotJSON)
}

func TestHTTPNotFoundIsAnAnswer(t *testing.T) {
	srv, _ := dictionaryServer(t)
	h := buildHTTP(t, srv, plugin.Options{"url": srv.URL + "/missing"})
	sock := newSocket()
	msg := whatsapptest.IncomingText(userJID, userJID, "M1", ".x")

	require.NoError(t, h.Execute(context.Background(), invoke(sock, msg, "x")))
	assert.Equal(t, []string{"🤷 Nothing found."}, sock.Texts())
}

func TestHTTPEscapesByPosition(t *testing.T) {
	path := &httpHandler{url: "https://api.example.com/entries/{query}"}
	assert.Equal(t, "https://api.example.com/entries/hello%20world", path.target("hello world"))

	query := &httpHandler{url: "https://api.example.com/search?q={query}&n=1"}
	assert.Equal(t, "https://api.example.com/search?q=hello+world&n=1", query.target("hello world"))
}
