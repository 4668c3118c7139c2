package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/dispatch"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const (
	maxBodyBytes  = 1 << 20
	maxMediaBytes = 8 << 20
	maxReplyRunes = 4000
	userAgent     = "WhatsApp-Silva-Bot/1.0"
)

var (
	ErrUpstreamStatus = errors.New("upstream returned an error status")
	ErrNotJSON        = errors.New("upstream response is not JSON")
	errNotFound       = errors.New("upstream has no result")

	placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)
)

type httpHandler struct {
	client   *http.Client
	url      string
	template string
	media    string
	prompt   string
	usage    string
	limiter  *rate.Limiter
}

// newHTTP builds a handler that GETs a URL and renders the JSON answer.
//
//	url      = "https://api.example.com/define?q={query}"  (required)
//	template = "📖 ${word}: ${meanings.0.definition}"
//	media    = "image.url"   gjson path of an image to attach
//	prompt   = "Which word?" asked when the command has no arguments
//	rate     = "5s"          minimum spacing between upstream calls
func newHTTP(opts plugin.Options, client *http.Client) (plugin.Handler, error) {
	raw, err := opts.Require("url")
	if err != nil {
		return nil, err
	}
	sample := strings.ReplaceAll(raw, "{query}", "x")
	if u, err := url.Parse(sample); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("option %q must be an http(s) URL", "url")
	}

	h := &httpHandler{
		client:   client,
		url:      raw,
		template: opts.String("template", ""),
		media:    opts.String("media", ""),
		prompt:   opts.String("prompt", ""),
		usage:    opts.String("usage", "❌ Usage: {prefix}{command} <text>"),
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	if every := opts.Duration("rate", 0); every > 0 {
		h.limiter = rate.NewLimiter(rate.Every(every), opts.Int("burst", 1))
	}
	return h, nil
}

func (h *httpHandler) Execute(ctx context.Context, c *plugin.Context) error {
	query := c.Query()
	if query == "" && strings.Contains(h.url, "{query}") {
		answer, ok, err := h.ask(ctx, c)
		if err != nil || !ok {
			return err
		}
		query = answer
	}

	if !h.limiter.Allow() {
		_, err := c.Reply(ctx, "⏳ Too many requests, try again shortly.")
		return err
	}

	body, err := h.fetch(ctx, h.target(query))
	if errors.Is(err, errNotFound) {
		_, err = c.Reply(ctx, "🤷 Nothing found.")
		return err
	}
	if err != nil {
		return err
	}
	text, err := h.render(body)
	if err != nil {
		return err
	}

	if h.media != "" {
		if link := gjson.GetBytes(body, h.media).String(); link != "" {
			return h.sendImage(ctx, c, link, text)
		}
	}
	if text == "" {
		text = "🤷 Nothing found."
	}
	_, err = c.Reply(ctx, text)
	return err
}

// ask prompts for the missing query. ok is false when the user was already answered.
func (h *httpHandler) ask(ctx context.Context, c *plugin.Context) (string, bool, error) {
	if h.prompt == "" {
		usage := strings.NewReplacer("{prefix}", c.Prefix, "{command}", c.Command).Replace(h.usage)
		_, err := c.Reply(ctx, usage)
		return "", false, err
	}
	reply, err := c.Prompt(ctx, h.prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		_, rerr := c.Reply(ctx, "⌛ No reply received, command cancelled.")
		return "", false, rerr
	}
	answer := strings.TrimSpace(dispatch.ExtractText(reply.Message))
	if answer == "" {
		_, err := c.Reply(ctx, "❌ Please reply with text.")
		return "", false, err
	}
	return answer, true, nil
}

// target escapes query for the part of the URL template it lands in.
func (h *httpHandler) target(query string) string {
	escaped := url.PathEscape(query)
	if q := strings.Index(h.url, "?"); q >= 0 && q < strings.Index(h.url, "{query}") {
		escaped = url.QueryEscape(query)
	}
	return strings.ReplaceAll(h.url, "{query}", escaped)
}

func (h *httpHandler) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// render fills ${path} placeholders from body. Without a template the raw body is returned.
func (h *httpHandler) render(body []byte) (string, error) {
	if h.template == "" {
		return truncate(strings.TrimSpace(string(body))), nil
	}
	if !gjson.ValidBytes(body) {
		return "", ErrNotJSON
	}
	out := placeholder.ReplaceAllStringFunc(h.template, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		return gjson.GetBytes(body, strings.TrimSpace(path)).String()
	})
	return truncate(strings.TrimSpace(out)), nil
}

func (h *httpHandler) sendImage(ctx context.Context, c *plugin.Context, link string, caption string) error {
	data, err := h.fetchMedia(ctx, link)
	if err != nil {
		return err
	}
	uploaded, err := c.Socket.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}

	image := &waE2E.ImageMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		Mimetype:      proto.String(http.DetectContentType(data)),
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uint64(len(data))),
	}
	if caption != "" {
		image.Caption = proto.String(caption)
	}
	if thumb, err := whatsapp.Thumbnail(data); err == nil {
		image.JPEGThumbnail = thumb
	}
	_, err = c.Send(ctx, &waE2E.Message{ImageMessage: image})
	return err
}

func (h *httpHandler) fetchMedia(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: media %d", ErrUpstreamStatus, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxReplyRunes {
		return s
	}
	return string(r[:maxReplyRunes]) + "…"
}

