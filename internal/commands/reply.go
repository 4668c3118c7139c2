package commands

import (
	"context"
	"strings"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
)

type replyHandler struct {
	text string
}

// newReply answers with fixed text. {query}, {sender} and {prefix} are substituted.
func newReply(opts plugin.Options) (plugin.Handler, error) {
	text, err := opts.Require("text")
	if err != nil {
		return nil, err
	}
	return &replyHandler{text: text}, nil
}

func (h *replyHandler) Execute(ctx context.Context, c *plugin.Context) error {
	body := strings.NewReplacer(
		"{query}", c.Query(),
		"{sender}", c.Sender.User,
		"{prefix}", c.Prefix,
	).Replace(h.text)
	_, err := c.Reply(ctx, body)
	return err
}
