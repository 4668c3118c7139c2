package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
)

type jidHandler struct{}

func newJID(plugin.Options) (plugin.Handler, error) {
	return jidHandler{}, nil
}

func (jidHandler) Execute(ctx context.Context, c *plugin.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "💬 Chat: %s\n👤 You: %s", c.Chat.String(), c.Sender.ToNonAD().String())
	if q := quoted(c); q != nil && q.GetParticipant() != "" {
		fmt.Fprintf(&b, "\n↩️ Quoted: %s", q.GetParticipant())
	}
	_, err := c.Reply(ctx, b.String())
	return err
}
