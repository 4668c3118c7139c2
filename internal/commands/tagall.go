package commands

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

type tagAllHandler struct {
	header string
}

func newTagAll(opts plugin.Options) (plugin.Handler, error) {
	return &tagAllHandler{header: opts.String("header", "📢 *TAG ALL*")}, nil
}

func (h *tagAllHandler) Execute(ctx context.Context, c *plugin.Context) error {
	if !c.IsGroup {
		_, err := c.Reply(ctx, "❌ This command can only be used in groups.")
		return err
	}
	info, err := c.Socket.GroupMetadata(ctx, c.Chat)
	if err != nil {
		return fmt.Errorf("load group metadata: %w", err)
	}

	var b strings.Builder
	b.WriteString(h.header)
	if q := c.Query(); q != "" {
		b.WriteString("\n" + q)
	}
	b.WriteString("\n")

	mentions := make([]types.JID, 0, len(info.Participants))
	for _, p := range info.Participants {
		jid := p.JID.ToNonAD()
		mentions = append(mentions, jid)
		fmt.Fprintf(&b, "\n@%s", jid.User)
	}
	_, err = c.Send(ctx, whatsapp.Text(b.String()), whatsapp.Mention(mentions...))
	return err
}
