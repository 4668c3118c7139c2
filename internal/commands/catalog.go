// Package commands holds the handlers plugin manifests can bind to.
package commands

import (
	"net/http"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

const defaultHTTPTimeout = 15 * time.Second

// Deps are shared by every handler built from one catalog.
type Deps struct {
	HTTP *http.Client
}

// Catalog returns the handler factories manifests may name.
func Catalog(deps Deps) plugin.Catalog {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return plugin.Catalog{
		"reply":   newReply,
		"jid":     newJID,
		"tagall":  newTagAll,
		"group":   newGroup,
		"sticker": newSticker,
		"http": func(opts plugin.Options) (plugin.Handler, error) {
			return newHTTP(opts, deps.HTTP)
		},
	}
}

// quoted returns the context of the message the command replied to, if any.
func quoted(c *plugin.Context) *waE2E.ContextInfo {
	if c.Message == nil {
		return nil
	}
	return whatsapp.QuotedContext(c.Message.Message)
}

// mentioned lists the JIDs tagged in the command message.
func mentioned(c *plugin.Context) []types.JID {
	if c.Message == nil || c.Message.Message == nil {
		return nil
	}
	info := c.Message.Message.GetExtendedTextMessage().GetContextInfo()
	var out []types.JID
	for _, raw := range info.GetMentionedJID() {
		if jid, err := types.ParseJID(raw); err == nil {
			out = append(out, jid.ToNonAD())
		}
	}
	return out
}
