package commands

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

var groupActions = map[string]whatsapp.ParticipantAction{
	"remove":  whatsapp.ParticipantRemove,
	"add":     whatsapp.ParticipantAdd,
	"promote": whatsapp.ParticipantPromote,
	"demote":  whatsapp.ParticipantDemote,
}

type groupHandler struct {
	verb   string
	action whatsapp.ParticipantAction
}

func newGroup(opts plugin.Options) (plugin.Handler, error) {
	verb, err := opts.Require("action")
	if err != nil {
		return nil, err
	}
	verb = strings.ToLower(verb)
	action, ok := groupActions[verb]
	if !ok {
		return nil, fmt.Errorf("unsupported group action %q", verb)
	}
	return &groupHandler{verb: verb, action: action}, nil
}

func (h *groupHandler) Execute(ctx context.Context, c *plugin.Context) error {
	targets, bad := h.targets(c)
	if len(bad) > 0 {
		_, err := c.Reply(ctx, "❌ Invalid number: "+strings.Join(bad, ", "))
		return err
	}
	if len(targets) == 0 {
		_, err := c.Reply(ctx, fmt.Sprintf("❌ Mention, reply to, or type the number to %s.\nExample: %s%s 2547xxxxxxxx", h.verb, c.Prefix, c.Command))
		return err
	}

	result, err := c.Socket.UpdateParticipants(ctx, c.Chat, targets, h.action)
	if err != nil {
		return fmt.Errorf("%s participants: %w", h.verb, err)
	}

	failed := 0
	for _, p := range result {
		if p.Error != 0 {
			failed++
		}
	}
	if failed > 0 {
		_, err = c.Reply(ctx, fmt.Sprintf("⚠️ %s: %d done, %d failed", h.verb, len(result)-failed, failed))
		return err
	}
	_, err = c.Send(ctx, whatsapp.Text(fmt.Sprintf("✅ %s: %s", h.verb, tags(targets))), whatsapp.Mention(targets...))
	return err
}

// targets collects explicit numbers, mentions and the quoted author, in that order.
func (h *groupHandler) targets(c *plugin.Context) ([]types.JID, []string) {
	var out []types.JID
	var bad []string
	seen := make(map[types.JID]bool)
	add := func(jid types.JID) {
		if !seen[jid] {
			seen[jid] = true
			out = append(out, jid)
		}
	}

	for _, arg := range c.Args {
		if strings.HasPrefix(arg, "@") {
			continue
		}
		jid, err := whatsapp.UserJID(arg)
		if err != nil || !isNumeric(jid.User) {
			bad = append(bad, arg)
			continue
		}
		add(jid)
	}
	for _, jid := range mentioned(c) {
		add(jid)
	}
	if q := quoted(c); q != nil && q.GetParticipant() != "" {
		if jid, err := types.ParseJID(q.GetParticipant()); err == nil {
			add(jid.ToNonAD())
		}
	}
	return out, bad
}

func tags(jids []types.JID) string {
	parts := make([]string, len(jids))
	for i, j := range jids {
		parts[i] = "@" + j.User
	}
	return strings.Join(parts, " ")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
