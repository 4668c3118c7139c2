package whatsapp

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

var (
	ErrInvalidGroupID        = errors.New("WhatsApp Group ID is Not Group Server")
	ErrParticipantMustBeUser = errors.New("WhatsApp Participant ID must be a Personal JID")
)

// StatusBroadcast is the pseudo-chat that carries status updates.
var StatusBroadcast = types.StatusBroadcastJID

func ComposeJID(id string) types.JID {
	if parsed, err := types.ParseJID(strings.TrimSpace(id)); err == nil && parsed.Server != "" && parsed.User != "" {
		return parsed
	}

	id = DecomposeJID(id)
	if strings.ContainsRune(id, '-') || len(id) >= 18 {
		return types.NewJID(id, types.GroupServer)
	}
	return types.NewJID(id, types.DefaultUserServer)
}

func DecomposeJID(id string) string {
	if strings.ContainsRune(id, '@') {
		buffers := strings.Split(id, "@")
		id = buffers[0]
	}

	id = strings.TrimSpace(id)
	if len(id) > 0 && id[0] == '+' {
		id = id[1:]
	}

	return strings.ReplaceAll(id, " ", "")
}

// UserJID builds a personal JID from a phone number, rejecting group ids.
func UserJID(id string) (types.JID, error) {
	jid := ComposeJID(id)
	if jid.Server == types.GroupServer || jid.User == "" {
		return types.EmptyJID, ErrParticipantMustBeUser
	}
	return jid.ToNonAD(), nil
}

func GroupJID(id string) (types.JID, error) {
	jid := ComposeJID(id)
	if jid.Server != types.GroupServer {
		return types.EmptyJID, ErrInvalidGroupID
	}
	return jid, nil
}

func MaskJID(jid types.JID) string {
	return log.MaskJID(jid.String())
}
