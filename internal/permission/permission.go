// Package permission decides who may talk to the bot. Every function here is pure.
package permission

import (
	"strings"
)

type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// MinSuffixDigits is the shortest digit string accepted on either side of a suffix match.
const MinSuffixDigits = 7

// Identity is the bot's own account: its phone number and optional alternate identifier.
type Identity struct {
	Number string
	LID    string
}

type Decision struct {
	IsOwner   bool
	IsAllowed bool
}

type Evaluator struct {
	mode    Mode
	owners  []string
	allowed map[string]struct{}
}

func NewEvaluator(mode Mode, owners []string, allowed []string) *Evaluator {
	e := &Evaluator{
		mode:    mode,
		allowed: make(map[string]struct{}, len(allowed)),
	}
	for _, o := range owners {
		if d := NormalizeDigits(o); d != "" {
			e.owners = append(e.owners, d)
		}
	}
	for _, a := range allowed {
		if d := NormalizeDigits(a); d != "" {
			e.allowed[d] = struct{}{}
		}
	}
	return e
}

func (e *Evaluator) Mode() Mode {
	return e.mode
}

// NormalizeDigits reduces "254700143167", "254700143167@s.whatsapp.net" and
// "254700143167:12@s.whatsapp.net" to the same digit string.
func NormalizeDigits(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameNumber matches exactly, or by suffix in either direction when the shorter side is long enough.
func SameNumber(a, b string) bool {
	a, b = NormalizeDigits(a), NormalizeDigits(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	return len(b) >= MinSuffixDigits && strings.HasSuffix(a, b)
}

func (e *Evaluator) IsOwner(sender string, self Identity) bool {
	digits := NormalizeDigits(sender)
	if digits == "" {
		return false
	}
	if n := NormalizeDigits(self.Number); n != "" && n == digits {
		return true
	}
	if l := NormalizeDigits(self.LID); l != "" && l == digits {
		return true
	}
	for _, o := range e.owners {
		if SameNumber(o, digits) {
			return true
		}
	}
	return false
}

// Classify computes the full decision for a sender in a chat.
func (e *Evaluator) Classify(sender string, chat string, self Identity) Decision {
	owner := e.IsOwner(sender, self)
	return Decision{
		IsOwner:   owner,
		IsAllowed: owner || e.gate(sender, chat),
	}
}

func (e *Evaluator) IsAllowed(sender string, chat string, self Identity) bool {
	return e.Classify(sender, chat, self).IsAllowed
}

func (e *Evaluator) gate(sender string, chat string) bool {
	if e.mode != ModePrivate {
		return true
	}
	if IsGroupChat(chat) {
		return true
	}
	_, ok := e.allowed[NormalizeDigits(sender)]
	return ok
}

func IsGroupChat(chat string) bool {
	return strings.HasSuffix(chat, "@g.us")
}
