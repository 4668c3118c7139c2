package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDigitsAcrossFormats(t *testing.T) {
	for _, id := range []string{
		"254700143167",
		"254700143167@s.whatsapp.net",
		"254700143167:12@s.whatsapp.net",
		"+254 700 143 167",
	} {
		assert.Equal(t, "254700143167", NormalizeDigits(id), id)
	}
	assert.Equal(t, "", NormalizeDigits("@s.whatsapp.net"))
}

func TestSameNumberIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"254700143167", "700143167"},
		{"700143167@s.whatsapp.net", "254700143167:3@s.whatsapp.net"},
		{"254700143167", "254700143167"},
	}
	for _, p := range pairs {
		assert.True(t, SameNumber(p[0], p[1]), p)
		assert.True(t, SameNumber(p[1], p[0]), p)
	}

	assert.False(t, SameNumber("254700143167", "167"), "short suffix must not match")
	assert.False(t, SameNumber("167", "254700143167"))
	assert.False(t, SameNumber("", "254700143167"))
}

func TestIsOwner(t *testing.T) {
	self := Identity{Number: "254711000000:5@s.whatsapp.net", LID: "98765432101@lid"}
	e := NewEvaluator(ModePublic, []string{"+254 700 143167"}, nil)

	assert.True(t, e.IsOwner("254711000000@s.whatsapp.net", self), "bot's own number")
	assert.True(t, e.IsOwner("98765432101:2@lid", self), "bot's alternate identifier")
	assert.True(t, e.IsOwner("254700143167:9@s.whatsapp.net", self), "configured owner")
	assert.True(t, e.IsOwner("700143167@s.whatsapp.net", self), "suffix match")
	assert.False(t, e.IsOwner("254799999999@s.whatsapp.net", self))
}

func TestPrivateModeDirectMessageVersusGroup(t *testing.T) {
	e := NewEvaluator(ModePrivate, nil, []string{"254722222222"})
	self := Identity{Number: "254711000000"}
	sender := "254733333333@s.whatsapp.net"

	assert.False(t, e.IsAllowed(sender, sender, self))
	assert.True(t, e.IsAllowed(sender, "120363025246125888@g.us", self))
	assert.True(t, e.IsAllowed("254722222222@s.whatsapp.net", "254722222222@s.whatsapp.net", self))
}

func TestOwnerBypassesPrivateMode(t *testing.T) {
	e := NewEvaluator(ModePrivate, []string{"254700143167"}, nil)
	d := e.Classify("254700143167@s.whatsapp.net", "254700143167@s.whatsapp.net", Identity{})

	assert.Equal(t, Decision{IsOwner: true, IsAllowed: true}, d)
}

func TestPublicModeAllowsEveryone(t *testing.T) {
	e := NewEvaluator(ModePublic, nil, nil)
	assert.True(t, e.IsAllowed("1234567@s.whatsapp.net", "1234567@s.whatsapp.net", Identity{}))
}

func TestClassifyIsDeterministic(t *testing.T) {
	e := NewEvaluator(ModePrivate, []string{"254700143167"}, []string{"111"})
	self := Identity{Number: "254711000000"}
	first := e.Classify("254700143167:1@s.whatsapp.net", "x@s.whatsapp.net", self)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Classify("254700143167:1@s.whatsapp.net", "x@s.whatsapp.net", self))
	}
}
