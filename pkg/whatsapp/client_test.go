package whatsapp

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

func TestMessageForRetryKeepsRecentSends(t *testing.T) {
	c := &Client{sent: expirable.NewLRU[types.MessageID, *waE2E.Message](2, nil, 0)}
	for _, id := range []types.MessageID{"A", "B", "C"} {
		c.sent.Add(id, &waE2E.Message{Conversation: proto.String("msg " + string(id))})
	}

	assert.Nil(t, c.messageForRetry(types.EmptyJID, types.EmptyJID, "A"))
	msg := c.messageForRetry(types.EmptyJID, types.EmptyJID, "C")
	require.NotNil(t, msg)
	assert.Equal(t, "msg C", msg.GetConversation())
}

func TestPackageDoesNotImportInternal(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, name := range files {
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			assert.False(t, strings.Contains(path, "/internal/"), "%s imports %s", name, path)
		}
	}
}
