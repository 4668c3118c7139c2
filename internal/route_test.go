package internal

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/commands"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/config"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/connection"
	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

type envelope struct {
	Status  bool            `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const testSecret = "0123456789abcdef0123456789abcdef"

var authorized = map[string]string{auth.HeaderSecret: testSecret}

func testApp(t *testing.T) *App {
	t.Helper()
	return &App{
		Config:   &config.Config{BotName: "Silva MD", Prefix: "."},
		Registry: plugin.NewRegistry(time.Second),
		Manager:  connection.New(nil, connection.Options{}),
		QR:       &whatsapp.PairingQR{},
		Auth:     auth.New(testSecret),
		Started:  time.Now().Add(-time.Minute),
	}
}

func get(t *testing.T, a *App, path string, headers ...map[string]string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, h := range headers {
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
	resp, err := NewServer(a).Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return resp.StatusCode, env
}

func TestIndex(t *testing.T) {
	code, env := get(t, testApp(t), "/")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Status)
	assert.Equal(t, "Silva MD is running", env.Message)
}

func TestHealthWhileDisconnected(t *testing.T) {
	code, env := get(t, testApp(t), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Status)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "disconnected", data["state"])
	assert.Equal(t, "1m0s", data["uptime"])
	assert.EqualValues(t, 0, data["plugins"])
}

func TestPluginsListsDescriptors(t *testing.T) {
	dir := t.TempDir()
	manifest := "names = [\"owner\", \"creator\"]\nhandler = \"reply\"\ncategory = \"info\"\ndescription = \"Who runs me\"\n[options]\ntext = \"Ask the owner\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "owner.toml"), []byte(manifest), 0o600))

	a := testApp(t)
	_, err := a.Registry.LoadAll(dir, commands.Catalog(commands.Deps{}))
	require.NoError(t, err)

	code, env := get(t, a, "/plugins", authorized)
	assert.Equal(t, http.StatusOK, code)

	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "owner", list[0]["name"])
	assert.Equal(t, "info", list[0]["category"])
	assert.Equal(t, []interface{}{"owner", "creator"}, list[0]["names"])
}

func TestPairOnlyWhilePairing(t *testing.T) {
	a := testApp(t)
	code, _ := get(t, a, "/pair", authorized)
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, a.QR.Set("2@pairing-ref,client-key,identity-key,adv-secret"))
	code, env := get(t, a, "/pair", authorized)
	assert.Equal(t, http.StatusOK, code)

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Contains(t, data["qr"], "data:image/png;base64,")
}

func TestSessionRoutesRequireAuth(t *testing.T) {
	a := testApp(t)
	require.NoError(t, a.QR.Set("2@pairing-ref,client-key,identity-key,adv-secret"))

	for _, path := range []string{"/pair", "/plugins"} {
		code, env := get(t, a, path)
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.False(t, env.Status)
		assert.Empty(t, env.Data)

		code, _ = get(t, a, path, map[string]string{auth.HeaderSecret: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, code, path)
	}

	token, err := a.Auth.IssueToken("operator", time.Minute)
	require.NoError(t, err)
	code, _ := get(t, a, "/pair", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, a, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code, "health stays public")
}

func TestSessionRoutesClosedWithoutSecret(t *testing.T) {
	a := testApp(t)
	a.Auth = auth.New("")
	require.NoError(t, a.QR.Set("2@pairing-ref,client-key,identity-key,adv-secret"))

	code, env := get(t, a, "/pair", authorized)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, env.Message, "SERVER_AUTH_SECRET")
}
