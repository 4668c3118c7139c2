package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("SILVA_TEST_NAME", "  bot  ")
	t.Setenv("SILVA_TEST_BLANK", "   ")
	t.Setenv("SILVA_TEST_LEVEL", "0x10")
	t.Setenv("SILVA_TEST_BAD", "ten")

	assert.Equal(t, "bot", GetEnvStringOrDefault("SILVA_TEST_NAME", "x"))
	assert.Equal(t, "x", GetEnvStringOrDefault("SILVA_TEST_BLANK", "x"))
	assert.Equal(t, 16, GetEnvIntOrDefault("SILVA_TEST_LEVEL", 1))
	assert.Equal(t, 1, GetEnvIntOrDefault("SILVA_TEST_BAD", 1))
	assert.Equal(t, 1, GetEnvIntOrDefault("SILVA_TEST_MISSING", 1))

	t.Setenv("SILVA_TEST_TTL", "90m")
	assert.Equal(t, 90*time.Minute, GetEnvDurationOrDefault("SILVA_TEST_TTL", time.Hour))
	assert.Equal(t, time.Hour, GetEnvDurationOrDefault("SILVA_TEST_BAD", time.Hour))
}

func TestParse(t *testing.T) {
	t.Setenv("SILVA_TEST_PORT", "8080")
	var cfg struct {
		Port int    `env:"SILVA_TEST_PORT"`
		Host string `env:"SILVA_TEST_HOST" envDefault:"0.0.0.0"`
	}
	require.NoError(t, Parse(&cfg))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
}
