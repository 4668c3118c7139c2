// Package env reads configuration from the process environment. A .env file in the
// working directory is loaded first.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"

	goenv "github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

// Parse fills a tagged configuration struct.
func Parse(v interface{}) error {
	return goenv.Parse(v)
}

// Lookup returns the trimmed value of envName and whether it was non-empty.
func Lookup(envName string) (string, bool) {
	if envName == "" {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(envName))
	return v, v != ""
}

func GetEnvStringOrDefault(envName, defaultValue string) string {
	if v, ok := Lookup(envName); ok {
		return v
	}
	return defaultValue
}

// GetEnvIntOrDefault also falls back when the value is not an integer.
func GetEnvIntOrDefault(envName string, defaultValue int) int {
	v, ok := Lookup(envName)
	if !ok {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 0, 0)
	if err != nil {
		return defaultValue
	}
	return int(n)
}

// GetEnvDurationOrDefault also falls back when the value is not a duration.
func GetEnvDurationOrDefault(envName string, defaultValue time.Duration) time.Duration {
	v, ok := Lookup(envName)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
