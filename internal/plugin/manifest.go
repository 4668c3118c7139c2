package plugin

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Manifest is the on-disk form of a plugin.
type Manifest struct {
	Names            []string `toml:"names"`
	Pattern          string   `toml:"pattern"`
	Handler          string   `toml:"handler"`
	Description      string   `toml:"description"`
	Category         string   `toml:"category"`
	RequiresGroup    bool     `toml:"requires_group"`
	RequiresAdmin    bool     `toml:"requires_admin"`
	RequiresBotAdmin bool     `toml:"requires_bot_admin"`
	RequiresOwner    bool     `toml:"requires_owner"`
	Options          Options  `toml:"options"`
}

// LoadManifest parses one manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return &m, nil
}

// Build validates the manifest and binds it to a handler from catalog.
func (m *Manifest) Build(source string, catalog Catalog) (*Descriptor, error) {
	names := make([]string, 0, len(m.Names))
	seen := make(map[string]struct{}, len(m.Names))
	for _, n := range m.Names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.ContainsAny(n, " \t\n") {
			return nil, fmt.Errorf("command name %q contains whitespace", n)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil, ErrNoCommandNames
	}

	var pattern *regexp.Regexp
	if p := strings.TrimSpace(m.Pattern); p != "" {
		compiled, err := regexp.Compile("^(?i:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		pattern = compiled
	}

	factory, ok := catalog[m.Handler]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownHandler, m.Handler)
	}
	opts := m.Options
	if opts == nil {
		opts = Options{}
	}
	handler, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("handler %q: %w", m.Handler, err)
	}

	category := m.Category
	if category == "" {
		category = "misc"
	}
	return &Descriptor{
		Name:        names[0],
		Names:       names,
		Pattern:     pattern,
		Description: m.Description,
		Category:    strings.ToLower(category),
		Requirements: Requirements{
			Group:    m.RequiresGroup,
			Admin:    m.RequiresAdmin,
			BotAdmin: m.RequiresBotAdmin,
			Owner:    m.RequiresOwner,
		},
		Source:  source,
		Handler: handler,
	}, nil
}

// Factory builds a handler from a manifest's [options] table.
type Factory func(opts Options) (Handler, error)

// Catalog maps the handler names manifests may reference to their factories.
type Catalog map[string]Factory

// Options is the handler-specific [options] table of a manifest.
type Options map[string]interface{}

func (o Options) String(key string, def string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Duration accepts "5s" style strings or integer seconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int64:
		return time.Duration(v) * time.Second
	}
	return def
}

func (o Options) Strings(key string) []string {
	raw, ok := o[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Require returns the string option key or an error naming it.
func (o Options) Require(key string) (string, error) {
	v := strings.TrimSpace(o.String(key, ""))
	if v == "" {
		return "", fmt.Errorf("option %q is required", key)
	}
	return v, nil
}
