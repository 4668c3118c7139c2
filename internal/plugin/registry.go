package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

const ManifestExt = ".toml"

const reservedSource = "built-in"

// Registry resolves command tokens to descriptors. It is filled by LoadAll before
// dispatch starts and only read afterwards, so it carries no lock.
type Registry struct {
	timeout     time.Duration
	reserved    map[string]struct{}
	descriptors []*Descriptor
	byName      map[string]*Descriptor
	skipped     []*ManifestError
	overdue     atomic.Int64
}

// NewRegistry returns an empty registry whose handlers run for at most timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		timeout:  timeout,
		reserved: make(map[string]struct{}),
		byName:   make(map[string]*Descriptor),
	}
}

// Reserve claims names for built-in commands so no manifest can shadow them.
func (r *Registry) Reserve(names ...string) {
	for _, n := range names {
		r.reserved[strings.ToLower(n)] = struct{}{}
	}
}

// LoadAll reads every manifest in dir, in lexical order, and replaces the registry contents.
// A manifest that cannot be built is skipped and reported by Skipped. A command token claimed
// twice, by name or by another manifest's pattern, aborts the load with a *DuplicateError.
func (r *Registry) LoadAll(dir string, catalog Catalog) (map[string]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read plugin directory %s: %w", dir, err)
	}

	var (
		descriptors []*Descriptor
		skipped     []*ManifestError
		byName      = make(map[string]*Descriptor)
	)
	logger := log.Component("plugins")

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ManifestExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		m, err := LoadManifest(path)
		if err == nil {
			var d *Descriptor
			d, err = m.Build(entry.Name(), catalog)
			if err == nil {
				for _, n := range d.Names {
					if _, ok := r.reserved[n]; ok {
						return nil, &DuplicateError{Command: n, First: reservedSource, Second: d.Source}
					}
					if prev, ok := byName[n]; ok {
						return nil, &DuplicateError{Command: n, First: prev.Source, Second: d.Source}
					}
					byName[n] = d
				}
				if dup := r.patternClash(d, descriptors); dup != nil {
					return nil, dup
				}
				descriptors = append(descriptors, d)
				logger.WithField("plugin", d.Name).WithField("source", d.Source).Debug("Plugin loaded")
				continue
			}
		}

		merr := &ManifestError{Path: path, Err: err}
		skipped = append(skipped, merr)
		logger.WithField("source", entry.Name()).WithError(err).Warn("Skipping plugin manifest")
	}

	r.descriptors = descriptors
	r.byName = byName
	r.skipped = skipped

	logger.WithField("loaded", len(descriptors)).WithField("skipped", len(skipped)).Info("Plugins loaded")
	return r.snapshot(), nil
}

// patternClash reports a literal name that a pattern of another descriptor would also
// resolve, checking d against the reserved names and every descriptor loaded before it.
func (r *Registry) patternClash(d *Descriptor, loaded []*Descriptor) *DuplicateError {
	if d.Pattern != nil {
		for n := range r.reserved {
			if d.Pattern.MatchString(n) {
				return &DuplicateError{Command: n, First: reservedSource, Second: d.Source}
			}
		}
	}
	for _, prev := range loaded {
		if d.Pattern != nil {
			for _, n := range prev.Names {
				if d.Pattern.MatchString(n) {
					return &DuplicateError{Command: n, First: prev.Source, Second: d.Source}
				}
			}
		}
		if prev.Pattern != nil {
			for _, n := range d.Names {
				if prev.Pattern.MatchString(n) {
					return &DuplicateError{Command: n, First: prev.Source, Second: d.Source}
				}
			}
		}
	}
	return nil
}

func (r *Registry) snapshot() map[string]*Descriptor {
	out := make(map[string]*Descriptor, len(r.descriptors))
	for _, d := range r.descriptors {
		out[d.Name] = d
	}
	return out
}

// Resolve matches token case-insensitively: literal names first, then patterns in load order.
func (r *Registry) Resolve(token string) (*Descriptor, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, false
	}
	if d, ok := r.byName[token]; ok {
		return d, true
	}
	for _, d := range r.descriptors {
		if d.Pattern != nil && d.Pattern.MatchString(token) {
			return d, true
		}
	}
	return nil, false
}

// Execute resolves name and runs its handler.
func (r *Registry) Execute(ctx context.Context, name string, c *Context) error {
	d, ok := r.Resolve(name)
	if !ok {
		return &PluginError{Plugin: name, Err: ErrUnknownCommand}
	}
	return r.Run(ctx, d, c)
}

// Run invokes d's handler under the registry timeout. Returned errors, panics and
// timeouts all come back as *PluginError.
func (r *Registry) Run(ctx context.Context, d *Descriptor, c *Context) error {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// 0 running, 1 finished, 2 abandoned after the deadline
	var state atomic.Int32
	done := make(chan error, 1)
	go func() {
		defer func() {
			if !state.CompareAndSwap(0, 1) {
				r.overdue.Add(-1)
			}
		}()
		defer func() {
			if p := recover(); p != nil {
				log.Component("plugins").WithField("plugin", d.Name).Debug(string(debug.Stack()))
				done <- fmt.Errorf("%w: %v", ErrPanic, p)
			}
		}()
		done <- d.Handler.Execute(runCtx, c)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &PluginError{Plugin: d.Name, Err: err}
		}
		return nil
	case <-runCtx.Done():
		if state.CompareAndSwap(0, 2) {
			n := r.overdue.Add(1)
			log.Component("plugins").WithField("plugin", d.Name).WithField("still_running", n).
				Warn("handler ignored its deadline")
		}
		return &PluginError{Plugin: d.Name, Err: runCtx.Err()}
	}
}

// Overdue counts handlers that outlived their deadline and have not returned yet.
func (r *Registry) Overdue() int {
	return int(r.overdue.Load())
}

// Descriptors lists the loaded descriptors in load order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func (r *Registry) Skipped() []*ManifestError {
	out := make([]*ManifestError, len(r.skipped))
	copy(out, r.skipped)
	return out
}

func (r *Registry) Len() int {
	return len(r.descriptors)
}
