package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateCommand = errors.New("duplicate command registration")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnknownHandler   = errors.New("unknown handler")
	ErrNoCommandNames   = errors.New("manifest declares no command names")
	ErrPanic            = errors.New("handler panicked")
	ErrNoReplies        = errors.New("reply correlation is not available")
)

// PluginError is any failure raised while a handler ran: a returned error, a panic, or a timeout.
type PluginError struct {
	Plugin string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Plugin, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// ManifestError describes a manifest that was skipped at load time.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

type DuplicateError struct {
	Command string
	First   string
	Second  string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %q is claimed by both %s and %s", ErrDuplicateCommand, e.Command, e.First, e.Second)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateCommand
}
