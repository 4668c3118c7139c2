// Package session turns an exported session token into the credential file the datastore opens.
package session

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

const (
	Magic     = "Silva"
	separator = "~"

	// hard cap on the decompressed credential file
	maxCredentialSize = 64 << 20
)

var sidecars = []string{"-wal", "-shm", "-journal"}

type Loader struct {
	path string
}

// NewLoader returns a loader that writes the credential file at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

func (l *Loader) Path() string {
	return l.path
}

// Load decodes token and replaces the credential file with its payload.
// Nothing on disk changes unless the whole payload decodes.
func (l *Loader) Load(token string) error {
	payload, err := Decode(token)
	if err != nil {
		return err
	}

	if err := l.replace(payload); err != nil {
		return &Error{Err: err}
	}

	log.Component("session").WithField("path", l.path).WithField("bytes", len(payload)).Info("Session credentials restored")
	return nil
}

// Decode validates the token and returns the decompressed credentials.
func Decode(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	magic, encoded, found := strings.Cut(token, separator)
	if !found || magic != Magic {
		return nil, &Error{Kind: ErrInvalidFormat, Err: fmt.Errorf("expected %s%s<payload>", Magic, separator)}
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, &Error{Kind: ErrInvalidFormat, Err: errors.New("payload is empty")}
	}

	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &Error{Kind: ErrDecode, Err: fmt.Errorf("base64: %w", err)}
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &Error{Kind: ErrDecode, Err: fmt.Errorf("gzip: %w", err)}
	}
	defer zr.Close()

	payload, err := io.ReadAll(io.LimitReader(zr, maxCredentialSize+1))
	if err != nil {
		return nil, &Error{Kind: ErrDecode, Err: fmt.Errorf("gzip: %w", err)}
	}
	if len(payload) > maxCredentialSize {
		return nil, &Error{Kind: ErrDecode, Err: errors.New("payload exceeds size limit")}
	}
	if len(payload) == 0 {
		return nil, &Error{Kind: ErrDecode, Err: errors.New("payload decompresses to nothing")}
	}
	return payload, nil
}

// Encode is the inverse of Decode.
func Encode(payload []byte) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(payload); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return Magic + separator + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Export reads an existing credential file and produces a token Load accepts.
func Export(path string) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("credential file %s is empty", path)
	}
	return Encode(payload)
}

func (l *Loader) replace(payload []byte) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := Remove(l.path); err != nil {
		return err
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("install credential file: %w", err)
	}
	committed = true
	return nil
}

// Remove deletes a credential file and its SQLite sidecars. Missing files are not an error.
func Remove(path string) error {
	for _, p := range append([]string{path}, sidecarPaths(path)...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func sidecarPaths(path string) []string {
	out := make([]string, 0, len(sidecars))
	for _, s := range sidecars {
		out = append(out, path+s)
	}
	return out
}
