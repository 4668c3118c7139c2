package connection

import (
	"errors"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	// ErrLoggedOut is terminal: the session was revoked and must be paired again.
	ErrLoggedOut        = errors.New("whatsapp session logged out")
	ErrNotConnected     = errors.New("whatsapp socket is not connected")
	ErrHandshakeTimeout = errors.New("whatsapp handshake timed out")
	ErrDisconnected     = errors.New("whatsapp socket disconnected")
	ErrStreamReplaced   = errors.New("whatsapp session opened elsewhere")
)
