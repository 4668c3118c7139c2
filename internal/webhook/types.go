package webhook

import (
	"context"
	"time"
)

type EventType string

const (
	EventConnectionOpen      EventType = "connection.open"
	EventConnectionClosed    EventType = "connection.closed"
	EventConnectionLoggedOut EventType = "connection.logged_out"
	EventReconnectAlert      EventType = "connection.reconnect_alert"
	EventCommandFailed       EventType = "command.failed"
	EventMessageDeleted      EventType = "message.deleted"
)

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

type Event struct {
	ID        string                 `json:"id"`
	EventType EventType              `json:"event_type"`
	Bot       string                 `json:"bot"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Emitter receives bot events. Implementations must not block the caller.
type Emitter interface {
	Emit(ctx context.Context, eventType EventType, data map[string]interface{})
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, EventType, map[string]interface{}) {}

// Nop discards every event.
var Nop Emitter = nopEmitter{}
