// Package connector defines the contract between the session registry and
// the chat network driver that backs each session.
package connector

import (
	"context"
	"fmt"
)

type EventType int

const (
	EventQR EventType = iota + 1
	EventAuthenticated
	EventReady
	EventMessage
	EventDisconnected
	EventAuthFailure
)

var eventTypeNames = map[EventType]string{
	EventQR:            "qr",
	EventAuthenticated: "authenticated",
	EventReady:         "ready",
	EventMessage:       "message",
	EventDisconnected:  "disconnected",
	EventAuthFailure:   "auth_failure",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// ParseEventType maps a wire name to its EventType.
func ParseEventType(name string) (EventType, error) {
	for t, n := range eventTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown connector event %q", name)
}

type InboundMessage struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// OutboundMessage is sent as text when Type is empty.
type OutboundMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
	Type string `json:"type,omitempty"`
}

// Event is a lifecycle or message notification from the network driver.
// Only the field matching Type is populated.
type Event struct {
	Type        EventType
	QR          []byte
	PhoneNumber string
	Message     *InboundMessage
	Reason      string
}

// Adapter drives one session's connection. Events are delivered in order on
// the channel returned by Events, which is closed when the adapter stops.
type Adapter interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Send(ctx context.Context, msg OutboundMessage) error
	Destroy(ctx context.Context) error
}

type Factory interface {
	NewAdapter(sessionID string) (Adapter, error)
}
