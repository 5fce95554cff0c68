// Package connectortest provides an in-memory connector for tests.
package connectortest

import (
	"context"
	"errors"
	"sync"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
)

// Adapter is a scripted connector.Adapter. Tests push events with Emit.
type Adapter struct {
	SessionID string

	mu         sync.Mutex
	events     chan connector.Event
	closed     bool
	connected  int
	destroyed  bool
	sent       []connector.OutboundMessage
	ConnectErr error
	SendErr    error
}

func NewAdapter(sessionID string) *Adapter {
	return &Adapter{
		SessionID: sessionID,
		events:    make(chan connector.Event, 64),
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected++
	return a.ConnectErr
}

func (a *Adapter) Events() <-chan connector.Event {
	return a.events
}

func (a *Adapter) Send(ctx context.Context, msg connector.OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		return a.SendErr
	}
	if a.closed {
		return errors.New("adapter closed")
	}
	a.sent = append(a.sent, msg)
	return nil
}

func (a *Adapter) Destroy(ctx context.Context) error {
	a.mu.Lock()
	a.destroyed = true
	a.mu.Unlock()
	a.Close()
	return nil
}

// Emit delivers evt unless the adapter has stopped.
func (a *Adapter) Emit(evt connector.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.events <- evt
}

// Close ends the event stream, simulating a crashed driver.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
}

func (a *Adapter) ConnectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

func (a *Adapter) Sent() []connector.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]connector.OutboundMessage(nil), a.sent...)
}

// Factory hands out Adapters and remembers every one it created, in order.
type Factory struct {
	mu       sync.Mutex
	adapters map[string][]*Adapter
	Err      error
	// Prepare, when set, runs on each new adapter before it is returned.
	Prepare func(*Adapter)
}

func NewFactory() *Factory {
	return &Factory{adapters: make(map[string][]*Adapter)}
}

func (f *Factory) NewAdapter(sessionID string) (connector.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	a := NewAdapter(sessionID)
	if f.Prepare != nil {
		f.Prepare(a)
	}
	f.adapters[sessionID] = append(f.adapters[sessionID], a)
	return a, nil
}

// Latest returns the most recent adapter for sessionID, or nil.
func (f *Factory) Latest(sessionID string) *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.adapters[sessionID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *Factory) Count(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters[sessionID])
}
