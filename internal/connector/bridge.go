package connector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventBufferSize = 64
	writeTimeout    = 10 * time.Second
)

var ErrAdapterClosed = errors.New("connector adapter closed")

// frame is the JSON envelope exchanged with the bridge process, in both
// directions. Commands set Op; events set Type.
type frame struct {
	Op          string           `json:"op,omitempty"`
	Type        string           `json:"type,omitempty"`
	QR          string           `json:"qr,omitempty"`
	PhoneNumber string           `json:"phoneNumber,omitempty"`
	Message     *InboundMessage  `json:"message,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Outbound    *OutboundMessage `json:"outbound,omitempty"`
}

// BridgeFactory creates adapters that talk to an external bridge process
// over one websocket per session at {baseURL}/sessions/{id}.
type BridgeFactory struct {
	baseURL string
	dialer  *websocket.Dialer
}

func NewBridgeFactory(baseURL string) *BridgeFactory {
	return &BridgeFactory{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  websocket.DefaultDialer,
	}
}

func (f *BridgeFactory) NewAdapter(sessionID string) (Adapter, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	return &bridgeAdapter{
		sessionID: sessionID,
		url:       f.baseURL + "/sessions/" + url.PathEscape(sessionID),
		dialer:    f.dialer,
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
	}, nil
}

type bridgeAdapter struct {
	sessionID string
	url       string
	dialer    *websocket.Dialer
	events    chan Event

	mu        sync.Mutex
	conn      *websocket.Conn
	destroyed bool
	done      chan struct{}
	closeOnce sync.Once
}

func (a *bridgeAdapter) Events() <-chan Event {
	return a.events
}

func (a *bridgeAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return ErrAdapterClosed
	}
	if a.conn != nil {
		a.mu.Unlock()
		return errors.New("connector already connected")
	}
	a.mu.Unlock()

	conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		a.finish()
		return fmt.Errorf("dial connector bridge: %w", err)
	}

	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		_ = conn.Close()
		return ErrAdapterClosed
	}
	a.conn = conn
	a.mu.Unlock()

	if err := a.write(frame{Op: "connect"}); err != nil {
		_ = conn.Close()
		a.finish()
		return fmt.Errorf("send connect command: %w", err)
	}

	go a.readLoop(conn)
	return nil
}

func (a *bridgeAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.write(frame{Op: "send", Outbound: &msg})
}

func (a *bridgeAdapter) Destroy(ctx context.Context) error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	a.destroyed = true
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		a.finish()
		return nil
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame{Op: "destroy"}); err != nil {
		log.Debug().Err(err).Str("sessionId", a.sessionID).Msg("connector destroy command failed")
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-a.done:
	case <-ctx.Done():
	}
	return conn.Close()
}

func (a *bridgeAdapter) write(f frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrAdapterClosed
	}
	if a.conn == nil {
		return errors.New("connector not connected")
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteJSON(f)
}

func (a *bridgeAdapter) readLoop(conn *websocket.Conn) {
	defer a.finish()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("sessionId", a.sessionID).Msg("connector bridge read ended")
			}
			return
		}

		evt, err := decodeFrame(f)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", a.sessionID).Msg("dropping malformed connector frame")
			continue
		}
		a.events <- evt
	}
}

func (a *bridgeAdapter) finish() {
	a.closeOnce.Do(func() {
		close(a.events)
		close(a.done)
	})
}

func decodeFrame(f frame) (Event, error) {
	t, err := ParseEventType(f.Type)
	if err != nil {
		return Event{}, err
	}

	evt := Event{Type: t}
	switch t {
	case EventQR:
		qr, err := base64.StdEncoding.DecodeString(f.QR)
		if err != nil {
			return Event{}, fmt.Errorf("decode qr: %w", err)
		}
		if len(qr) == 0 {
			return Event{}, errors.New("empty qr payload")
		}
		evt.QR = qr
	case EventReady:
		evt.PhoneNumber = f.PhoneNumber
	case EventMessage:
		if f.Message == nil {
			return Event{}, errors.New("message event without message")
		}
		evt.Message = f.Message
	case EventDisconnected, EventAuthFailure:
		evt.Reason = f.Reason
	}
	return evt, nil
}
