package service

import (
	"context"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

type NotificationKind int

const (
	NotifyTransition NotificationKind = iota + 1
	NotifyMessageReceived
	NotifyMessageSent
	NotifySendFailed
	NotifyDeleted
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyTransition:
		return "session.transition"
	case NotifyMessageReceived:
		return "message.received"
	case NotifyMessageSent:
		return "message.sent"
	case NotifySendFailed:
		return "message.failed"
	case NotifyDeleted:
		return "session.deleted"
	default:
		return "unknown"
	}
}

// Notification describes something that happened to a session. Session is a
// snapshot taken while the change was applied.
type Notification struct {
	Kind     NotificationKind
	Session  model.Session
	From     model.SessionState
	To       model.SessionState
	Inbound  *connector.InboundMessage
	Outbound *connector.OutboundMessage
	Reason   string
}

// Observer receives session notifications. Notifications for one session are
// delivered in the order they were applied. Notify must not block for long.
type Observer interface {
	Notify(ctx context.Context, n Notification)
}
