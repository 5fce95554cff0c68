package model

type SessionState string

const (
	SessionStateInitializing  SessionState = "INITIALIZING"
	SessionStateQRPending     SessionState = "QR_PENDING"
	SessionStateAuthenticated SessionState = "AUTHENTICATED"
	SessionStateReady         SessionState = "READY"
	SessionStateDisconnected  SessionState = "DISCONNECTED"
	SessionStateError         SessionState = "ERROR"
	SessionStateDeleted       SessionState = "DELETED"
)

// AllSessionStates lists every state in lifecycle order.
var AllSessionStates = []SessionState{
	SessionStateInitializing,
	SessionStateQRPending,
	SessionStateAuthenticated,
	SessionStateReady,
	SessionStateDisconnected,
	SessionStateError,
	SessionStateDeleted,
}

func (s SessionState) IsTerminal() bool {
	return s == SessionStateDeleted
}

type WebhookEventType string

const (
	WebhookEventSessionReady        WebhookEventType = "session.ready"
	WebhookEventSessionDisconnected WebhookEventType = "session.disconnected"
	WebhookEventMessageReceived     WebhookEventType = "message.received"
	WebhookEventTest                WebhookEventType = "webhook.test"
)

// QualifyingEventTypes are the only event types a webhook may subscribe to.
var QualifyingEventTypes = []WebhookEventType{
	WebhookEventSessionReady,
	WebhookEventSessionDisconnected,
	WebhookEventMessageReceived,
	WebhookEventTest,
}

func (t WebhookEventType) IsQualifying() bool {
	for _, q := range QualifyingEventTypes {
		if t == q {
			return true
		}
	}
	return false
}

type WebhookEventStatus string

const (
	WebhookStatusPending   WebhookEventStatus = "pending"
	WebhookStatusDelivered WebhookEventStatus = "delivered"
	WebhookStatusFailed    WebhookEventStatus = "failed"
	WebhookStatusAbandoned WebhookEventStatus = "abandoned"
)

type MessageDirection string

const (
	MessageDirectionInbound  MessageDirection = "inbound"
	MessageDirectionOutbound MessageDirection = "outbound"
)

// Counter names a monotonic per-session counter.
type Counter string

const (
	CounterMessagesSent     Counter = "messages_sent"
	CounterMessagesReceived Counter = "messages_received"
	CounterErrors           Counter = "error_count"
)
