package service

import (
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

// sessionTransitions maps an adapter event and the current state to the next
// state. Pairs that are absent are ignored.
var sessionTransitions = map[connector.EventType]map[model.SessionState]model.SessionState{
	connector.EventQR: {
		model.SessionStateInitializing: model.SessionStateQRPending,
		model.SessionStateQRPending:    model.SessionStateQRPending,
	},
	connector.EventAuthenticated: {
		model.SessionStateInitializing: model.SessionStateAuthenticated,
		model.SessionStateQRPending:    model.SessionStateAuthenticated,
	},
	connector.EventReady: {
		model.SessionStateInitializing:  model.SessionStateReady,
		model.SessionStateQRPending:     model.SessionStateReady,
		model.SessionStateAuthenticated: model.SessionStateReady,
	},
	// ERROR has no disconnected edge: only Restart leaves it.
	connector.EventDisconnected: {
		model.SessionStateInitializing:  model.SessionStateDisconnected,
		model.SessionStateQRPending:     model.SessionStateDisconnected,
		model.SessionStateAuthenticated: model.SessionStateDisconnected,
		model.SessionStateReady:         model.SessionStateDisconnected,
	},
	connector.EventAuthFailure: {
		model.SessionStateInitializing:  model.SessionStateError,
		model.SessionStateQRPending:     model.SessionStateError,
		model.SessionStateAuthenticated: model.SessionStateError,
	},
}

func nextSessionState(from model.SessionState, evt connector.EventType) (model.SessionState, bool) {
	to, ok := sessionTransitions[evt][from]
	return to, ok
}
