/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"sync"

	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// ---- Call State & Event Enums ----

// CallState represents the state of a call in the state machine
type CallState string

const (
	CallStateDialing       CallState = "dialing"
	CallStateRinging       CallState = "ringing"
	CallStateConnecting    CallState = "connecting"
	CallStateConnected     CallState = "connected"
	CallStateHeld          CallState = "held"
	CallStateDisconnecting CallState = "disconnecting"
	CallStateDisconnected  CallState = "disconnected"
	CallStateCanceled      CallState = "canceled"
	CallStateRejected      CallState = "rejected"
	CallStateFailed        CallState = "failed"
)

// Terminal reports whether the state accepts no further transitions.
func (s CallState) Terminal() bool {
	switch s {
	case CallStateDisconnected, CallStateCanceled, CallStateRejected, CallStateFailed:
		return true
	}
	return false
}

// CallDirection indicates who originated the call
type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

// CallBreed distinguishes point-to-point calls from conferences
type CallBreed string

const (
	BreedCall       CallBreed = "call"
	BreedConference CallBreed = "conference"
)

// MediaType is the media profile of a call
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// SessionState represents the lifecycle state of a signaling session
type SessionState string

const (
	SessionStateUnconnected   SessionState = "unconnected"
	SessionStateConnecting    SessionState = "connecting"
	SessionStateReady         SessionState = "ready"
	SessionStateDisconnecting SessionState = "disconnecting"
)

// ModKind selects the direction of an SDP modification
type ModKind string

const (
	ModHold   ModKind = "hold"
	ModResume ModKind = "resume"
)

// ---- Server event state names ----

// State names carried by event-channel events. Together with the resource id
// they form the dispatch topic (see eventchannel.Topic).
const (
	StateInvitationReceived = "invitation-received"
	StateSessionOpen        = "session-open"
	StateModReceived        = "mod-received"
	StateSessionTerminated  = "session-terminated"
)

// ServerStateInvitationSent is the marker the signaling server must return
// from a send-offer operation; anything else is a protocol error.
const ServerStateInvitationSent = "invitation-sent"

// ---- Public event vocabulary ----

// EventKey identifies a public SDK event
type EventKey string

const (
	EventSessionReady        EventKey = "session-ready"
	EventSessionDisconnected EventKey = "session-disconnected"
	EventDialing             EventKey = "dialing"
	EventAnswering           EventKey = "answering"
	EventCallConnecting      EventKey = "call-connecting"
	EventCallConnected       EventKey = "call-connected"
	EventCallHeld            EventKey = "call-held"
	EventCallResumed         EventKey = "call-resumed"
	EventCallCanceled        EventKey = "call-canceled"
	EventCallRejected        EventKey = "call-rejected"
	EventCallDisconnecting   EventKey = "call-disconnecting"
	EventCallDisconnected    EventKey = "call-disconnected"
	EventMediaEstablished    EventKey = "media-established"
	EventCallMuted           EventKey = "call-muted"
	EventCallUnmuted         EventKey = "call-unmuted"
	EventCallIncoming        EventKey = "call-incoming"
	EventError               EventKey = "error"
)

// ErrorEvent is the payload of every EventError emission. Code and Operation
// are stable; callers never need to inspect raw transport status codes.
type ErrorEvent struct {
	Code      ewebrtcsdk.ErrorCode
	Operation string
	CallID    string
	Message   string
	Err       error
}

// NewErrorEvent builds an ErrorEvent from any SDK error.
func NewErrorEvent(err error, callID string) *ErrorEvent {
	return &ErrorEvent{
		Code:      ewebrtcsdk.CodeOf(err),
		Operation: ewebrtcsdk.OperationOf(err),
		CallID:    callID,
		Message:   err.Error(),
		Err:       err,
	}
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventKey][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[EventKey][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event EventKey, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event EventKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event EventKey, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
