/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/ewebrtc/ewebrtc-go-sdk/eventchannel"
	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// mediaControl is the optional mute surface of a peer connection. The
// production MediaEngine implements it; a fake peer connection may not.
type mediaControl interface {
	Mute()
	Unmute()
	IsMuted() bool
}

// remoteTrackNotifier is the optional remote-media surface of a peer
// connection. Calls on an implementing connection report media establishment
// when the first far-end track arrives.
type remoteTrackNotifier interface {
	OnRemoteTrack(handler func(track *webrtc.TrackRemote))
}

// Call is the per-call state machine. All methods are intents: they validate
// the current state, perform signaling, and either transition or report an
// error without transitioning. Asynchronous server events flow in through
// handleEvent on the event channel's dispatch goroutine; the mutex serializes
// them against intents.
type Call struct {
	mu sync.Mutex

	// id is the server-assigned call id. Empty until the offer is
	// acknowledged (outgoing) or the invitation arrives (incoming).
	id string

	// correlationID identifies the call across logs before and after the
	// server assigns an id.
	correlationID string

	peer      string
	from      string
	direction CallDirection
	breed     CallBreed
	mediaType MediaType
	state     CallState

	// bufferedRemoteOffer holds an incoming invitation's SDP until the
	// call is answered.
	bufferedRemoteOffer string

	// modInFlight is set while a locally initiated hold or resume awaits
	// the far end's answer. A mod-received event arriving in that window
	// is that answer, not a competing modification.
	modInFlight bool

	negotiator *SdpNegotiator
	signaling  *SignalingClient
	channel    *eventchannel.Channel
	sessionID  string
	emitter    *EventEmitter
	logger     ewebrtcsdk.Logger

	subscribedTopics []string

	// onTerminal runs once when the call reaches a terminal state. The
	// session uses it to unwind its call stack.
	onTerminal func(c *Call)
}

// callParams carries everything a new call needs from its session.
type callParams struct {
	peer       string
	from       string
	direction  CallDirection
	breed      CallBreed
	mediaType  MediaType
	pc         PeerConnection
	signaling  *SignalingClient
	channel    *eventchannel.Channel
	sessionID  string
	emitter    *EventEmitter
	logger     ewebrtcsdk.Logger
	onTerminal func(c *Call)
}

func newCall(p callParams) *Call {
	state := CallStateDialing
	if p.direction == DirectionIncoming {
		state = CallStateRinging
	}

	c := &Call{
		correlationID: uuid.NewString(),
		peer:          p.peer,
		from:          p.from,
		direction:     p.direction,
		breed:         p.breed,
		mediaType:     p.mediaType,
		state:         state,
		negotiator:    NewSdpNegotiator(p.pc, p.logger),
		signaling:     p.signaling,
		channel:       p.channel,
		sessionID:     p.sessionID,
		emitter:       p.emitter,
		logger:        p.logger,
		onTerminal:    p.onTerminal,
	}

	if notifier, ok := p.pc.(remoteTrackNotifier); ok {
		notifier.OnRemoteTrack(func(track *webrtc.TrackRemote) {
			c.emitter.Emit(EventMediaEstablished, c)
		})
	}

	return c
}

// ID returns the server-assigned call id, empty before the server assigns one.
func (c *Call) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// CorrelationID returns the client-side id that identifies the call across
// its whole lifetime.
func (c *Call) CorrelationID() string {
	return c.correlationID
}

// State returns the current call state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the far-end address the call was placed to, or for an incoming
// call, received from.
func (c *Call) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.direction == DirectionIncoming {
		return c.from
	}
	return c.peer
}

// Direction reports who originated the call.
func (c *Call) Direction() CallDirection {
	return c.direction
}

// MediaType returns the media profile of the call.
func (c *Call) MediaType() MediaType {
	return c.mediaType
}

// IsMuted reports whether local media is muted.
func (c *Call) IsMuted() bool {
	if mc, ok := c.negotiator.pc.(mediaControl); ok {
		return mc.IsMuted()
	}
	return false
}

// setIncomingOffer buffers the invitation's SDP and the server call id. The
// session calls this once when it materializes an incoming call.
func (c *Call) setIncomingOffer(callID, sdp string) {
	c.mu.Lock()
	c.id = callID
	c.bufferedRemoteOffer = sdp
	c.mu.Unlock()
	c.subscribe(callID)
}

// subscribe binds the call's event topics to its handler.
func (c *Call) subscribe(callID string) {
	topics := []string{
		eventchannel.Topic(StateSessionOpen, callID),
		eventchannel.Topic(StateModReceived, callID),
		eventchannel.Topic(StateSessionTerminated, callID),
	}
	for _, topic := range topics {
		c.channel.On(topic, c.handleEvent)
	}

	c.mu.Lock()
	c.subscribedTopics = topics
	c.mu.Unlock()
}

// Connect drives the call to the connecting state. For an outgoing call it
// creates and sends the offer; for an incoming call it answers the buffered
// invitation. A negotiation failure is terminal (Failed); a signaling failure
// leaves the state unchanged so the caller may retry.
func (c *Call) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.direction {
	case DirectionOutgoing:
		return c.connectOutgoing(ctx)
	default:
		return c.connectIncoming(ctx)
	}
}

func (c *Call) connectOutgoing(ctx context.Context) error {
	if c.state != CallStateDialing {
		return ewebrtcsdk.NewPreconditionError("connect",
			fmt.Sprintf("cannot connect a call in state %q", c.state))
	}

	offer, err := c.negotiator.CreateOffer()
	if err != nil {
		c.finishLocked(CallStateFailed, EventError)
		return err
	}

	result, err := c.signaling.SendOffer(ctx, c.sessionID, c.peer, c.mediaType, offer)
	if err != nil {
		return err
	}

	c.id = result.CallID
	c.state = CallStateConnecting

	c.unlocked(func() {
		c.subscribe(result.CallID)
		c.emitter.Emit(EventCallConnecting, c)
	})
	return nil
}

func (c *Call) connectIncoming(ctx context.Context) error {
	if c.state != CallStateRinging {
		return ewebrtcsdk.NewPreconditionError("answer",
			fmt.Sprintf("cannot answer a call in state %q", c.state))
	}
	if c.bufferedRemoteOffer == "" {
		return ewebrtcsdk.NewPreconditionError("answer", "no buffered invitation to answer")
	}

	if err := c.negotiator.SetRemoteDescription(c.bufferedRemoteOffer, SDPOffer); err != nil {
		c.finishLocked(CallStateFailed, EventError)
		return err
	}

	answer, err := c.negotiator.CreateAnswer()
	if err != nil {
		c.finishLocked(CallStateFailed, EventError)
		return err
	}

	if err := c.signaling.SendAnswer(ctx, c.sessionID, c.id, answer); err != nil {
		return err
	}

	c.bufferedRemoteOffer = ""
	c.state = CallStateConnecting

	c.unlocked(func() {
		c.emitter.Emit(EventAnswering, c)
		c.emitter.Emit(EventCallConnecting, c)
	})
	return nil
}

// Hold pauses the call's media. Only a connected call can be held; a
// signaling failure leaves the call connected.
func (c *Call) Hold(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallStateConnected {
		return ewebrtcsdk.NewPreconditionError("hold",
			fmt.Sprintf("cannot hold a call in state %q", c.state))
	}

	sdp, err := c.negotiator.BeginModification(ModHold)
	if err != nil {
		return err
	}

	if err := c.signaling.SendHold(ctx, c.sessionID, c.id, sdp); err != nil {
		return err
	}

	c.modInFlight = true
	c.state = CallStateHeld
	c.unlocked(func() { c.emitter.Emit(EventCallHeld, c) })
	return nil
}

// Resume restores a held call's media. A signaling failure leaves the call
// held.
func (c *Call) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallStateHeld {
		return ewebrtcsdk.NewPreconditionError("resume",
			fmt.Sprintf("cannot resume a call in state %q", c.state))
	}

	sdp, err := c.negotiator.BeginModification(ModResume)
	if err != nil {
		return err
	}

	if err := c.signaling.SendResume(ctx, c.sessionID, c.id, sdp); err != nil {
		return err
	}

	c.modInFlight = true
	c.state = CallStateConnected
	c.unlocked(func() { c.emitter.Emit(EventCallResumed, c) })
	return nil
}

// Disconnect hangs up from any non-terminal state. A call that never
// connected takes the matching withdrawal path: a still-dialing or connecting
// outgoing call is canceled, a ringing incoming call is rejected. Local
// teardown completes even when the signaling request fails; the returned
// error reports that failure.
func (c *Call) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallStateRinging:
		return c.rejectLocked(ctx)
	case CallStateDialing:
		return c.cancelLocked(ctx)
	case CallStateConnecting:
		if c.direction == DirectionOutgoing {
			return c.cancelLocked(ctx)
		}
	case CallStateConnected, CallStateHeld:
	default:
		return ewebrtcsdk.NewPreconditionError("disconnect",
			fmt.Sprintf("cannot disconnect a call in state %q", c.state))
	}

	c.state = CallStateDisconnecting
	c.unlocked(func() { c.emitter.Emit(EventCallDisconnecting, c) })

	err := c.signaling.EndCall(ctx, c.sessionID, c.id)
	c.finishLocked(CallStateDisconnected, EventCallDisconnected)
	return err
}

// Cancel withdraws an outgoing call that has not connected yet.
func (c *Call) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.direction != DirectionOutgoing {
		return ewebrtcsdk.NewPreconditionError("cancel", "only an outgoing call can be canceled")
	}
	switch c.state {
	case CallStateDialing, CallStateConnecting:
	default:
		return ewebrtcsdk.NewPreconditionError("cancel",
			fmt.Sprintf("cannot cancel a call in state %q", c.state))
	}

	return c.cancelLocked(ctx)
}

// cancelLocked withdraws the invitation. With no server id yet, there is
// nothing on the wire to withdraw and teardown is purely local.
func (c *Call) cancelLocked(ctx context.Context) error {
	var err error
	if c.id != "" {
		err = c.signaling.CancelCall(ctx, c.sessionID, c.id)
	}
	c.finishLocked(CallStateCanceled, EventCallCanceled)
	return err
}

// Reject declines an incoming call that is still ringing.
func (c *Call) Reject(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.direction != DirectionIncoming {
		return ewebrtcsdk.NewPreconditionError("reject", "only an incoming call can be rejected")
	}
	if c.state != CallStateRinging {
		return ewebrtcsdk.NewPreconditionError("reject",
			fmt.Sprintf("cannot reject a call in state %q", c.state))
	}

	return c.rejectLocked(ctx)
}

func (c *Call) rejectLocked(ctx context.Context) error {
	err := c.signaling.RejectCall(ctx, c.sessionID, c.id)
	c.finishLocked(CallStateRejected, EventCallRejected)
	return err
}

// Mute silences local media. Purely local, no signaling.
func (c *Call) Mute() error {
	mc, ok := c.negotiator.pc.(mediaControl)
	if !ok {
		return ewebrtcsdk.NewMediaError("mute", "peer connection does not support mute", nil)
	}
	mc.Mute()
	c.emitter.Emit(EventCallMuted, c)
	return nil
}

// Unmute restores local media.
func (c *Call) Unmute() error {
	mc, ok := c.negotiator.pc.(mediaControl)
	if !ok {
		return ewebrtcsdk.NewMediaError("unmute", "peer connection does not support mute", nil)
	}
	mc.Unmute()
	c.emitter.Emit(EventCallUnmuted, c)
	return nil
}

// handleEvent applies one server event to the state machine. It runs on the
// event channel's dispatch goroutine; events for a terminal call are ignored.
func (c *Call) handleEvent(event *eventchannel.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		c.logger.Printf("call %s: ignoring %s in terminal state %s", c.correlationID, event.StateName, c.state)
		return
	}

	switch event.StateName {
	case StateSessionOpen:
		c.handleSessionOpen(event)
	case StateModReceived:
		c.handleModReceived(event)
	case StateSessionTerminated:
		c.finishLocked(CallStateDisconnected, EventCallDisconnected)
	default:
		c.logger.Printf("call %s: ignoring unknown event state %q", c.correlationID, event.StateName)
	}
}

// handleSessionOpen completes the connect handshake: the far end accepted.
func (c *Call) handleSessionOpen(event *eventchannel.Event) {
	if c.state != CallStateConnecting {
		c.logger.Printf("call %s: ignoring %s in state %s", c.correlationID, event.StateName, c.state)
		return
	}

	if c.direction == DirectionOutgoing && event.SDP != "" {
		if err := c.negotiator.SetRemoteDescription(event.SDP, SDPAnswer); err != nil {
			c.unlocked(func() { c.emitter.Emit(EventError, NewErrorEvent(err, c.id)) })
			c.finishLocked(CallStateFailed, EventError)
			return
		}
	}

	c.state = CallStateConnected
	c.unlocked(func() { c.emitter.Emit(EventCallConnected, c) })
}

// handleModReceived processes a far-end media modification. When a local
// modification is in flight, the incoming description is the far end's answer
// to it, not a competing modification; the local change wins and the event is
// consumed without a new accept round.
func (c *Call) handleModReceived(event *eventchannel.Event) {
	if c.modInFlight {
		c.modInFlight = false
		if event.SDP != "" {
			if err := c.negotiator.SetRemoteDescription(event.SDP, SDPAnswer); err != nil {
				c.logger.Printf("call %s: ignoring answer to local modification: %v", c.correlationID, err)
			}
		}
		return
	}

	answer, err := c.negotiator.AcceptRemoteModification(event.SDP, event.ModificationID)
	if err != nil {
		c.unlocked(func() { c.emitter.Emit(EventError, NewErrorEvent(err, c.id)) })
		return
	}

	opCtx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if err := c.signaling.AcceptModification(opCtx, c.sessionID, c.id, event.ModificationID, answer); err != nil {
		c.unlocked(func() { c.emitter.Emit(EventError, NewErrorEvent(err, c.id)) })
		return
	}

	held := event.Reason == "hold"
	if event.Reason == "" {
		switch directionOf(event.SDP) {
		case "recvonly", "sendonly", "inactive":
			held = true
		}
	}

	if held {
		c.state = CallStateHeld
		c.unlocked(func() { c.emitter.Emit(EventCallHeld, c) })
	} else if c.state == CallStateHeld {
		c.state = CallStateConnected
		c.unlocked(func() { c.emitter.Emit(EventCallResumed, c) })
	}
}

// finishLocked moves the call to a terminal state and releases everything the
// call holds. Callers must hold the mutex. Idempotent.
func (c *Call) finishLocked(state CallState, key EventKey) {
	if c.state.Terminal() {
		return
	}
	c.state = state

	topics := c.subscribedTopics
	c.subscribedTopics = nil

	c.unlocked(func() {
		for _, topic := range topics {
			c.channel.Off(topic)
		}
		if err := c.negotiator.Close(); err != nil {
			c.logger.Printf("call %s: closing peer connection: %v", c.correlationID, err)
		}
		if c.onTerminal != nil {
			c.onTerminal(c)
		}
		if key != EventError {
			c.emitter.Emit(key, c)
		}
	})
}

// unlocked runs fn with the call mutex released, so emitted handlers and the
// session's terminal callback may call back into the call.
func (c *Call) unlocked(fn func()) {
	c.mu.Unlock()
	defer c.mu.Lock()
	fn()
}
