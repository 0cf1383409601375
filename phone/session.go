/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"context"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/ewebrtc/ewebrtc-go-sdk/eventchannel"
	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// tokenSignatureAlgorithms are the signature algorithms accepted when reading
// the expiry claim out of an access token. The token is never verified here;
// the server is the authority, the claim only schedules the refresh.
var tokenSignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.HS256, jose.HS384, jose.HS512,
}

// pcFactory builds a peer connection for one call. Tests substitute fakes.
type pcFactory func(mediaType MediaType) (PeerConnection, error)

// Session owns one signaling session and the calls inside it. At most one
// call is current; earlier calls sit on a held stack in hold order. The
// current call is never on the held stack.
type Session struct {
	core      *ewebrtcsdk.Client
	signaling *SignalingClient
	config    *Config
	emitter   *EventEmitter
	logger    ewebrtcsdk.Logger
	newPC     pcFactory

	mu           sync.Mutex
	state        SessionState
	id           string
	e911ID       string
	expiresAt    time.Time
	channel      *eventchannel.Channel
	currentCall  *Call
	heldCalls    []*Call
	incomingCall *Call
	refreshStop  chan struct{}
}

// NewSession creates a session on the core transport. It does nothing on the
// network until Connect.
func NewSession(core *ewebrtcsdk.Client, config *Config, emitter *EventEmitter) *Session {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Session{
		core:      core,
		signaling: NewSignalingClient(core),
		config:    config,
		emitter:   emitter,
		logger:    core.GetLogger(),
		state:     SessionStateUnconnected,
	}
	s.newPC = s.defaultPeerConnection
	return s
}

func (s *Session) defaultPeerConnection(mediaType MediaType) (PeerConnection, error) {
	engine, err := NewMediaEngine(s.config.Media, mediaType)
	if err != nil {
		return nil, ewebrtcsdk.NewMediaError("create-peer-connection", "creating media engine", err)
	}
	if _, err := engine.AddAudioTrack(); err != nil {
		_ = engine.Close()
		return nil, ewebrtcsdk.NewMediaError("create-peer-connection", "adding audio track", err)
	}
	return engine, nil
}

// State returns the session lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the server-assigned session id, empty when not connected.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// CurrentCall returns the active call, nil when there is none.
func (s *Session) CurrentCall() *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCall
}

// HeldCalls returns the held calls in hold order, oldest first.
func (s *Session) HeldCalls() []*Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Call, len(s.heldCalls))
	copy(out, s.heldCalls)
	return out
}

// IncomingCall returns the ringing incoming call awaiting an answer or
// reject, nil when there is none.
func (s *Session) IncomingCall() *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incomingCall
}

// Connect establishes the signaling session and starts the event channel.
// Connecting an already-connected session is refused, never silently merged.
func (s *Session) Connect(ctx context.Context, e911ID string) error {
	s.mu.Lock()
	if s.state != SessionStateUnconnected {
		s.mu.Unlock()
		return ewebrtcsdk.NewDuplicateSessionError("session already connected")
	}
	s.state = SessionStateConnecting
	s.e911ID = e911ID
	s.mu.Unlock()

	info, err := s.signaling.CreateSession(ctx, e911ID)
	if err != nil {
		s.mu.Lock()
		s.state = SessionStateUnconnected
		s.mu.Unlock()
		return err
	}

	ttl := info.ExpiresIn
	if ttl == 0 {
		ttl = s.tokenLifetime()
	}
	if ttl == 0 {
		ttl = s.config.DefaultSessionTTL
	}

	channel := eventchannel.New(s.core, s.config.Channel)
	channel.On(eventchannel.TopicWildcard, s.handleSessionEvent)

	if err := channel.Start(info.ID); err != nil {
		_ = s.signaling.DeleteSession(ctx, info.ID)
		s.mu.Lock()
		s.state = SessionStateUnconnected
		s.mu.Unlock()
		return ewebrtcsdk.NewChannelError("starting event channel", err)
	}

	stop := make(chan struct{})

	s.mu.Lock()
	s.id = info.ID
	s.expiresAt = time.Now().Add(ttl)
	s.channel = channel
	s.refreshStop = stop
	s.state = SessionStateReady
	s.mu.Unlock()

	go s.refreshLoop(info.ID, stop)

	s.emitter.Emit(EventSessionReady, s)
	return nil
}

// tokenLifetime reads the expiry claim from the access token without
// verifying it. Zero when the token is opaque or carries no expiry.
func (s *Session) tokenLifetime() time.Duration {
	token, err := jwt.ParseSigned(s.core.GetAccessToken(), tokenSignatureAlgorithms)
	if err != nil {
		return 0
	}
	var claims jwt.Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return 0
	}
	if claims.Expiry == nil {
		return 0
	}
	ttl := time.Until(claims.Expiry.Time())
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// refreshLoop keeps the session alive, firing RefreshMargin before expiry.
// The loop exits when the stop channel closes.
func (s *Session) refreshLoop(sessionID string, stop chan struct{}) {
	for {
		s.mu.Lock()
		wait := time.Until(s.expiresAt) - s.config.RefreshMargin
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.OperationTimeout)
		ttl, err := s.signaling.RefreshSession(ctx, sessionID)
		cancel()

		if err != nil {
			s.logger.Printf("session %s: refresh failed, retrying: %v", sessionID, err)
			select {
			case <-stop:
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}

		if ttl == 0 {
			ttl = s.config.DefaultSessionTTL
		}
		s.mu.Lock()
		s.expiresAt = time.Now().Add(ttl)
		s.mu.Unlock()
	}
}

// Disconnect tears the session down: every live call is ended best-effort,
// the event channel is stopped so nothing is published afterwards, and the
// server session is deleted. The session returns to unconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return ewebrtcsdk.NewPreconditionError("logout", "no connected session")
	}
	s.state = SessionStateDisconnecting
	sessionID := s.id
	channel := s.channel
	stop := s.refreshStop
	calls := make([]*Call, 0, len(s.heldCalls)+2)
	if s.incomingCall != nil {
		calls = append(calls, s.incomingCall)
	}
	if s.currentCall != nil {
		calls = append(calls, s.currentCall)
	}
	calls = append(calls, s.heldCalls...)
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	for _, call := range calls {
		s.endCall(ctx, call)
	}

	// Stop before deleting the session so no terminated events race the
	// teardown. Stop returns only after in-flight dispatches drain.
	channel.Stop()

	err := s.signaling.DeleteSession(ctx, sessionID)
	if err != nil {
		s.logger.Printf("session %s: delete failed: %v", sessionID, err)
	}

	s.mu.Lock()
	s.id = ""
	s.channel = nil
	s.refreshStop = nil
	s.currentCall = nil
	s.heldCalls = nil
	s.incomingCall = nil
	s.state = SessionStateUnconnected
	s.mu.Unlock()

	s.emitter.Emit(EventSessionDisconnected, s)
	return err
}

// endCall force-ends one call during teardown. Disconnect picks the right
// withdrawal path for calls that never connected.
func (s *Session) endCall(ctx context.Context, call *Call) {
	if call.State().Terminal() {
		return
	}
	if err := call.Disconnect(ctx); err != nil {
		s.logger.Printf("session %s: ending call %s: %v", s.ID(), call.CorrelationID(), err)
	}
}

// Dial places an outgoing call and makes it current. The session must be
// ready and idle; with a call already active, use AddCall.
func (s *Session) Dial(ctx context.Context, peer string, mediaType MediaType) (*Call, error) {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return nil, ewebrtcsdk.NewPreconditionError("dial", "no connected session")
	}
	if s.currentCall != nil {
		s.mu.Unlock()
		return nil, ewebrtcsdk.NewPreconditionError("dial", "a call is already active")
	}
	s.mu.Unlock()

	call, err := s.createCall(peer, mediaType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.currentCall = call
	s.mu.Unlock()

	s.emitter.Emit(EventDialing, call)

	if err := call.Connect(ctx); err != nil {
		if call.State().Terminal() {
			// onCallTerminal already unwound the stack.
			return nil, err
		}
		return call, err
	}
	return call, nil
}

func (s *Session) createCall(peer string, mediaType MediaType) (*Call, error) {
	pc, err := s.newPC(mediaType)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sessionID := s.id
	channel := s.channel
	s.mu.Unlock()

	return newCall(callParams{
		peer:       peer,
		direction:  DirectionOutgoing,
		breed:      BreedCall,
		mediaType:  mediaType,
		pc:         pc,
		signaling:  s.signaling,
		channel:    channel,
		sessionID:  sessionID,
		emitter:    s.emitter,
		logger:     s.logger,
		onTerminal: s.onCallTerminal,
	}), nil
}

// AddCall holds the current call and dials a second one. The hold must
// succeed before anything changes; when the new call fails to go out, the
// held call is resumed and restored as current.
func (s *Session) AddCall(ctx context.Context, peer string, mediaType MediaType) (*Call, error) {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return nil, ewebrtcsdk.NewPreconditionError("add-call", "no connected session")
	}
	current := s.currentCall
	s.mu.Unlock()

	if current == nil {
		return s.Dial(ctx, peer, mediaType)
	}

	if err := current.Hold(ctx); err != nil {
		return nil, err
	}

	call, err := s.createCall(peer, mediaType)
	if err != nil {
		s.resumeHeld(ctx, current)
		return nil, err
	}

	s.mu.Lock()
	s.heldCalls = append(s.heldCalls, current)
	s.currentCall = call
	s.mu.Unlock()

	s.emitter.Emit(EventDialing, call)

	if err := call.Connect(ctx); err != nil {
		if call.State().Terminal() {
			// onCallTerminal already restored and resumed the held call.
			return nil, err
		}
		return call, err
	}
	return call, nil
}

func (s *Session) resumeHeld(ctx context.Context, call *Call) {
	if call.State() != CallStateHeld {
		return
	}
	if err := call.Resume(ctx); err != nil {
		s.logger.Printf("session %s: resuming held call %s: %v", s.ID(), call.CorrelationID(), err)
	}
}

// Answer connects the ringing incoming call and makes it current. With a
// call already active, the active call is held first.
func (s *Session) Answer(ctx context.Context) (*Call, error) {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return nil, ewebrtcsdk.NewPreconditionError("answer", "no connected session")
	}
	incoming := s.incomingCall
	current := s.currentCall
	s.mu.Unlock()

	if incoming == nil {
		return nil, ewebrtcsdk.NewPreconditionError("answer", "no incoming call")
	}

	if current != nil {
		if err := current.Hold(ctx); err != nil {
			return nil, err
		}
	}

	if err := incoming.Connect(ctx); err != nil {
		if current != nil {
			s.resumeHeld(ctx, current)
		}
		return nil, err
	}

	s.mu.Lock()
	if current != nil {
		s.heldCalls = append(s.heldCalls, current)
	}
	s.currentCall = incoming
	s.incomingCall = nil
	s.mu.Unlock()

	return incoming, nil
}

// Reject declines the ringing incoming call.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	incoming := s.incomingCall
	s.mu.Unlock()

	if incoming == nil {
		return ewebrtcsdk.NewPreconditionError("reject", "no incoming call")
	}
	return incoming.Reject(ctx)
}

// UpdateE911ID re-binds the session to a new emergency address id.
func (s *Session) UpdateE911ID(ctx context.Context, e911ID string) error {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return ewebrtcsdk.NewPreconditionError("update-e911", "no connected session")
	}
	sessionID := s.id
	s.mu.Unlock()

	if err := s.signaling.UpdateE911(ctx, sessionID, e911ID); err != nil {
		return err
	}

	s.mu.Lock()
	s.e911ID = e911ID
	s.mu.Unlock()
	return nil
}

// onCallTerminal unwinds the call stack when a call ends: a terminal current
// call is replaced by the most recently held call, which is resumed once.
func (s *Session) onCallTerminal(call *Call) {
	s.mu.Lock()

	if s.incomingCall == call {
		s.incomingCall = nil
		s.mu.Unlock()
		return
	}

	if s.currentCall != call {
		// A held call ended remotely; drop it from the stack.
		for i, held := range s.heldCalls {
			if held == call {
				s.heldCalls = append(s.heldCalls[:i], s.heldCalls[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return
	}

	s.currentCall = nil
	var next *Call
	if n := len(s.heldCalls); n > 0 {
		next = s.heldCalls[n-1]
		s.heldCalls = s.heldCalls[:n-1]
		s.currentCall = next
	}
	disconnecting := s.state == SessionStateDisconnecting
	s.mu.Unlock()

	if next != nil && !disconnecting {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.OperationTimeout)
		defer cancel()
		s.resumeHeld(ctx, next)
	}
}

// handleSessionEvent observes every channel event and acts on the ones no
// call owns: new invitations and channel failures.
func (s *Session) handleSessionEvent(event *eventchannel.Event) {
	switch event.StateName {
	case eventchannel.StateChannelError:
		err := ewebrtcsdk.NewChannelError("event channel failed: "+event.Reason, nil)
		s.emitter.Emit(EventError, NewErrorEvent(err, ""))
	case StateInvitationReceived:
		s.handleInvitation(event)
	}
}

// handleInvitation materializes a ringing incoming call from an invitation.
// A second invitation while one is already ringing is rejected outright.
func (s *Session) handleInvitation(event *eventchannel.Event) {
	s.mu.Lock()
	if s.state != SessionStateReady {
		s.mu.Unlock()
		return
	}
	busy := s.incomingCall != nil
	sessionID := s.id
	channel := s.channel
	s.mu.Unlock()

	if busy {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.OperationTimeout)
		defer cancel()
		if err := s.signaling.RejectCall(ctx, sessionID, event.ResourceID); err != nil {
			s.logger.Printf("session %s: rejecting second invitation %s: %v", sessionID, event.ResourceID, err)
		}
		return
	}

	mediaType := MediaAudio
	pc, err := s.newPC(mediaType)
	if err != nil {
		s.emitter.Emit(EventError, NewErrorEvent(err, event.ResourceID))
		return
	}

	call := newCall(callParams{
		from:       event.From,
		direction:  DirectionIncoming,
		breed:      BreedCall,
		mediaType:  mediaType,
		pc:         pc,
		signaling:  s.signaling,
		channel:    channel,
		sessionID:  sessionID,
		emitter:    s.emitter,
		logger:     s.logger,
		onTerminal: s.onCallTerminal,
	})
	call.setIncomingOffer(event.ResourceID, event.SDP)

	s.mu.Lock()
	s.incomingCall = call
	s.mu.Unlock()

	s.emitter.Emit(EventCallIncoming, call)
}
