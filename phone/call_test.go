/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ewebrtc/ewebrtc-go-sdk/eventchannel"
	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// signalingRecorder is a scriptable signaling server that records every call
// action it sees.
type signalingRecorder struct {
	mu      sync.Mutex
	actions []string
	reasons []string
	fail    map[string]int // method -> status override
}

func (rec *signalingRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		if action := r.Header.Get("x-calls-action"); action != "" {
			rec.actions = append(rec.actions, action)
		}
		if reason := r.Header.Get("x-delete-reason"); reason != "" {
			rec.reasons = append(rec.reasons, reason)
		}
		status, overridden := rec.fail[r.Method]
		rec.mu.Unlock()

		if overridden {
			w.WriteHeader(status)
			return
		}

		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/calls"):
			w.Header().Set("Location", r.URL.Path+"/call-1")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"state": "invitation-sent"}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func (rec *signalingRecorder) sawAction(action string) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, a := range rec.actions {
		if a == action {
			return true
		}
	}
	return false
}

func (rec *signalingRecorder) sawReason(reason string) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, r := range rec.reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// eventRecorder captures emitted public events in order.
type eventRecorder struct {
	mu   sync.Mutex
	keys []EventKey
}

func (rec *eventRecorder) watch(emitter *EventEmitter, keys ...EventKey) {
	for _, key := range keys {
		key := key
		emitter.On(key, func(data interface{}) {
			rec.mu.Lock()
			rec.keys = append(rec.keys, key)
			rec.mu.Unlock()
		})
	}
}

func (rec *eventRecorder) saw(key EventKey) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, k := range rec.keys {
		if k == key {
			return true
		}
	}
	return false
}

type callFixture struct {
	call    *Call
	pc      *fakePC
	channel *eventchannel.Channel
	rec     *signalingRecorder
	events  *eventRecorder
	emitter *EventEmitter
	server  *httptest.Server
}

func newCallFixture(t *testing.T, direction CallDirection) *callFixture {
	t.Helper()

	rec := &signalingRecorder{fail: map[string]int{}}
	server := httptest.NewServer(rec.handler())
	t.Cleanup(server.Close)

	config := ewebrtcsdk.DefaultConfig()
	config.BaseURL = server.URL
	core, err := ewebrtcsdk.NewClient("test-token", config)
	if err != nil {
		t.Fatalf("Failed to create core client: %v", err)
	}

	channel := eventchannel.New(core, nil)
	emitter := NewEventEmitter()
	events := &eventRecorder{}
	events.watch(emitter,
		EventCallConnecting, EventCallConnected, EventCallHeld, EventCallResumed,
		EventCallDisconnecting, EventCallDisconnected, EventCallCanceled,
		EventCallRejected, EventAnswering, EventCallMuted, EventCallUnmuted,
		EventMediaEstablished, EventError)

	pc := &fakePC{
		offerSDP:  testSDP(1, "sendrecv"),
		answerSDP: testSDP(2, "sendrecv"),
	}

	call := newCall(callParams{
		peer:      "sip:bob@example.com",
		from:      "sip:alice@example.com",
		direction: direction,
		breed:     BreedCall,
		mediaType: MediaAudio,
		pc:        pc,
		signaling: NewSignalingClient(core),
		channel:   channel,
		sessionID: "s1",
		emitter:   emitter,
		logger:    log.Default(),
	})

	return &callFixture{
		call: call, pc: pc, channel: channel, rec: rec,
		events: events, emitter: emitter, server: server,
	}
}

// connect drives an outgoing fixture call to the connected state.
func (f *callFixture) connect(t *testing.T) {
	t.Helper()
	if err := f.call.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	f.channel.Publish(&eventchannel.Event{
		ResourceType: eventchannel.ResourceCall,
		ResourceID:   f.call.ID(),
		StateName:    StateSessionOpen,
		SDP:          testSDP(2, "sendrecv"),
	})
	if got := f.call.State(); got != CallStateConnected {
		t.Fatalf("Expected state %q after session-open, got %q", CallStateConnected, got)
	}
}

func TestCallConnectOutgoing(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)

	if got := f.call.State(); got != CallStateDialing {
		t.Fatalf("Expected initial state %q, got %q", CallStateDialing, got)
	}

	if err := f.call.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := f.call.State(); got != CallStateConnecting {
		t.Errorf("Expected state %q, got %q", CallStateConnecting, got)
	}
	if got := f.call.ID(); got != "call-1" {
		t.Errorf("Expected server call id 'call-1', got %q", got)
	}
	if !f.events.saw(EventCallConnecting) {
		t.Error("Expected a call-connecting event")
	}

	f.channel.Publish(&eventchannel.Event{
		ResourceType: eventchannel.ResourceCall,
		ResourceID:   "call-1",
		StateName:    StateSessionOpen,
		SDP:          testSDP(2, "sendrecv"),
	})

	if got := f.call.State(); got != CallStateConnected {
		t.Errorf("Expected state %q, got %q", CallStateConnected, got)
	}
	if !f.events.saw(EventCallConnected) {
		t.Error("Expected a call-connected event")
	}
	if got := f.call.negotiator.RemoteDescription(); got == "" {
		t.Error("Expected the answer applied as the remote description")
	}
}

func TestCallConnectTwice(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	if err := f.call.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := f.call.Connect(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError on a second Connect, got %v", err)
	}
}

func TestCallConnectNegotiationFailure(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.pc.offerErr = errors.New("no codecs")

	err := f.call.Connect(context.Background())
	if !ewebrtcsdk.IsNegotiation(err) {
		t.Fatalf("Expected a NegotiationError, got %v", err)
	}
	if got := f.call.State(); got != CallStateFailed {
		t.Errorf("Expected state %q, got %q", CallStateFailed, got)
	}
	if !f.pc.isClosed() {
		t.Error("Expected the peer connection closed on failure")
	}
}

func TestCallConnectTransportFailureKeepsDialing(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.rec.fail[http.MethodPost] = http.StatusServiceUnavailable

	err := f.call.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if got := f.call.State(); got != CallStateDialing {
		t.Errorf("Expected the call to stay %q for retry, got %q", CallStateDialing, got)
	}
}

func TestCallAnswerIncoming(t *testing.T) {
	f := newCallFixture(t, DirectionIncoming)

	if got := f.call.State(); got != CallStateRinging {
		t.Fatalf("Expected initial state %q, got %q", CallStateRinging, got)
	}

	f.call.setIncomingOffer("call-7", testSDP(1, "sendrecv"))

	if err := f.call.Connect(context.Background()); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if got := f.call.State(); got != CallStateConnecting {
		t.Errorf("Expected state %q, got %q", CallStateConnecting, got)
	}
	if !f.rec.sawAction("call-answer") {
		t.Error("Expected a call-answer action on the wire")
	}
	if !f.events.saw(EventAnswering) {
		t.Error("Expected an answering event")
	}

	f.channel.Publish(&eventchannel.Event{
		ResourceType: eventchannel.ResourceCall,
		ResourceID:   "call-7",
		StateName:    StateSessionOpen,
	})
	if got := f.call.State(); got != CallStateConnected {
		t.Errorf("Expected state %q, got %q", CallStateConnected, got)
	}
}

func TestCallAnswerWithoutOffer(t *testing.T) {
	f := newCallFixture(t, DirectionIncoming)
	if err := f.call.Connect(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError without a buffered offer, got %v", err)
	}
}

func TestCallHoldResume(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	if err := f.call.Hold(context.Background()); err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if got := f.call.State(); got != CallStateHeld {
		t.Errorf("Expected state %q, got %q", CallStateHeld, got)
	}
	if !f.rec.sawAction("initiate-call-hold") {
		t.Error("Expected an initiate-call-hold action on the wire")
	}
	if !f.events.saw(EventCallHeld) {
		t.Error("Expected a call-held event")
	}

	// The far end's answer to our hold arrives as a modification event. It
	// must be consumed as an answer, not re-negotiated.
	f.channel.Publish(&eventchannel.Event{
		ResourceType: eventchannel.ResourceCall,
		ResourceID:   f.call.ID(),
		StateName:    StateModReceived,
		SDP:          testSDP(3, "sendonly"),
	})
	if f.rec.sawAction("accept-mods") {
		t.Error("Expected no accept-mods round for the answer to a local hold")
	}
	if got := f.call.State(); got != CallStateHeld {
		t.Errorf("Expected the call to stay %q, got %q", CallStateHeld, got)
	}

	if err := f.call.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := f.call.State(); got != CallStateConnected {
		t.Errorf("Expected state %q, got %q", CallStateConnected, got)
	}
	if !f.rec.sawAction("initiate-call-resume") {
		t.Error("Expected an initiate-call-resume action on the wire")
	}
	if !f.events.saw(EventCallResumed) {
		t.Error("Expected a call-resumed event")
	}
}

func TestCallHoldInvalidState(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)

	if err := f.call.Hold(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError holding a dialing call, got %v", err)
	}
	if got := f.call.State(); got != CallStateDialing {
		t.Errorf("Expected the state unchanged, got %q", got)
	}
	if err := f.call.Resume(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError resuming a dialing call, got %v", err)
	}
}

func TestCallHoldTransportFailureStaysConnected(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	f.rec.fail[http.MethodPut] = http.StatusServiceUnavailable
	if err := f.call.Hold(context.Background()); err == nil {
		t.Fatal("Expected an error, got nil")
	}
	if got := f.call.State(); got != CallStateConnected {
		t.Errorf("Expected the call to stay %q, got %q", CallStateConnected, got)
	}
}

func TestCallRemoteModification(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	f.channel.Publish(&eventchannel.Event{
		ResourceType:   eventchannel.ResourceCall,
		ResourceID:     f.call.ID(),
		StateName:      StateModReceived,
		SDP:            testSDP(5, "recvonly"),
		ModificationID: "mod-1",
		Reason:         "hold",
	})

	if !f.rec.sawAction("accept-mods") {
		t.Error("Expected an accept-mods action on the wire")
	}
	if got := f.call.State(); got != CallStateHeld {
		t.Errorf("Expected state %q after a remote hold, got %q", CallStateHeld, got)
	}
	if got := f.call.negotiator.ModificationID(); got != "mod-1" {
		t.Errorf("Expected modification id 'mod-1', got %q", got)
	}

	f.channel.Publish(&eventchannel.Event{
		ResourceType:   eventchannel.ResourceCall,
		ResourceID:     f.call.ID(),
		StateName:      StateModReceived,
		SDP:            testSDP(6, "sendrecv"),
		ModificationID: "mod-2",
	})

	if got := f.call.State(); got != CallStateConnected {
		t.Errorf("Expected state %q after a remote resume, got %q", CallStateConnected, got)
	}
	if !f.events.saw(EventCallResumed) {
		t.Error("Expected a call-resumed event")
	}
}

func TestCallStaleRemoteModification(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	f.channel.Publish(&eventchannel.Event{
		ResourceType:   eventchannel.ResourceCall,
		ResourceID:     f.call.ID(),
		StateName:      StateModReceived,
		SDP:            testSDP(1, "recvonly"),
		ModificationID: "mod-stale",
	})

	if f.rec.sawAction("accept-mods") {
		t.Error("Expected no accept-mods round for a stale modification")
	}
	if got := f.call.State(); got != CallStateConnected {
		t.Errorf("Expected the state unchanged after a stale modification, got %q", got)
	}
	if !f.events.saw(EventError) {
		t.Error("Expected an error event for the stale modification")
	}
}

func TestCallDisconnect(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	if err := f.call.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := f.call.State(); got != CallStateDisconnected {
		t.Errorf("Expected state %q, got %q", CallStateDisconnected, got)
	}
	if !f.rec.sawReason("terminate") {
		t.Error("Expected a terminate delete on the wire")
	}
	if !f.pc.isClosed() {
		t.Error("Expected the peer connection closed")
	}
	if !f.events.saw(EventCallDisconnecting) || !f.events.saw(EventCallDisconnected) {
		t.Error("Expected disconnecting and disconnected events")
	}

	if err := f.call.Disconnect(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError on a second Disconnect, got %v", err)
	}
}

func TestCallDisconnectTransportFailureStillTearsDown(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	f.rec.fail[http.MethodDelete] = http.StatusServiceUnavailable
	err := f.call.Disconnect(context.Background())
	if err == nil {
		t.Fatal("Expected the transport error to be reported")
	}
	if got := f.call.State(); got != CallStateDisconnected {
		t.Errorf("Expected local teardown to complete, got state %q", got)
	}
	if !f.pc.isClosed() {
		t.Error("Expected the peer connection closed despite the transport failure")
	}
}

func TestCallDisconnectWhileDialing(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)

	// No offer was ever sent, so there is nothing on the wire to withdraw.
	if err := f.call.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := f.call.State(); got != CallStateCanceled {
		t.Errorf("Expected state %q, got %q", CallStateCanceled, got)
	}
	if f.rec.sawReason("cancel") || f.rec.sawReason("terminate") {
		t.Error("Expected no wire traffic for a call that never left the client")
	}
	if !f.pc.isClosed() {
		t.Error("Expected the peer connection closed")
	}
	if !f.events.saw(EventCallCanceled) {
		t.Error("Expected a call-canceled event")
	}
}

func TestCallDisconnectWhileConnecting(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	if err := f.call.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := f.call.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := f.call.State(); got != CallStateCanceled {
		t.Errorf("Expected the pending invitation withdrawn as %q, got %q", CallStateCanceled, got)
	}
	if !f.rec.sawReason("cancel") {
		t.Error("Expected a cancel delete on the wire")
	}
}

func TestCallDisconnectWhileRinging(t *testing.T) {
	f := newCallFixture(t, DirectionIncoming)
	f.call.setIncomingOffer("call-7", testSDP(1, "sendrecv"))

	if err := f.call.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := f.call.State(); got != CallStateRejected {
		t.Errorf("Expected the ringing call declined as %q, got %q", CallStateRejected, got)
	}
	if !f.rec.sawReason("rejected") {
		t.Error("Expected a rejected delete on the wire")
	}
}

func TestCallMediaEstablished(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	f.pc.remoteTrackArrived()
	if !f.events.saw(EventMediaEstablished) {
		t.Error("Expected a media-established event when the remote track arrives")
	}
}

func TestCallRemoteTermination(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	terminated := &eventchannel.Event{
		ResourceType: eventchannel.ResourceCall,
		ResourceID:   f.call.ID(),
		StateName:    StateSessionTerminated,
	}
	f.call.handleEvent(terminated)

	if got := f.call.State(); got != CallStateDisconnected {
		t.Errorf("Expected state %q, got %q", CallStateDisconnected, got)
	}
	if !f.events.saw(EventCallDisconnected) {
		t.Error("Expected a call-disconnected event")
	}

	// Terminal states ignore further events.
	f.call.handleEvent(terminated)
	if got := f.call.State(); got != CallStateDisconnected {
		t.Errorf("Expected the state to stay %q, got %q", CallStateDisconnected, got)
	}
}

func TestCallCancel(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	if err := f.call.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := f.call.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := f.call.State(); got != CallStateCanceled {
		t.Errorf("Expected state %q, got %q", CallStateCanceled, got)
	}
	if !f.rec.sawReason("cancel") {
		t.Error("Expected a cancel delete on the wire")
	}
	if !f.events.saw(EventCallCanceled) {
		t.Error("Expected a call-canceled event")
	}
}

func TestCallCancelConnected(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	if err := f.call.Cancel(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError canceling a connected call, got %v", err)
	}
}

func TestCallReject(t *testing.T) {
	f := newCallFixture(t, DirectionIncoming)
	f.call.setIncomingOffer("call-7", testSDP(1, "sendrecv"))

	if err := f.call.Reject(context.Background()); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if got := f.call.State(); got != CallStateRejected {
		t.Errorf("Expected state %q, got %q", CallStateRejected, got)
	}
	if !f.rec.sawReason("rejected") {
		t.Error("Expected a rejected delete on the wire")
	}
}

func TestCallRejectOutgoing(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	if err := f.call.Reject(context.Background()); !ewebrtcsdk.IsPrecondition(err) {
		t.Errorf("Expected a PreconditionError rejecting an outgoing call, got %v", err)
	}
}

func TestCallMute(t *testing.T) {
	f := newCallFixture(t, DirectionOutgoing)
	f.connect(t)

	if err := f.call.Mute(); err != nil {
		t.Fatalf("Mute failed: %v", err)
	}
	if !f.call.IsMuted() {
		t.Error("Expected the call muted")
	}
	if !f.events.saw(EventCallMuted) {
		t.Error("Expected a call-muted event")
	}

	if err := f.call.Unmute(); err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}
	if f.call.IsMuted() {
		t.Error("Expected the call unmuted")
	}
}
