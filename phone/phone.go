/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package phone is a client SDK for placing, answering, and controlling
// WebRTC calls against an enhanced-WebRTC signaling server. The Phone type is
// the single entry point: login opens a signaling session and an event
// channel, after which calls are driven by intents (Dial, Answer, Hold,
// Hangup) and observed through the event emitter.
package phone

import (
	"context"

	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// Phone is the top-level facade over one session. Every intent validates its
// preconditions synchronously; failures surface both as a returned error and
// as an EventError emission, so event-driven callers need no second path.
type Phone struct {
	core    *ewebrtcsdk.Client
	config  *Config
	emitter *EventEmitter
	session *Session
}

// New creates a phone on the core transport.
func New(core *ewebrtcsdk.Client, config *Config) *Phone {
	if config == nil {
		config = DefaultConfig()
	}

	emitter := NewEventEmitter()
	return &Phone{
		core:    core,
		config:  config,
		emitter: emitter,
		session: NewSession(core, config, emitter),
	}
}

// On registers a handler for a public event.
func (p *Phone) On(event EventKey, handler EventHandler) {
	p.emitter.On(event, handler)
}

// Off removes all handlers for a public event.
func (p *Phone) Off(event EventKey) {
	p.emitter.Off(event)
}

// Session returns the underlying session for direct inspection.
func (p *Phone) Session() *Session {
	return p.session
}

// report emits the error on the event surface and returns it unchanged.
func (p *Phone) report(err error, callID string) error {
	p.emitter.Emit(EventError, NewErrorEvent(err, callID))
	return err
}

// opContext derives the bounded context every intent runs under.
func (p *Phone) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.config.OperationTimeout)
}

// Login opens the signaling session. The e911 id is optional and may be
// empty where the deployment does not require emergency addressing.
func (p *Phone) Login(ctx context.Context, e911ID string) error {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := p.session.Connect(opCtx, e911ID); err != nil {
		return p.report(err, "")
	}
	return nil
}

// Logout ends every call and closes the session.
func (p *Phone) Logout(ctx context.Context) error {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := p.session.Disconnect(opCtx); err != nil {
		return p.report(err, "")
	}
	return nil
}

// Dial places an outgoing call to the destination.
func (p *Phone) Dial(ctx context.Context, destination string, mediaType MediaType) (*Call, error) {
	if destination == "" {
		return nil, p.report(ewebrtcsdk.NewPreconditionError("dial", "destination is required"), "")
	}
	if mediaType == "" {
		mediaType = MediaAudio
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	call, err := p.session.Dial(opCtx, destination, mediaType)
	if err != nil {
		return call, p.report(err, "")
	}
	return call, nil
}

// AddCall holds the active call and dials a second one.
func (p *Phone) AddCall(ctx context.Context, destination string, mediaType MediaType) (*Call, error) {
	if destination == "" {
		return nil, p.report(ewebrtcsdk.NewPreconditionError("add-call", "destination is required"), "")
	}
	if mediaType == "" {
		mediaType = MediaAudio
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	call, err := p.session.AddCall(opCtx, destination, mediaType)
	if err != nil {
		return call, p.report(err, "")
	}
	return call, nil
}

// Answer connects the ringing incoming call.
func (p *Phone) Answer(ctx context.Context) (*Call, error) {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	call, err := p.session.Answer(opCtx)
	if err != nil {
		return nil, p.report(err, "")
	}
	return call, nil
}

// Reject declines the ringing incoming call.
func (p *Phone) Reject(ctx context.Context) error {
	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := p.session.Reject(opCtx); err != nil {
		return p.report(err, "")
	}
	return nil
}

// current returns the active call or a precondition error naming the intent.
func (p *Phone) current(intent string) (*Call, error) {
	call := p.session.CurrentCall()
	if call == nil {
		return nil, ewebrtcsdk.NewPreconditionError(intent, "no active call")
	}
	return call, nil
}

// Hold pauses the active call.
func (p *Phone) Hold(ctx context.Context) error {
	call, err := p.current("hold")
	if err != nil {
		return p.report(err, "")
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := call.Hold(opCtx); err != nil {
		return p.report(err, call.ID())
	}
	return nil
}

// Resume restores the active held call.
func (p *Phone) Resume(ctx context.Context) error {
	call, err := p.current("resume")
	if err != nil {
		return p.report(err, "")
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := call.Resume(opCtx); err != nil {
		return p.report(err, call.ID())
	}
	return nil
}

// Hangup ends the active call.
func (p *Phone) Hangup(ctx context.Context) error {
	call, err := p.current("hangup")
	if err != nil {
		return p.report(err, "")
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := call.Disconnect(opCtx); err != nil {
		return p.report(err, call.ID())
	}
	return nil
}

// Cancel withdraws the active outgoing call before it connects.
func (p *Phone) Cancel(ctx context.Context) error {
	call, err := p.current("cancel")
	if err != nil {
		return p.report(err, "")
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := call.Cancel(opCtx); err != nil {
		return p.report(err, call.ID())
	}
	return nil
}

// Mute silences the active call's local media.
func (p *Phone) Mute() error {
	call, err := p.current("mute")
	if err != nil {
		return p.report(err, "")
	}
	if err := call.Mute(); err != nil {
		return p.report(err, call.ID())
	}
	return nil
}

// Unmute restores the active call's local media.
func (p *Phone) Unmute() error {
	call, err := p.current("unmute")
	if err != nil {
		return p.report(err, "")
	}
	if err := call.Unmute(); err != nil {
		return p.report(err, call.ID())
	}
	return nil
}

// UpdateE911ID re-binds the session to a new emergency address id.
func (p *Phone) UpdateE911ID(ctx context.Context, e911ID string) error {
	if e911ID == "" {
		return p.report(ewebrtcsdk.NewPreconditionError("update-e911", "e911 id is required"), "")
	}

	opCtx, cancel := p.opContext(ctx)
	defer cancel()

	if err := p.session.UpdateE911ID(opCtx, e911ID); err != nil {
		return p.report(err, "")
	}
	return nil
}
