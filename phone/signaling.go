/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// SignalingClient translates call-level intents into named signaling
// operations. It is stateless: every resulting state change happens in the
// call or session that invoked it, driven by the returned value or error.
type SignalingClient struct {
	core *ewebrtcsdk.Client
}

// NewSignalingClient creates a signaling client on the core transport.
func NewSignalingClient(core *ewebrtcsdk.Client) *SignalingClient {
	return &SignalingClient{core: core}
}

// SessionInfo is the outcome of creating a signaling session.
type SessionInfo struct {
	// ID is the opaque session id assigned by the server.
	ID string
	// ExpiresIn is the session lifetime granted by the server; zero when
	// the server omitted it.
	ExpiresIn time.Duration
}

// OfferResult is the outcome of sending an offer.
type OfferResult struct {
	// CallID is the id the server assigned to the new call.
	CallID string
	// ServerState is the server's state marker for the invitation.
	ServerState string
}

// sessionRequest is the create-session body.
type sessionRequest struct {
	Session struct {
		Services []string `json:"services"`
	} `json:"session"`
}

// sessionResponse is the create-session response body.
type sessionResponse struct {
	ExpiresIn int `json:"expiresIn,omitempty"`
}

// callRequest is the send-offer body.
type callRequest struct {
	Call struct {
		To        string `json:"to"`
		MediaType string `json:"mediaType"`
		SDP       string `json:"sdp"`
	} `json:"call"`
}

// callResponse is the send-offer response body.
type callResponse struct {
	State string `json:"state"`
}

// mediaModificationRequest carries an SDP in answer, hold, resume, and
// accept-modification operations.
type mediaModificationRequest struct {
	CallsMediaModifications struct {
		SDP string `json:"sdp"`
	} `json:"callsMediaModifications"`
}

func newMediaModificationRequest(sdp string) mediaModificationRequest {
	var body mediaModificationRequest
	body.CallsMediaModifications.SDP = sdp
	return body
}

// CreateSession opens a signaling session for the client's access token.
// The optional e911 id rides as an opaque header value.
func (s *SignalingClient) CreateSession(ctx context.Context, e911ID string) (*SessionInfo, error) {
	var body sessionRequest
	body.Session.Services = []string{"ip_voice_call", "ip_video_call"}

	headers := map[string]string{}
	if e911ID != "" {
		headers["x-e911Id"] = e911ID
	}

	result, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:       "create-session",
		Method:     http.MethodPost,
		Path:       "sessions",
		Headers:    headers,
		Body:       body,
		WantStatus: http.StatusCreated,
	})
	if err != nil {
		return nil, err
	}

	id := result.Location()
	if id == "" {
		return nil, ewebrtcsdk.NewProtocolError("create-session", "response carries no session id", nil)
	}

	info := &SessionInfo{ID: id}
	var parsed sessionResponse
	if len(result.Body) > 0 {
		if err := result.Decode(&parsed); err == nil && parsed.ExpiresIn > 0 {
			info.ExpiresIn = time.Duration(parsed.ExpiresIn) * time.Second
		}
	}

	return info, nil
}

// RefreshSession extends the session lifetime. The refresh is idempotent, so
// it rides the core retry path: a transient server error is retried inline
// instead of waiting out a full refresh cycle. The returned duration is the
// new lifetime, zero when the server omitted it.
func (s *SignalingClient) RefreshSession(ctx context.Context, sessionID string) (time.Duration, error) {
	resp, err := s.core.RequestWithRetry(ctx, http.MethodPut, "sessions/"+sessionID, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return 0, ewebrtcsdk.NewAPIError(resp, body)
	}

	if v := resp.Header.Get("x-expires-in"); v != "" {
		var seconds int
		if _, err := fmt.Sscanf(v, "%d", &seconds); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second, nil
		}
	}
	return 0, nil
}

// DeleteSession closes the signaling session.
func (s *SignalingClient) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:       "delete-session",
		Method:     http.MethodDelete,
		Path:       "sessions/" + sessionID,
		WantStatus: http.StatusNoContent,
	})
	return err
}

// UpdateE911 re-binds the session to a new E911 address id.
func (s *SignalingClient) UpdateE911(ctx context.Context, sessionID, e911ID string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:   "update-e911",
		Method: http.MethodPut,
		Path:   "sessions/" + sessionID,
		Headers: map[string]string{
			"x-e911Id": e911ID,
		},
		Body:       map[string]interface{}{"e911Association": map[string]string{"e911Id": e911ID}},
		WantStatus: http.StatusNoContent,
	})
	return err
}

// SendOffer posts a new call invitation. The server must acknowledge with
// the invitation-sent marker; any other marker is a protocol error.
func (s *SignalingClient) SendOffer(ctx context.Context, sessionID, peer string, mediaType MediaType, sdp string) (*OfferResult, error) {
	var body callRequest
	body.Call.To = peer
	body.Call.MediaType = string(mediaType)
	body.Call.SDP = sdp

	result, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:       "send-offer",
		Method:     http.MethodPost,
		Path:       fmt.Sprintf("sessions/%s/calls", sessionID),
		Body:       body,
		WantStatus: http.StatusCreated,
	})
	if err != nil {
		return nil, err
	}

	callID := result.Location()
	if callID == "" {
		return nil, ewebrtcsdk.NewProtocolError("send-offer", "response carries no call id", nil)
	}

	var parsed callResponse
	if err := result.Decode(&parsed); err != nil {
		return nil, ewebrtcsdk.NewProtocolError("send-offer", "malformed call response", err)
	}
	if parsed.State != ServerStateInvitationSent {
		return nil, ewebrtcsdk.NewProtocolError("send-offer",
			fmt.Sprintf("unexpected server state %q (want %q)", parsed.State, ServerStateInvitationSent), nil)
	}

	return &OfferResult{CallID: callID, ServerState: parsed.State}, nil
}

// SendAnswer transmits the local answer for an incoming call.
func (s *SignalingClient) SendAnswer(ctx context.Context, sessionID, callID, sdp string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:   "send-answer",
		Method: http.MethodPut,
		Path:   fmt.Sprintf("sessions/%s/calls/%s", sessionID, callID),
		Headers: map[string]string{
			"x-calls-action": "call-answer",
		},
		Body:       newMediaModificationRequest(sdp),
		WantStatus: http.StatusNoContent,
	})
	return err
}

// AcceptModification transmits the local answer to a far-end modification.
func (s *SignalingClient) AcceptModification(ctx context.Context, sessionID, callID, modID, sdp string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:   "accept-modification",
		Method: http.MethodPut,
		Path:   fmt.Sprintf("sessions/%s/calls/%s", sessionID, callID),
		Headers: map[string]string{
			"x-calls-action": "accept-mods",
			"x-modId":        modID,
		},
		Body:       newMediaModificationRequest(sdp),
		WantStatus: http.StatusNoContent,
	})
	return err
}

// SendHold transmits a hold-modified description.
func (s *SignalingClient) SendHold(ctx context.Context, sessionID, callID, sdp string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:   "hold",
		Method: http.MethodPut,
		Path:   fmt.Sprintf("sessions/%s/calls/%s", sessionID, callID),
		Headers: map[string]string{
			"x-calls-action": "initiate-call-hold",
		},
		Body:       newMediaModificationRequest(sdp),
		WantStatus: http.StatusNoContent,
	})
	return err
}

// SendResume transmits a resume-modified description.
func (s *SignalingClient) SendResume(ctx context.Context, sessionID, callID, sdp string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:   "resume",
		Method: http.MethodPut,
		Path:   fmt.Sprintf("sessions/%s/calls/%s", sessionID, callID),
		Headers: map[string]string{
			"x-calls-action": "initiate-call-resume",
		},
		Body:       newMediaModificationRequest(sdp),
		WantStatus: http.StatusNoContent,
	})
	return err
}

// EndCall terminates an established call.
func (s *SignalingClient) EndCall(ctx context.Context, sessionID, callID string) error {
	return s.deleteCall(ctx, "end-call", sessionID, callID, "terminate")
}

// CancelCall withdraws an invitation that has not been answered.
func (s *SignalingClient) CancelCall(ctx context.Context, sessionID, callID string) error {
	return s.deleteCall(ctx, "cancel-call", sessionID, callID, "cancel")
}

// RejectCall declines an incoming invitation.
func (s *SignalingClient) RejectCall(ctx context.Context, sessionID, callID string) error {
	return s.deleteCall(ctx, "reject-call", sessionID, callID, "rejected")
}

func (s *SignalingClient) deleteCall(ctx context.Context, opName, sessionID, callID, reason string) error {
	_, err := s.core.Do(ctx, ewebrtcsdk.Operation{
		Name:   opName,
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("sessions/%s/calls/%s", sessionID, callID),
		Headers: map[string]string{
			"x-delete-reason": reason,
		},
		WantStatus: http.StatusNoContent,
	})
	return err
}
