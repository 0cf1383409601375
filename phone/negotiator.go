/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"fmt"
	"sync"

	"github.com/pion/sdp/v3"

	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// SDPKind distinguishes the two halves of an offer/answer exchange.
type SDPKind string

const (
	SDPOffer  SDPKind = "offer"
	SDPAnswer SDPKind = "answer"
)

// PeerConnection is the contract the negotiator requires from the media
// layer. MediaEngine provides the production implementation on Pion; tests
// substitute fakes.
type PeerConnection interface {
	// CreateOffer produces a local SDP offer, with the local description
	// applied and ICE candidates gathered.
	CreateOffer() (string, error)

	// CreateAnswer produces a local SDP answer to the current remote
	// description, with the local description applied.
	CreateAnswer() (string, error)

	// SetRemoteDescription applies the far end's description.
	SetRemoteDescription(sdpText string, kind SDPKind) error

	// Close releases the underlying connection.
	Close() error
}

// baselineModificationCount is where the modification clock starts. Counts 0
// and 1 belong to the initial offer/answer exchange, so the first hold,
// resume, or remote modification observes 2. The signaling server depends on
// this exact numbering.
const baselineModificationCount = 2

// SdpNegotiator is the single source of truth for one call's local and remote
// SDP and for the modification sequence that keeps multi-step renegotiations
// ordered. One instance per call, owned exclusively by that call.
type SdpNegotiator struct {
	mu sync.Mutex

	pc     PeerConnection
	logger ewebrtcsdk.Logger

	localDescription  string
	remoteDescription string

	modificationID          string
	modificationCount       uint64
	isModificationInitiator bool
}

// NewSdpNegotiator creates a negotiator around one peer connection.
func NewSdpNegotiator(pc PeerConnection, logger ewebrtcsdk.Logger) *SdpNegotiator {
	return &SdpNegotiator{
		pc:                pc,
		logger:            logger,
		modificationCount: baselineModificationCount,
	}
}

// CreateOffer requests an offer from the peer connection and stores it as the
// local description. Failure is fatal to the current connect attempt and is
// not retried.
func (n *SdpNegotiator) CreateOffer() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	offer, err := n.pc.CreateOffer()
	if err != nil {
		return "", ewebrtcsdk.NewNegotiationError("create-offer", "peer connection rejected offer creation", err)
	}

	n.localDescription = offer
	return offer, nil
}

// CreateAnswer requests an answer from the peer connection and stores it as
// the local description. The remote offer must have been applied first.
func (n *SdpNegotiator) CreateAnswer() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.remoteDescription == "" {
		return "", ewebrtcsdk.NewNegotiationError("create-answer", "no remote offer to answer", nil)
	}

	answer, err := n.pc.CreateAnswer()
	if err != nil {
		return "", ewebrtcsdk.NewNegotiationError("create-answer", "peer connection rejected answer creation", err)
	}

	n.localDescription = answer
	return answer, nil
}

// SetRemoteDescription stores the far end's description. Re-setting the same
// description is a no-op. A peer-connection rejection of a re-set is logged
// and swallowed; browsers are known to reject benign duplicates.
func (n *SdpNegotiator) SetRemoteDescription(sdpText string, kind SDPKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sdpText == n.remoteDescription {
		return nil
	}

	previouslySet := n.remoteDescription != ""
	if err := n.pc.SetRemoteDescription(sdpText, kind); err != nil {
		if previouslySet {
			n.logger.Printf("negotiator: peer connection rejected remote %s re-set, ignoring: %v", kind, err)
			return nil
		}
		return ewebrtcsdk.NewNegotiationError("set-remote-description",
			fmt.Sprintf("peer connection rejected remote %s", kind), err)
	}

	n.remoteDescription = sdpText
	return nil
}

// BeginModification advances the modification clock and returns the local
// description rewritten for the requested kind: hold flips media direction to
// recvonly, resume restores sendrecv. The rewritten SDP carries the new count
// in its origin session version, which is how the far end orders competing
// modifications.
func (n *SdpNegotiator) BeginModification(kind ModKind) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.localDescription == "" {
		return "", ewebrtcsdk.NewNegotiationError("begin-modification", "no local description to modify", nil)
	}

	n.modificationCount++

	modified, err := rewriteDirection(n.localDescription, kind, n.modificationCount)
	if err != nil {
		return "", ewebrtcsdk.NewNegotiationError("begin-modification", "rewriting local description", err)
	}

	n.localDescription = modified
	n.isModificationInitiator = true
	return modified, nil
}

// AcceptRemoteModification applies a far-end modification (hold, resume,
// codec change) and produces the local answer to transmit. A modification
// whose embedded sequence precedes the local clock is stale and is rejected,
// never silently applied.
func (n *SdpNegotiator) AcceptRemoteModification(remoteSDP, modID string) (string, error) {
	n.mu.Lock()

	remoteVersion, err := sessionVersionOf(remoteSDP)
	if err != nil {
		n.mu.Unlock()
		return "", ewebrtcsdk.NewNegotiationError("accept-modification", "parsing remote modification", err)
	}
	if remoteVersion < n.modificationCount {
		count := n.modificationCount
		n.mu.Unlock()
		return "", ewebrtcsdk.NewNegotiationError("accept-modification",
			fmt.Sprintf("stale modification: remote sequence %d precedes local %d", remoteVersion, count), nil)
	}

	n.modificationID = modID
	n.modificationCount++
	n.isModificationInitiator = false
	n.mu.Unlock()

	if err := n.SetRemoteDescription(remoteSDP, SDPOffer); err != nil {
		return "", err
	}

	return n.CreateAnswer()
}

// Close releases the peer connection.
func (n *SdpNegotiator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pc.Close()
}

// LocalDescription returns the current local SDP.
func (n *SdpNegotiator) LocalDescription() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localDescription
}

// RemoteDescription returns the current remote SDP.
func (n *SdpNegotiator) RemoteDescription() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remoteDescription
}

// ModificationCount returns the modification clock. It never decreases for
// the lifetime of the call.
func (n *SdpNegotiator) ModificationCount() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.modificationCount
}

// ModificationID returns the id of the last accepted remote modification.
func (n *SdpNegotiator) ModificationID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.modificationID
}

// IsModificationInitiator reports whether the last modification was started
// locally.
func (n *SdpNegotiator) IsModificationInitiator() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isModificationInitiator
}

// ---- SDP rewriting ----

// directionAttributes are the mutually exclusive media-direction keys.
var directionAttributes = map[string]bool{
	"sendrecv": true,
	"sendonly": true,
	"recvonly": true,
	"inactive": true,
}

// rewriteDirection parses the SDP, replaces every media section's direction
// attribute (recvonly for hold, sendrecv for resume), and stamps the origin
// session version with the modification count.
func rewriteDirection(sdpText string, kind ModKind, version uint64) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return "", fmt.Errorf("unmarshaling SDP: %w", err)
	}

	target := "sendrecv"
	if kind == ModHold {
		target = "recvonly"
	}

	desc.Origin.SessionVersion = version

	for _, media := range desc.MediaDescriptions {
		replaced := false
		for i, attr := range media.Attributes {
			if directionAttributes[attr.Key] {
				media.Attributes[i] = sdp.Attribute{Key: target}
				replaced = true
			}
		}
		if !replaced {
			media.Attributes = append(media.Attributes, sdp.Attribute{Key: target})
		}
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshaling SDP: %w", err)
	}
	return string(out), nil
}

// sessionVersionOf extracts the origin session version, which carries the
// sender's modification sequence.
func sessionVersionOf(sdpText string) (uint64, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return 0, fmt.Errorf("unmarshaling SDP: %w", err)
	}
	return desc.Origin.SessionVersion, nil
}

// directionOf reports the first media section's direction attribute, used to
// infer hold/resume intent from a remote modification when the event omits a
// reason. Defaults to sendrecv.
func directionOf(sdpText string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(sdpText)); err != nil {
		return "sendrecv"
	}
	for _, media := range desc.MediaDescriptions {
		for _, attr := range media.Attributes {
			if directionAttributes[attr.Key] {
				return attr.Key
			}
		}
	}
	return "sendrecv"
}
