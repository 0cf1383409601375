/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package eventchannel

import (
	"fmt"
	"strings"
)

// ResourceType identifies the kind of signaling resource an event refers to.
type ResourceType string

const (
	ResourceCall       ResourceType = "call"
	ResourceConference ResourceType = "conference"
	ResourceSession    ResourceType = "session"
)

// Event is the canonical record every raw server event is normalized into.
// Consumers never see the raw payload shapes.
type Event struct {
	ResourceType   ResourceType
	ResourceID     string
	StateName      string
	SDP            string
	ModificationID string
	Reason         string
	From           string
}

// rawEnvelope is the long-poll response body.
type rawEnvelope struct {
	Events struct {
		EventList []RawEvent `json:"eventList"`
	} `json:"events"`
}

// RawEvent is one entry of the server's event list. Call and conference
// events share the envelope but differ in field naming inside the object.
type RawEvent struct {
	EventObject rawEventObject `json:"eventObject"`
}

// rawEventObject carries both the call-shaped and the conference-shaped
// field names; Normalize picks whichever is populated.
type rawEventObject struct {
	ResourceURL string `json:"resourceURL"`
	State       string `json:"state"`

	// Call-shaped fields
	SDP    string `json:"sdp,omitempty"`
	ModID  string `json:"modId,omitempty"`
	Reason string `json:"reason,omitempty"`
	From   string `json:"from,omitempty"`

	// Conference-shaped fields
	ModDescription  string `json:"modDescription,omitempty"`
	ModificationID  string `json:"modificationId,omitempty"`
	Caller          string `json:"caller,omitempty"`
	DisconnectCause string `json:"disconnectCause,omitempty"`
}

// Normalize converts a raw server event into the canonical Event. The
// resource id is the last path segment of the event's resource URL; the
// resource type is derived from the collection segment preceding it.
func Normalize(raw RawEvent) (*Event, error) {
	obj := raw.EventObject

	if obj.ResourceURL == "" {
		return nil, fmt.Errorf("event has no resourceURL")
	}
	if obj.State == "" {
		return nil, fmt.Errorf("event %q has no state", obj.ResourceURL)
	}

	segments := strings.Split(strings.Trim(obj.ResourceURL, "/"), "/")
	resourceID := segments[len(segments)-1]
	if resourceID == "" {
		return nil, fmt.Errorf("event %q has no resource id", obj.ResourceURL)
	}

	resourceType := ResourceCall
	if len(segments) >= 2 {
		switch segments[len(segments)-2] {
		case "conferences":
			resourceType = ResourceConference
		case "sessions":
			resourceType = ResourceSession
		}
	}

	event := &Event{
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		StateName:      obj.State,
		SDP:            obj.SDP,
		ModificationID: obj.ModID,
		Reason:         obj.Reason,
		From:           obj.From,
	}

	// Conference payloads name the same facts differently.
	if event.SDP == "" {
		event.SDP = obj.ModDescription
	}
	if event.ModificationID == "" {
		event.ModificationID = obj.ModificationID
	}
	if event.From == "" {
		event.From = obj.Caller
	}
	if event.Reason == "" {
		event.Reason = obj.DisconnectCause
	}

	return event, nil
}
