/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package ewebrtcsdk

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"Precondition", NewPreconditionError("dial", "no session"), CodePrecondition},
		{"Protocol", NewProtocolError("send-offer", "bad state", nil), CodeProtocol},
		{"Network", NewNetworkError("hold", errors.New("refused")), CodeNetwork},
		{"Timeout", NewTimeoutError("hold", errors.New("deadline")), CodeTimeout},
		{"Media", NewMediaError("connect", "no device", nil), CodeMedia},
		{"Channel", NewChannelError("poll gave up", nil), CodeChannel},
		{"Negotiation", NewNegotiationError("accept-modification", "stale", nil), CodeNegotiation},
		{"DuplicateSession", NewDuplicateSessionError("already connected"), CodeDuplicateSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("Expected code %q, got %q", tt.code, got)
			}
		})
	}
}

func TestCodeOfWrappedError(t *testing.T) {
	err := fmt.Errorf("dialing peer: %w", NewNegotiationError("create-offer", "rejected", nil))
	if got := CodeOf(err); got != CodeNegotiation {
		t.Errorf("Expected code %q through wrapping, got %q", CodeNegotiation, got)
	}
	if got := OperationOf(err); got != "create-offer" {
		t.Errorf("Expected operation 'create-offer' through wrapping, got %q", got)
	}
}

func TestCodeOfUnknownError(t *testing.T) {
	if got := CodeOf(errors.New("something else")); got != CodeAPI {
		t.Errorf("Expected fallback code %q, got %q", CodeAPI, got)
	}
}

func TestOperationErrorAs(t *testing.T) {
	err := NewProtocolError("send-offer", "unexpected marker", nil)

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatal("Expected errors.As to find the base OperationError")
	}
	if opErr.Operation != "send-offer" {
		t.Errorf("Expected operation 'send-offer', got %q", opErr.Operation)
	}
}

func TestWithResource(t *testing.T) {
	err := NewNegotiationError("hold", "stale", nil)
	err.WithResource("call42")

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatal("Expected errors.As to find the base OperationError")
	}
	if opErr.ResourceID != "call42" {
		t.Errorf("Expected resource 'call42', got %q", opErr.ResourceID)
	}
	if msg := err.Error(); msg == "" {
		t.Error("Expected a non-empty error message")
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsPrecondition(NewPreconditionError("dial", "")) {
		t.Error("Expected IsPrecondition to match")
	}
	if IsPrecondition(NewNetworkError("dial", nil)) {
		t.Error("Expected IsPrecondition not to match a NetworkError")
	}
	if !IsDuplicateSession(NewDuplicateSessionError("dup")) {
		t.Error("Expected IsDuplicateSession to match")
	}
	if !IsNegotiation(fmt.Errorf("wrapped: %w", NewNegotiationError("x", "y", nil))) {
		t.Error("Expected IsNegotiation to match through wrapping")
	}
}

func TestNewAPIError(t *testing.T) {
	t.Run("SubTypes", func(t *testing.T) {
		tests := []struct {
			status int
			check  func(error) bool
			name   string
		}{
			{http.StatusUnauthorized, IsAuthError, "auth"},
			{http.StatusNotFound, IsNotFound, "not found"},
			{http.StatusConflict, IsConflict, "conflict"},
			{http.StatusTooManyRequests, IsRateLimited, "rate limited"},
			{http.StatusBadGateway, IsServerError, "server"},
		}

		for _, tt := range tests {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			err := NewAPIError(resp, nil)
			if !tt.check(err) {
				t.Errorf("Expected %s error for status %d, got %v", tt.name, tt.status, err)
			}
		}
	})

	t.Run("ParsesBody", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}
		err := NewAPIError(resp, []byte(`{"message":"bad input","trackingId":"t-1"}`))

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatal("Expected errors.As to find the APIError")
		}
		if apiErr.Message != "bad input" {
			t.Errorf("Expected message 'bad input', got %q", apiErr.Message)
		}
		if apiErr.TrackingID != "t-1" {
			t.Errorf("Expected trackingId 't-1', got %q", apiErr.TrackingID)
		}
	})
}
