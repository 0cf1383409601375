/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package phone

import (
	"time"

	"github.com/ewebrtc/ewebrtc-go-sdk/eventchannel"
)

// operationTimeout bounds signaling requests issued from event handlers,
// which have no caller-supplied context.
const operationTimeout = 15 * time.Second

// Config holds the configuration for the phone
type Config struct {
	// OperationTimeout bounds each signaling request issued by an intent.
	OperationTimeout time.Duration

	// RefreshMargin is how long before session expiry the refresh fires.
	RefreshMargin time.Duration

	// DefaultSessionTTL is assumed when the server grants a session without
	// a lifetime and the access token carries no usable expiry.
	DefaultSessionTTL time.Duration

	// Media configures the WebRTC media engine.
	Media *MediaConfig

	// Channel configures the event channel.
	Channel *eventchannel.Config
}

// DefaultConfig returns the default configuration for the phone
func DefaultConfig() *Config {
	return &Config{
		OperationTimeout:  operationTimeout,
		RefreshMargin:     5 * time.Minute,
		DefaultSessionTTL: 1 * time.Hour,
		Media:             DefaultMediaConfig(),
		Channel:           eventchannel.DefaultConfig(),
	}
}
