/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package eventchannel

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// streamLoop is the websocket alternative to the long-poll loop. Messages
// carry the same event envelope as a poll response and flow through the same
// normalize/publish gate, so subscribers cannot tell the transports apart.
func (c *Channel) streamLoop(ctx context.Context, sessionID string) {
	backoff := c.config.InitialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dialSocket(sessionID)
		if err != nil {
			c.core.GetLogger().Printf("event channel: websocket dial failed, retrying in %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.config.MaxBackoff {
				backoff = c.config.MaxBackoff
			}
			continue
		}

		backoff = c.config.InitialBackoff
		c.readSocket(ctx, conn)
		_ = conn.Close()
	}
}

// dialSocket opens the websocket with the session's bearer credentials.
func (c *Channel) dialSocket(sessionID string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.core.GetAccessToken())
	headers.Set("x-session-id", sessionID)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(c.config.WebSocketURL, headers)
	if err != nil {
		return nil, err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	return conn, nil
}

// readSocket reads messages until the connection breaks or ctx is canceled.
// A ping ticker keeps the connection alive; a missed pong trips the read
// deadline and forces a redial.
func (c *Channel) readSocket(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout + c.config.PingInterval))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.core.GetLogger().Printf("event channel: websocket read failed: %v", err)
			}
			return
		}

		var envelope rawEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			c.core.GetLogger().Printf("event channel: dropping malformed websocket message: %v", err)
			continue
		}

		for _, raw := range envelope.Events.EventList {
			event, err := Normalize(raw)
			if err != nil {
				c.core.GetLogger().Printf("event channel: dropping malformed event: %v", err)
				continue
			}
			c.Publish(event)
		}
	}
}
