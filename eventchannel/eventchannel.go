/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package eventchannel maintains the standing subscription that delivers
// asynchronous signaling-server events for one session. The default transport
// is a long-poll loop (drain, then request again); a websocket transport is
// available via Config. Raw call and conference payloads are normalized into
// canonical Events and republished on topics keyed "<stateName>:<resourceId>".
package eventchannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ewebrtc/ewebrtc-go-sdk/ewebrtcsdk"
)

// Topic builds the dispatch key for a state name and resource id.
func Topic(stateName, resourceID string) string {
	return stateName + ":" + resourceID
}

// TopicWildcard receives every event published on the channel. Session
// subscribes here to observe events for resource ids it has no Call for yet.
const TopicWildcard = "*"

// StateChannelError is the synthetic state name published when the channel
// fails fatally (e.g. repeated 401s). The event's Reason carries the cause.
const StateChannelError = "channel-error"

// Handler is a callback for normalized events.
type Handler func(event *Event)

// Config holds the configuration for the event channel
type Config struct {
	// PollTimeout is the server-held duration requested per long-poll.
	PollTimeout time.Duration

	// InitialBackoff is the first retry delay after a poll failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling retry delay after repeated failures.
	MaxBackoff time.Duration

	// FatalAuthFailures is the number of consecutive 401 responses after
	// which the channel gives up and publishes StateChannelError.
	FatalAuthFailures int

	// PollRate bounds how often the loop may issue requests, protecting
	// the server from a tight re-poll loop. The limiter burst matches the
	// rate, so back-to-back drains of a busy queue are never spaced out;
	// only a sustained tight loop is throttled.
	PollRate rate.Limit

	// UseWebSocket selects the streaming transport instead of long-poll.
	UseWebSocket bool

	// WebSocketURL is the websocket endpoint, required when UseWebSocket
	// is set.
	WebSocketURL string

	// PingInterval is the websocket keepalive interval.
	PingInterval time.Duration

	// PongTimeout is the websocket pong deadline.
	PongTimeout time.Duration
}

// DefaultConfig returns the default configuration for the event channel
func DefaultConfig() *Config {
	return &Config{
		PollTimeout:       30 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        32 * time.Second,
		FatalAuthFailures: 3,
		PollRate:          rate.Limit(10),
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
	}
}

// Channel delivers normalized signaling events for one session, in
// server-observed order per resource id, exactly once per occurrence.
type Channel struct {
	core   *ewebrtcsdk.Client
	config *Config

	mu        sync.Mutex
	handlers  map[string][]Handler
	running   bool
	stopped   bool
	cancel    context.CancelFunc
	sessionID string

	// dispatchWG tracks in-flight publishes so Stop can drain them.
	dispatchWG sync.WaitGroup

	limiter *rate.Limiter
}

// New creates a new event channel backed by the given signaling client.
func New(core *ewebrtcsdk.Client, config *Config) *Channel {
	if config == nil {
		config = DefaultConfig()
	}

	burst := 1
	if config.PollRate != rate.Inf && config.PollRate > 1 {
		burst = int(config.PollRate)
	}

	return &Channel{
		core:     core,
		config:   config,
		handlers: make(map[string][]Handler),
		limiter:  rate.NewLimiter(config.PollRate, burst),
	}
}

// On registers a handler for a topic (see Topic and TopicWildcard).
func (c *Channel) On(topic string, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = append(c.handlers[topic], handler)
}

// Off removes all handlers for a topic.
func (c *Channel) Off(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
}

// Start begins delivering events for the given session id. It returns an
// error if the channel is already running or was already stopped; a stopped
// channel is not restartable, callers create a fresh one per session.
func (c *Channel) Start(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("event channel already running")
	}
	if c.stopped {
		return fmt.Errorf("event channel already stopped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.sessionID = sessionID
	c.running = true

	if c.config.UseWebSocket {
		go c.streamLoop(ctx, sessionID)
	} else {
		go c.pollLoop(ctx, sessionID)
	}

	return nil
}

// Stop cancels the loop. Any in-flight request is allowed to complete and is
// then discarded without publishing. No event is published after Stop returns.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	// Drain dispatches that began before the stop flag flipped.
	c.dispatchWG.Wait()
}

// IsRunning reports whether the loop is active.
func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Publish normalizes nothing; it hands an already-normalized event to the
// subscribers for its topic and to the wildcard topic. Events arriving after
// Stop are dropped. Dispatch is synchronous so per-resource ordering follows
// publish order.
func (c *Channel) Publish(event *Event) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.dispatchWG.Add(1)
	topic := Topic(event.StateName, event.ResourceID)
	handlers := make([]Handler, 0, len(c.handlers[topic])+len(c.handlers[TopicWildcard]))
	handlers = append(handlers, c.handlers[topic]...)
	handlers = append(handlers, c.handlers[TopicWildcard]...)
	c.mu.Unlock()

	defer c.dispatchWG.Done()

	if len(handlers) == 0 {
		c.core.GetLogger().Printf("event channel: no subscriber for %s (resource %s), dropping", event.StateName, event.ResourceID)
		return
	}
	for _, handler := range handlers {
		handler(event)
	}
}

// pollLoop runs the cooperative drain-then-request-again loop. A successful
// response is drained and the next poll is issued immediately; failures retry
// with doubling backoff capped at MaxBackoff.
func (c *Channel) pollLoop(ctx context.Context, sessionID string) {
	backoff := c.config.InitialBackoff
	authFailures := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		events, err := c.pollOnce(ctx, sessionID)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if ewebrtcsdk.IsAuthError(err) {
				authFailures++
				if authFailures >= c.config.FatalAuthFailures {
					c.core.GetLogger().Printf("event channel: %d consecutive auth failures, giving up: %v", authFailures, err)
					c.fail(sessionID, err)
					return
				}
			} else {
				authFailures = 0
			}

			c.core.GetLogger().Printf("event channel: poll failed, retrying in %v: %v", backoff, err)
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
		authFailures = 0

		for _, raw := range events {
			event, err := Normalize(raw)
			if err != nil {
				c.core.GetLogger().Printf("event channel: dropping malformed event: %v", err)
				continue
			}
			c.Publish(event)
		}
	}
}

// pollOnce issues a single long-poll request and returns the raw events.
// An empty body or 204 yields zero events and no error.
func (c *Channel) pollOnce(ctx context.Context, sessionID string) ([]RawEvent, error) {
	// The request context outlives the client timeout: the server holds the
	// poll up to PollTimeout, so give the HTTP round trip headroom beyond it.
	pollCtx, cancel := context.WithTimeout(ctx, c.config.PollTimeout+15*time.Second)
	defer cancel()

	result, err := c.core.Do(pollCtx, ewebrtcsdk.Operation{
		Name:   "poll-events",
		Method: "GET",
		Path:   fmt.Sprintf("sessions/%s/events", sessionID),
		Headers: map[string]string{
			"x-poll-timeout": fmt.Sprintf("%d", int(c.config.PollTimeout.Seconds())),
		},
	})
	if err != nil {
		return nil, err
	}

	if result.StatusCode == 204 || len(result.Body) == 0 {
		return nil, nil
	}

	var envelope rawEnvelope
	if err := result.Decode(&envelope); err != nil {
		return nil, ewebrtcsdk.NewProtocolError("poll-events", "malformed event envelope", err)
	}

	return envelope.Events.EventList, nil
}

// fail publishes a terminal channel error on the session's topic and on the
// wildcard topic, then leaves the loop stopped.
func (c *Channel) fail(sessionID string, cause error) {
	c.Publish(&Event{
		ResourceType: ResourceSession,
		ResourceID:   sessionID,
		StateName:    StateChannelError,
		Reason:       cause.Error(),
	})

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}
