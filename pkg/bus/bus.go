// Package bus is the message-bus port described in spec.md §6: a
// request/response and publish/subscribe conversation surface used for
// token validation, the external control-command path, activity/public-key
// announcements, and the daily purge trigger. The teacher repo shipped only
// a test file for this concern (pkg/bus/bus_test.go, chat-bot shaped); this
// is a from-scratch, channel-based implementation generalized to the
// typed request/response + publish/subscribe conversations this fabric
// needs, in the same spirit (in-process channels, no external broker).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler answers a single request conversation.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Bus is an in-process request/response + publish/subscribe broker.
// A production deployment wires this to a real message-bus client at the
// process boundary; RelayCore's core only depends on this port.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	subs     map[string][]chan json.RawMessage
	closed   bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string]Handler),
		subs:     make(map[string][]chan json.RawMessage),
	}
}

// HandleRequest registers the handler for a conversation name (e.g.
// "ValidateAgentRequestToken"). A second registration replaces the first.
func (b *Bus) HandleRequest(conversation string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[conversation] = h
}

// Request sends payload on conversation and blocks for the handler's
// response or ctx's deadline, whichever comes first.
func (b *Bus) Request(ctx context.Context, conversation string, payload any) (json.RawMessage, error) {
	b.mu.RLock()
	closed := b.closed
	h, ok := b.handlers[conversation]
	b.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("bus: closed")
	}
	if !ok {
		return nil, fmt.Errorf("bus: no handler registered for %q", conversation)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bus: marshal request: %w", err)
	}

	type result struct {
		resp any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h(ctx, raw)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		out, err := json.Marshal(r.resp)
		if err != nil {
			return nil, fmt.Errorf("bus: marshal response: %w", err)
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish fans payload out to every current subscriber of topic
// (e.g. "AgentActivityMessage", "PublicKey"). Publishing after Close, or
// to a topic with no subscribers, is a silent no-op.
func (b *Bus) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal publish: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- raw:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe returns a channel of raw payloads published to topic, and an
// unsubscribe function. Messages published after Close are never
// delivered; the channel is simply never closed in that case since nothing
// else is coming.
func (b *Bus) Subscribe(topic string) (ch <-chan json.RawMessage, unsubscribe func()) {
	c := make(chan json.RawMessage, 16)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], c)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, existing := range list {
			if existing == c {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return c, unsub
}

// Close idempotently marks the bus closed; further Publish/Request calls
// are no-ops/errors instead of panicking on a closed channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
