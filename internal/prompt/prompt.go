// Package prompt implements the show-component-and-wait pattern: a handler
// displays a button, select or modal carrying a generated correlation id, then
// suspends until the matching follow-up event arrives on the bus or a deadline
// passes.
package prompt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/eventbus"
)

// ErrTimeout is returned when no allowed response arrived before the deadline.
// Callers must treat it as a normal outcome, distinct from a user cancel.
var ErrTimeout = errors.New("prompt: timed out waiting for response")

// DefaultTimeout bounds prompts whose caller does not pick a deadline.
const DefaultTimeout = 5 * time.Minute

// Response is the view of an inbound follow-up event the correlator needs:
// the correlation id echoed back by the platform and the responding user.
type Response interface {
	CorrelationID() string
	ActorID() string
}

// RejectFunc acknowledges a response from a user outside the allow-list.
// The prompt keeps waiting afterwards.
type RejectFunc func(resp Response)

// Correlator matches follow-up events to waiting prompts by correlation id.
// Any number of prompts may be outstanding at once; each holds its own bus
// subscription and resolves independently.
type Correlator struct {
	bus      *eventbus.Bus
	onReject RejectFunc
}

// New creates a Correlator over bus. onReject may be nil, in which case
// disallowed responders are ignored silently.
func New(bus *eventbus.Bus, onReject RejectFunc) *Correlator {
	return &Correlator{bus: bus, onReject: onReject}
}

// NewCorrelationID returns an opaque id with enough entropy that concurrently
// open prompts never collide.
func NewCorrelationID(prefix string) string {
	return prefix + ":" + xid.New().String()
}

// Await blocks until an allowed response carrying correlationID is published
// on event, the timeout elapses, or ctx is cancelled.
//
// A response from a user not in allowedUsers is passed to the reject callback
// and the wait continues. An empty allowedUsers admits anyone. The first
// allowed response wins; anything arriving after that is dropped. Exactly one
// of a response or an error is ever delivered.
func (c *Correlator) Await(ctx context.Context, event, correlationID string, allowedUsers []string, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	resolved := make(chan Response, 1)
	var once sync.Once

	sub := c.bus.Subscribe(event, func(payload any) {
		resp, ok := payload.(Response)
		if !ok || resp.CorrelationID() != correlationID {
			return
		}
		if len(allowedUsers) > 0 && !contains(allowedUsers, resp.ActorID()) {
			if c.onReject != nil {
				c.onReject(resp)
			}
			return
		}
		once.Do(func() { resolved <- resp })
	})
	defer c.bus.Unsubscribe(sub)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-resolved:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func contains(users []string, id string) bool {
	for _, u := range users {
		if u == id {
			return true
		}
	}
	return false
}
