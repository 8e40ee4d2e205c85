package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := New()

	var got []int
	bus.Subscribe("evt", func(any) { got = append(got, 1) })
	bus.Subscribe("evt", func(any) { got = append(got, 2) })
	bus.Subscribe("evt", func(any) { got = append(got, 3) })

	bus.Publish("evt", nil)

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestPublishOnlyMatchingEventName(t *testing.T) {
	bus := New()

	var calls int
	bus.Subscribe("a", func(any) { calls++ })

	bus.Publish("b", nil)
	assert.Zero(t, calls)

	bus.Publish("a", nil)
	assert.Equal(t, 1, calls)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := New()

	var after bool
	bus.Subscribe("evt", func(any) { panic("boom") })
	bus.Subscribe("evt", func(any) { after = true })

	require.NotPanics(t, func() { bus.Publish("evt", nil) })
	assert.True(t, after, "subscriber after the panicking one must still run")
}

func TestUnsubscribeRemovesExactlyOne(t *testing.T) {
	bus := New()

	var a, b int
	subA := bus.Subscribe("evt", func(any) { a++ })
	bus.Subscribe("evt", func(any) { b++ })

	bus.Unsubscribe(subA)
	bus.Publish("evt", nil)

	assert.Zero(t, a)
	assert.Equal(t, 1, b)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := New()

	var calls int
	sub := bus.Subscribe("evt", func(any) { calls++ })
	other := bus.Subscribe("evt", func(any) { calls++ })

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)
	_ = other

	bus.Publish("evt", nil)
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	bus := New()

	var sub *Subscription
	var first, second int
	sub = bus.Subscribe("evt", func(any) {
		first++
		bus.Unsubscribe(sub)
	})
	bus.Subscribe("evt", func(any) { second++ })

	// Unsubscribing from inside a handler must not disturb the current round.
	bus.Publish("evt", nil)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	bus.Publish("evt", nil)
	assert.Equal(t, 1, first, "removed subscriber must not fire again")
	assert.Equal(t, 2, second)
}

func TestPayloadReachesSubscriber(t *testing.T) {
	bus := New()

	var got any
	bus.Subscribe("evt", func(p any) { got = p })

	type payload struct{ n int }
	bus.Publish("evt", payload{n: 7})

	require.IsType(t, payload{}, got)
	assert.Equal(t, 7, got.(payload).n)
}
