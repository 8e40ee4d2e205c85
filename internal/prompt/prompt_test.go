package prompt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/eventbus"
)

type fakeResponse struct {
	id    string
	actor string
}

func (r fakeResponse) CorrelationID() string { return r.id }
func (r fakeResponse) ActorID() string       { return r.actor }

const testEvent = "interaction.component"

func awaitAsync(c *Correlator, id string, allowed []string, timeout time.Duration) chan struct {
	resp Response
	err  error
} {
	done := make(chan struct {
		resp Response
		err  error
	}, 1)
	go func() {
		resp, err := c.Await(context.Background(), testEvent, id, allowed, timeout)
		done <- struct {
			resp Response
			err  error
		}{resp, err}
	}()
	// Give Await a moment to register its subscription.
	time.Sleep(20 * time.Millisecond)
	return done
}

func TestAwaitResolvesOnMatchingResponse(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	done := awaitAsync(c, "corr-1", nil, time.Second)
	bus.Publish(testEvent, fakeResponse{id: "corr-1", actor: "alice"})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.resp.ActorID())
}

func TestAwaitIgnoresOtherCorrelationIDs(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	done := awaitAsync(c, "corr-1", nil, 200*time.Millisecond)
	bus.Publish(testEvent, fakeResponse{id: "corr-other", actor: "alice"})

	res := <-done
	assert.ErrorIs(t, res.err, ErrTimeout)
}

func TestDisallowedResponderIsRejectedAndWaitContinues(t *testing.T) {
	bus := eventbus.New()

	var rejected []string
	c := New(bus, func(resp Response) { rejected = append(rejected, resp.ActorID()) })

	done := awaitAsync(c, "corr-1", []string{"alice"}, time.Second)

	bus.Publish(testEvent, fakeResponse{id: "corr-1", actor: "bob"})
	select {
	case <-done:
		t.Fatal("response from disallowed user must not resolve the prompt")
	case <-time.After(50 * time.Millisecond):
	}

	bus.Publish(testEvent, fakeResponse{id: "corr-1", actor: "alice"})
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.resp.ActorID())
	assert.Equal(t, []string{"bob"}, rejected)
}

func TestTimeoutFiresWithoutResponse(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	start := time.Now()
	_, err := c.Await(context.Background(), testEvent, "corr-1", nil, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestLateResponseAfterTimeoutIsInert(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	_, err := c.Await(context.Background(), testEvent, "corr-1", nil, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// The subscription was removed on timeout; a late response goes nowhere.
	require.NotPanics(t, func() {
		bus.Publish(testEvent, fakeResponse{id: "corr-1", actor: "alice"})
	})
}

func TestFirstAllowedResponseWinsExactlyOnce(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	done := awaitAsync(c, "corr-1", []string{"alice", "bob"}, time.Second)

	// Two allowed users race; both are delivered through the bus in order.
	bus.Publish(testEvent, fakeResponse{id: "corr-1", actor: "alice"})
	bus.Publish(testEvent, fakeResponse{id: "corr-1", actor: "bob"})

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "alice", res.resp.ActorID())

	select {
	case <-done:
		t.Fatal("prompt resolved twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrentPromptsCorrelateIndependently(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	doneA := awaitAsync(c, "corr-a", nil, time.Second)
	doneB := awaitAsync(c, "corr-b", nil, time.Second)

	bus.Publish(testEvent, fakeResponse{id: "corr-b", actor: "bob"})
	bus.Publish(testEvent, fakeResponse{id: "corr-a", actor: "alice"})

	resA := <-doneA
	resB := <-doneB
	require.NoError(t, resA.err)
	require.NoError(t, resB.err)
	assert.Equal(t, "alice", resA.resp.ActorID())
	assert.Equal(t, "bob", resB.resp.ActorID())
}

func TestContextCancelStopsWait(t *testing.T) {
	bus := eventbus.New()
	c := New(bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, testEvent, "corr-1", nil, time.Minute)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewCorrelationIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewCorrelationID("confirm")
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[id], "duplicate correlation id %s", id)
			seen[id] = true
		}()
	}
	wg.Wait()
}
