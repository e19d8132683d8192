package eventbus

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

func TestPublishOrdered(t *testing.T) {
	bus := New(slog.Default())

	var got []string
	bus.Subscribe(domain.EventStreamDelta, func(_ context.Context, e domain.Event) {
		got = append(got, string(e.Payload))
	})

	for _, p := range []string{"a", "b", "c"} {
		bus.Publish(context.Background(), domain.Event{
			Type:    domain.EventStreamDelta,
			Payload: []byte(p),
		})
	}

	// Dispatch is synchronous, so anything published is already delivered.
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestTypedAndAllSubscribers(t *testing.T) {
	bus := New(slog.Default())

	var typed, all int
	bus.Subscribe(domain.EventStreamCompleted, func(_ context.Context, _ domain.Event) { typed++ })
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) { all++ })

	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamCompleted})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventProgressLogged})

	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)
}

func TestUnsubscribe(t *testing.T) {
	bus := New(slog.Default())

	var calls int
	unsub := bus.Subscribe(domain.EventProgressLogged, func(_ context.Context, _ domain.Event) { calls++ })

	bus.Publish(context.Background(), domain.Event{Type: domain.EventProgressLogged})
	unsub()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventProgressLogged})

	assert.Equal(t, 1, calls)
}

func TestPanickingHandlerRecovered(t *testing.T) {
	bus := New(slog.Default())

	var after int
	bus.Subscribe(domain.EventStreamError, func(_ context.Context, _ domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventStreamError, func(_ context.Context, _ domain.Event) { after++ })

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamError})
	})
	assert.Equal(t, 1, after, "handler after the panicking one still runs")
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := New(slog.Default())

	var calls int
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) { calls++ })

	bus.Close()
	bus.Close() // idempotent
	bus.Publish(context.Background(), domain.Event{Type: domain.EventStreamDelta})

	assert.Zero(t, calls)
}
