package redisbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/logging"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

type bookingCreated struct {
	BookingID string `json:"bookingId"`
	Seats     int    `json:"seats"`
}

func newClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newPair returns two started buses sharing one Redis server, as two
// processes would.
func newPair(t *testing.T) (*miniredis.Miniredis, *Bus, *Bus) {
	t.Helper()
	mr := miniredis.RunT(t)

	a := New(newClient(t, mr))
	b := New(newClient(t, mr))
	for _, bus := range []*Bus{a, b} {
		require.NoError(t, bus.Start(context.Background()))
		t.Cleanup(func() { _ = bus.Close() })
	}
	return mr, a, b
}

func TestRemoteDelivery(t *testing.T) {
	_, a, b := newPair(t)

	received := make(chan bookingCreated, 1)
	var meta eventbus.Metadata
	a.Subscribe("booking.created", eventbus.Typed(func(_ context.Context, p bookingCreated, m eventbus.Metadata) error {
		meta = m
		received <- p
		return nil
	}))

	require.Eventually(t, func() bool { return b.HasSubscribers("booking.created") }, waitFor, tick)

	report, err := b.PublishWithReport(context.Background(), "booking.created",
		bookingCreated{BookingID: "b1", Seats: 2},
		eventbus.WithActor("user-1", "org-1"),
	)
	require.NoError(t, err)
	assert.Zero(t, report.Invoked)

	select {
	case got := <-received:
		assert.Equal(t, bookingCreated{BookingID: "b1", Seats: 2}, got)
	case <-time.After(waitFor):
		t.Fatal("remote handler was not invoked")
	}
	assert.Equal(t, report.EventID, meta.ID)
	assert.Equal(t, "org-1", meta.OrganizationID)

	require.Len(t, b.RecentHistory(0), 1)
	require.Eventually(t, func() bool { return a.Stats().TotalEvents == 1 }, waitFor, tick)
	assert.Equal(t, report.EventID, a.RecentHistory(1)[0].ID)
}

func TestOwnEnvelopesAreNotRedelivered(t *testing.T) {
	_, a, b := newPair(t)

	var localCalls, remoteCalls atomic.Int32
	a.Subscribe("shift.published", func(context.Context, any, eventbus.Metadata) error {
		localCalls.Add(1)
		return nil
	})
	b.Subscribe("shift.published", func(context.Context, any, eventbus.Metadata) error {
		remoteCalls.Add(1)
		return nil
	})
	require.Eventually(t, func() bool {
		counts, err := a.client.PubSubNumSub(context.Background(), a.channel("shift.published")).Result()
		return err == nil && counts[a.channel("shift.published")] == 2
	}, waitFor, tick)

	require.NoError(t, a.Publish(context.Background(), "shift.published", map[string]any{"shiftId": "s1"}))
	assert.EqualValues(t, 1, localCalls.Load(), "local handlers run during Publish")

	require.Eventually(t, func() bool { return remoteCalls.Load() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return localCalls.Load() > 1 }, 200*time.Millisecond, tick)
	assert.EqualValues(t, 1, a.Stats().TotalEvents)
}

func TestUnsubscribeLeavesChannel(t *testing.T) {
	_, a, b := newPair(t)

	t1 := a.Subscribe("kit.checked_out", func(context.Context, any, eventbus.Metadata) error { return nil })
	t2 := a.Subscribe("kit.checked_out", func(context.Context, any, eventbus.Metadata) error { return nil })
	require.Eventually(t, func() bool { return b.HasSubscribers("kit.checked_out") }, waitFor, tick)

	a.Unsubscribe(t1)
	a.Unsubscribe(t1)
	assert.True(t, a.HasSubscribers("kit.checked_out"))
	assert.Never(t, func() bool { return !b.HasSubscribers("kit.checked_out") }, 100*time.Millisecond, tick)

	a.Unsubscribe(t2)
	require.Eventually(t, func() bool { return !b.HasSubscribers("kit.checked_out") }, waitFor, tick)
	assert.False(t, a.HasSubscribers("kit.checked_out"))
}

func TestSubscribeBeforeStart(t *testing.T) {
	mr := miniredis.RunT(t)
	a := New(newClient(t, mr), WithPrefix("test:"))
	b := New(newClient(t, mr), WithPrefix("test:"))
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	got := make(chan any, 1)
	a.Subscribe("staff.assigned", func(_ context.Context, payload any, _ eventbus.Metadata) error {
		got <- payload
		return nil
	})
	assert.False(t, b.HasSubscribers("staff.assigned"))

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return b.HasSubscribers("staff.assigned") }, waitFor, tick)
	assert.Equal(t, []string{"test:staff.assigned"}, mr.PubSubChannels("test:*"))

	require.NoError(t, b.Publish(context.Background(), "staff.assigned", "s-1"))
	select {
	case p := <-got:
		assert.Equal(t, "s-1", p)
	case <-time.After(waitFor):
		t.Fatal("handler registered before Start was not subscribed")
	}
}

func TestRemoteHandlerFailureIsIsolated(t *testing.T) {
	_, a, b := newPair(t)

	var hooked, healthy atomic.Int32
	failing := New(a.client, WithBusOptions(eventbus.WithFailureHook(func(context.Context, eventbus.HandlerFailure) {
		hooked.Add(1)
	})))
	require.NoError(t, failing.Start(context.Background()))
	t.Cleanup(func() { _ = failing.Close() })

	failing.Subscribe("expense.approved", func(context.Context, any, eventbus.Metadata) error {
		panic("template missing")
	})
	failing.Subscribe("expense.approved", func(context.Context, any, eventbus.Metadata) error {
		healthy.Add(1)
		return nil
	})
	require.Eventually(t, func() bool { return b.HasSubscribers("expense.approved") }, waitFor, tick)

	require.NoError(t, b.Publish(context.Background(), "expense.approved", nil))
	require.Eventually(t, func() bool { return hooked.Load() == 1 && healthy.Load() == 1 }, waitFor, tick)

	// The receive loop survives the panic.
	require.NoError(t, b.Publish(context.Background(), "expense.approved", nil))
	require.Eventually(t, func() bool { return hooked.Load() == 2 && healthy.Load() == 2 }, waitFor, tick)
	assert.EqualValues(t, 2, failing.Stats().TotalEvents)
}

func TestGarbageOnChannelIsDropped(t *testing.T) {
	_, a, b := newPair(t)

	got := make(chan struct{}, 1)
	a.Subscribe("booking.created", func(context.Context, any, eventbus.Metadata) error {
		got <- struct{}{}
		return nil
	})
	require.Eventually(t, func() bool { return b.HasSubscribers("booking.created") }, waitFor, tick)

	require.NoError(t, b.client.Publish(context.Background(), a.channel("booking.created"), "{not json").Err())
	require.NoError(t, b.client.Publish(context.Background(), a.channel("booking.created"), `{"origin":"x","name":" "}`).Err())
	require.NoError(t, b.Publish(context.Background(), "booking.created", nil))

	select {
	case <-got:
	case <-time.After(waitFor):
		t.Fatal("valid event after garbage was not delivered")
	}
	assert.EqualValues(t, 1, a.Stats().TotalEvents)
}

func TestPublishValidation(t *testing.T) {
	mr, a, _ := newPair(t)

	err := a.Publish(context.Background(), "  ", nil)
	assert.ErrorIs(t, err, eventbus.ErrEmptyEventName)

	err = a.Publish(context.Background(), "booking.created", make(chan int))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeInvalid, ""))

	assert.Zero(t, a.Stats().TotalEvents)
	assert.Empty(t, mr.PubSubChannels(""))
}

func TestPublishReportsTransportFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr)
	bus := New(client)

	var ran atomic.Bool
	bus.Subscribe("booking.created", func(context.Context, any, eventbus.Metadata) error {
		ran.Store(true)
		return nil
	})

	mr.Close()
	err := bus.Publish(context.Background(), "booking.created", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.New(errors.ErrorTypeBackend, ""))
	assert.True(t, ran.Load(), "local handlers still run")
	assert.EqualValues(t, 1, bus.Stats().TotalEvents)
}

func TestLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := New(newClient(t, mr))

	require.NoError(t, bus.Close(), "closing an unstarted bus")
	assert.ErrorIs(t, bus.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), "booking.created", nil), ErrClosed)

	other := New(newClient(t, mr))
	require.NoError(t, other.Start(context.Background()))
	assert.Error(t, other.Start(context.Background()))
	require.NoError(t, other.Close())
	require.NoError(t, other.Close())
}

func TestClearAllLeavesChannels(t *testing.T) {
	mr, a, b := newPair(t)

	a.Subscribe("booking.created", func(context.Context, any, eventbus.Metadata) error { return nil })
	a.Subscribe("shift.published", func(context.Context, any, eventbus.Metadata) error { return nil })
	require.Eventually(t, func() bool { return len(mr.PubSubChannels(DefaultPrefix + "*")) == 2 }, waitFor, tick)
	require.NoError(t, a.Publish(context.Background(), "booking.created", nil))

	assert.Equal(t, 1, a.ClearEvent("shift.published"))
	require.Eventually(t, func() bool { return !b.HasSubscribers("shift.published") }, waitFor, tick)

	a.ClearAll()
	require.Eventually(t, func() bool { return len(mr.PubSubChannels(DefaultPrefix + "*")) == 0 }, waitFor, tick)
	stats := a.Stats()
	assert.Zero(t, stats.TotalEvents)
	assert.Zero(t, stats.TotalSubscribers)
}

func TestSlowRemoteHandlerDoesNotBlockOtherEvents(t *testing.T) {
	_, a, b := newPair(t)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	started := make(chan struct{}, 1)
	a.Subscribe("shift.published", func(ctx context.Context, _ any, _ eventbus.Metadata) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	booked := make(chan struct{}, 1)
	a.Subscribe("booking.created", func(context.Context, any, eventbus.Metadata) error {
		booked <- struct{}{}
		return nil
	})
	require.Eventually(t, func() bool {
		return b.HasSubscribers("shift.published") && b.HasSubscribers("booking.created")
	}, waitFor, tick)

	require.NoError(t, b.Publish(context.Background(), "shift.published", nil))
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("shift.published handler was not invoked")
	}

	require.NoError(t, b.Publish(context.Background(), "booking.created", nil))
	select {
	case <-booked:
	case <-time.After(waitFor):
		t.Fatal("booking.created was held up by a blocked shift.published handler")
	}
}

func TestRemoteEventsOfOneNameKeepOrder(t *testing.T) {
	_, a, b := newPair(t)

	var mu sync.Mutex
	var got []float64
	a.Subscribe("staff.assigned", func(_ context.Context, payload any, _ eventbus.Metadata) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		got = append(got, payload.(map[string]any)["seq"].(float64))
		return nil
	})
	require.Eventually(t, func() bool { return b.HasSubscribers("staff.assigned") }, waitFor, tick)

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(context.Background(), "staff.assigned", map[string]int{"seq": i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, waitFor, tick)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, got)

	history := a.RecentHistory(0)
	require.Len(t, history, 5)
	for i, entry := range history {
		assert.EqualValues(t, i+1, entry.Payload.(map[string]any)["seq"])
	}
}

func TestPublishRunsLocalHandlersBeforeRedis(t *testing.T) {
	_, a, b := newPair(t)

	var remoteCalls atomic.Int32
	b.Subscribe("expense.submitted", func(context.Context, any, eventbus.Metadata) error {
		remoteCalls.Add(1)
		return nil
	})
	var remoteDuringLocal atomic.Int32
	remoteDuringLocal.Store(-1)
	a.Subscribe("expense.submitted", func(context.Context, any, eventbus.Metadata) error {
		time.Sleep(50 * time.Millisecond)
		remoteDuringLocal.Store(remoteCalls.Load())
		return nil
	})
	require.Eventually(t, func() bool {
		counts, err := a.client.PubSubNumSub(context.Background(), a.channel("expense.submitted")).Result()
		return err == nil && counts[a.channel("expense.submitted")] == 2
	}, waitFor, tick)

	require.NoError(t, a.Publish(context.Background(), "expense.submitted", nil))
	assert.EqualValues(t, 0, remoteDuringLocal.Load(), "remote processes hear the event only after local handlers settle")
	require.Eventually(t, func() bool { return remoteCalls.Load() == 1 }, waitFor, tick)
}

func TestCloseWaitsForRemoteDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	a := New(newClient(t, mr))
	b := New(newClient(t, mr))
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Close() })

	started := make(chan struct{})
	var finished atomic.Bool
	a.Subscribe("kit.checked_out", func(ctx context.Context, _ any, _ eventbus.Metadata) error {
		close(started)
		<-ctx.Done()
		finished.Store(true)
		return nil
	})
	require.Eventually(t, func() bool { return b.HasSubscribers("kit.checked_out") }, waitFor, tick)
	require.NoError(t, b.Publish(context.Background(), "kit.checked_out", nil))

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("remote handler was not invoked")
	}
	require.NoError(t, a.Close())
	assert.True(t, finished.Load(), "Close returns after in-flight handlers settle")
}

func TestRemoteDeliveryKeepsContextCorrelation(t *testing.T) {
	_, a, b := newPair(t)

	got := make(chan string, 1)
	a.Subscribe("expense.approved", func(_ context.Context, _ any, meta eventbus.Metadata) error {
		got <- meta.CorrelationID
		return nil
	})
	require.Eventually(t, func() bool { return b.HasSubscribers("expense.approved") }, waitFor, tick)

	ctx := logging.SetCorrelationID(context.Background(), "corr-81")
	require.NoError(t, b.Publish(ctx, "expense.approved", nil))

	select {
	case id := <-got:
		assert.Equal(t, "corr-81", id)
	case <-time.After(waitFor):
		t.Fatal("remote handler was not invoked")
	}
}
