package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registered struct {
	Entity string
	Seq    int
}

func TestPublish_DeliversToEverySubscriber(t *testing.T) {
	bus := New[registered]()

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	for _, name := range []string{"broadcaster", "audit", "stats"} {
		wg.Add(1)
		bus.Subscribe(func(ev registered) {
			defer wg.Done()
			mu.Lock()
			got = append(got, name+":"+ev.Entity)
			mu.Unlock()
		})
	}

	bus.Publish(registered{Entity: "venue"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async delivery")
	}
	assert.ElementsMatch(t, []string{"broadcaster:venue", "audit:venue", "stats:venue"}, got)
}

func TestPublishSync_PreservesOrder(t *testing.T) {
	bus := New[registered]()

	var first, second []int
	bus.Subscribe(func(ev registered) { first = append(first, ev.Seq) })
	bus.Subscribe(func(ev registered) {
		// Runs after the first subscriber for the same event.
		require.Len(t, first, ev.Seq+1)
		second = append(second, ev.Seq)
	})

	for i := 0; i < 5; i++ {
		bus.PublishSync(registered{Entity: "pool", Seq: i})
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, first)
	assert.Equal(t, first, second)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	bus := New[registered]()

	calls := 0
	keep := 0
	unsubscribe := bus.Subscribe(func(registered) { calls++ })
	bus.Subscribe(func(registered) { keep++ })
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.PublishSync(registered{})
	unsubscribe()
	unsubscribe()
	bus.PublishSync(registered{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, keep)
	assert.Equal(t, 1, bus.SubscriberCount())
	assert.True(t, bus.HasSubscribers())
}

// A handler may unsubscribe itself while the bus is delivering.
func TestUnsubscribe_FromHandler(t *testing.T) {
	bus := New[registered]()

	calls := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(func(registered) {
		calls++
		unsubscribe()
	})

	bus.PublishSync(registered{})
	bus.PublishSync(registered{})
	assert.Equal(t, 1, calls)
	assert.False(t, bus.HasSubscribers())
}

func TestPublish_NoSubscribers(t *testing.T) {
	bus := New[registered]()
	assert.NotPanics(t, func() {
		bus.Publish(registered{})
		bus.PublishSync(registered{})
	})
	assert.Zero(t, bus.SubscriberCount())
}
