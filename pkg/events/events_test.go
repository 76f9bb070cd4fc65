package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, sub Subscriber) Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribePublishDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(Event{Type: EventLeaderElected, NodeID: 1, Message: "node 1 elected"})

	ev := recvOne(t, sub)
	assert.Equal(t, EventLeaderElected, ev.Type)
	assert.Equal(t, uint64(1), ev.NodeID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subB)

	b.Publish(Event{Type: EventConfigSettled})

	for _, sub := range []Subscriber{subA, subB} {
		require.Equal(t, EventConfigSettled, recvOne(t, sub).Type)
	}
}

func TestLaggingSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Publish well past the subscriber's buffer without draining it; the
	// broker must keep accepting rather than stalling the publisher.
	for i := 0; i < subscriberBuffer*3; i++ {
		b.Publish(Event{Type: EventSnapshotCreated})
	}

	drained := 0
	deadline := time.After(time.Second)
	for drained < subscriberBuffer {
		select {
		case <-sub:
			drained++
		case <-deadline:
			t.Fatalf("only drained %d of %d buffered events", drained, subscriberBuffer)
		}
	}
}
