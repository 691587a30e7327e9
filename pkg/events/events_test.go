package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestSubscribeReceivesEveryType(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventNodeJoined})
	b.Publish(&Event{Type: EventInstanceCreated})

	select {
	case ev := <-sub:
		assert.Equal(t, EventNodeJoined, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first event")
	}
	select {
	case ev := <-sub:
		assert.Equal(t, EventInstanceCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second event")
	}
}

func TestSubscribeToFiltersOtherTypes(t *testing.T) {
	b := newTestBroker(t)
	sub := b.SubscribeTo(EventNodeJoined, EventNodeLeft)
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventInstanceCreated})
	b.Publish(&Event{Type: EventNodeJoined})

	select {
	case ev := <-sub:
		assert.Equal(t, EventNodeJoined, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case ev := <-sub:
		t.Fatalf("unexpected event delivered: %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishFillsIDAndTimestamp(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventQueueOp})

	ev := <-sub
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}
