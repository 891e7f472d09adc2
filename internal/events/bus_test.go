package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishNoSubscribers(t *testing.T) {
	b := NewBus(10)
	// Should not panic and should not block
	b.Publish(New(RowCreated, 1, 1))
}

func TestBus_SubscribeReceivesEvent(t *testing.T) {
	b := NewBus(10)
	sub := b.Subscribe()

	ev := New(FieldCreated, 7, 3)
	b.Publish(ev)

	select {
	case got := <-sub.Ch:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, FieldCreated, got.Type)
		assert.EqualValues(t, 7, got.User)
		assert.EqualValues(t, 3, got.TableID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event within timeout")
	}
}

func TestBus_FilterExcludesNonMatching(t *testing.T) {
	b := NewBus(10)
	sub := b.Subscribe(RowDeleted)

	b.Publish(New(RowCreated, 1, 1))
	b.Publish(New(RowDeleted, 1, 1))

	got := sub.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, RowDeleted, got[0].Type)
}

func TestBus_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(1)
	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(New(RowUpdated, 1, 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, sub.Drain(), 1)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(1)
	sub := b.Subscribe()
	b.Unsubscribe(sub.ID)

	_, ok := <-sub.Ch
	assert.False(t, ok)

	// publishing after unsubscribe must not panic on the closed channel
	b.Publish(New(TableCreated, 1, 1))
}

func TestNew_AssignsUniqueIDs(t *testing.T) {
	a := New(ViewCreated, 1, 1)
	c := New(ViewCreated, 1, 1)
	assert.NotEqual(t, a.ID, c.ID)
	assert.False(t, a.Timestamp.IsZero())
}
