package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubBasic(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "events:1")
	require.NoError(t, err)
	defer cancel()

	err = ps.Publish(ctx, "events:1", "hello")
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Equal(t, "events:1", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestPubSubUnsubscribe(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "ch")
	require.NoError(t, err)

	cancel() // unsubscribe

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after cancel")
	}

	// Publish to an unsubscribed channel must not block.
	err = ps.Publish(ctx, "ch", "msg")
	assert.NoError(t, err)
}

func TestPubSubMultipleSubscribers(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch1, cancel1, _ := ps.Subscribe(ctx, "events:7")
	ch2, cancel2, _ := ps.Subscribe(ctx, "events:7")
	defer cancel1()
	defer cancel2()

	require.NoError(t, ps.Publish(ctx, "events:7", "fanout"))

	for _, ch := range []<-chan *LocalMessage{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, "fanout", msg.Payload)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("subscriber missed message")
		}
	}
}

func TestPubSubNonBlockingWhenFull(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	_, cancel, _ := ps.Subscribe(ctx, "busy")
	defer cancel()

	// Buffer holds one; further publishes drop instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = ps.Publish(ctx, "busy", "m")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}
