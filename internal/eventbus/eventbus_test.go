package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesSnapshotAndEvents(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.RegisterSnapshot("workers", func(topic string) any {
		return map[string]int{"active": 3}
	})

	sub := bus.Subscribe("workers")
	snap, ok := sub.Snapshot.(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 3, snap["active"])

	bus.Publish("workers", "worker_started", map[string]string{"id": "w1"})

	select {
	case evt := <-sub.Events:
		assert.Equal(t, "worker_started", evt.Type)
		assert.Equal(t, "workers", evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeWithoutSnapshotFuncIsNil(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe("spec:abc")
	assert.Nil(t, sub.Snapshot)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe("workers")

	done := make(chan struct{})
	go func() {
		for i := 0; i < ringBufferSize*2; i++ {
			bus.Publish("workers", "tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber instead of dropping")
	}

	// Drain whatever made it through; should not panic or hang.
	drained := 0
	for {
		select {
		case _, ok := <-sub.Events:
			if !ok {
				return
			}
			drained++
		default:
			assert.LessOrEqual(t, drained, ringBufferSize)
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe("workers")
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	_, ok := <-sub.Events
	assert.False(t, ok)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := New(zerolog.Nop())
	specSub := bus.Subscribe("spec:123")
	workerSub := bus.Subscribe("workers")

	bus.Publish("spec:123", "chunk_start", nil)

	select {
	case <-specSub.Events:
	case <-time.After(time.Second):
		t.Fatal("expected event on spec:123")
	}

	select {
	case <-workerSub.Events:
		t.Fatal("workers topic should not have received the spec:123 event")
	case <-time.After(50 * time.Millisecond):
	}
}
