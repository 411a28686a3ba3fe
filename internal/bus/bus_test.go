package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishSync_DeliversToSubscribers(t *testing.T) {
	b := NewEventBus()
	var got atomic.Int32

	b.Subscribe(EventTypePlaybackChanged, func(e Event) {
		if e.Data["state"] == "idle" {
			got.Add(1)
		}
	})
	b.Subscribe(EventTypePlaybackChanged, func(Event) { got.Add(1) })
	b.Subscribe(EventTypeSessionChanged, func(Event) { got.Add(100) })

	b.PublishSync(Event{Type: EventTypePlaybackChanged, Data: map[string]any{"state": "idle"}})

	assert.Equal(t, int32(2), got.Load())
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewEventBus()
	var got atomic.Int32

	unsub := b.Subscribe(EventTypeTranscript, func(Event) { got.Add(1) })
	b.PublishSync(Event{Type: EventTypeTranscript})
	unsub()
	unsub() // idempotent
	b.PublishSync(Event{Type: EventTypeTranscript})

	assert.Equal(t, int32(1), got.Load())
}

func TestSubscribeMultiple(t *testing.T) {
	b := NewEventBus()
	var got atomic.Int32

	unsub := b.SubscribeMultiple([]EventType{EventTypeRequestFailed, EventTypeResponseReady}, func(Event) { got.Add(1) })
	b.PublishSync(Event{Type: EventTypeRequestFailed})
	b.PublishSync(Event{Type: EventTypeResponseReady})
	unsub()
	b.PublishSync(Event{Type: EventTypeResponseReady})

	assert.Equal(t, int32(2), got.Load())
}

func TestPublish_IsAsynchronous(t *testing.T) {
	b := NewEventBus()
	done := make(chan struct{})

	b.Subscribe(EventTypeCaptureError, func(Event) { close(done) })
	b.Publish(Event{Type: EventTypeCaptureError})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestClear(t *testing.T) {
	b := NewEventBus()
	var got atomic.Int32
	b.Subscribe(EventTypeTurnStarted, func(Event) { got.Add(1) })
	b.Clear()
	b.PublishSync(Event{Type: EventTypeTurnStarted})
	assert.Zero(t, got.Load())
}
