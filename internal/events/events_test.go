package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ch1, cancel1 := hub.Subscribe()
	ch2, cancel2 := hub.Subscribe()
	defer cancel1()
	defer cancel2()

	assert.Equal(t, 2, hub.SubscriberCount())

	hub.Publish(Event{RunID: "r1", Stage: StageRendering, Round: 2})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, "r1", ev1.RunID)
	assert.Equal(t, StageRendering, ev1.Stage)
	assert.Equal(t, 2, ev1.Round)
	assert.False(t, ev1.Timestamp.IsZero(), "publish stamps the time")
	assert.Equal(t, ev1.RunID, ev2.RunID)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()

	cancel()
	assert.Zero(t, hub.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice is safe.
	cancel()
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overflow the buffer; Publish must never block.
	for i := 0; i < 200; i++ {
		hub.Publish(Event{RunID: "r", Stage: StageScoring, Round: i})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			require.LessOrEqual(t, received, 64)
			assert.Positive(t, received)
			return
		}
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	// Must not panic or block.
	hub.Publish(Event{RunID: "r", Stage: StageDone})
}
