// Package events broadcasts run progress to subscribers. The HTTP
// server's websocket endpoint is the main consumer; the hub itself has
// no transport dependencies so tests subscribe directly.
package events

import (
	"sync"
	"time"
)

// Event is one progress notification for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Round     int       `json:"round,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stage names emitted by the pipeline.
const (
	StageDecomposing = "DECOMPOSING"
	StageScoring     = "SCORING"
	StageSelecting   = "SELECTING"
	StageRendering   = "RENDERING"
	StageJudging     = "JUDGING"
	StageAdjusting   = "ADJUSTING"
	StageDone        = "DONE"
	StageFailed      = "FAILED"
)

// Hub fans events out to subscribers. Slow subscribers drop events
// rather than block the pipeline; progress frames are advisory.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func. The channel is buffered; unsubscribing closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish sends the event to every subscriber that has buffer room.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
