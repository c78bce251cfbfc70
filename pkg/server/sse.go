package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SSE event names.
const (
	EventInit     = "init"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// SSEBroker fans run events out to Server-Sent Events subscribers.
type SSEBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan SSEEvent]struct{}
}

// SSEEvent represents an event to send to clients.
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	ID    string      `json:"id,omitempty"`
}

// NewSSEBroker creates a new SSE broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		subscribers: make(map[string]map[chan SSEEvent]struct{}),
	}
}

// Subscribe creates a subscription for a run.
func (b *SSEBroker) Subscribe(runID string) chan SSEEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SSEEvent, 16)
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = make(map[chan SSEEvent]struct{})
	}
	b.subscribers[runID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription.
func (b *SSEBroker) Unsubscribe(runID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[runID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, runID)
		}
	}
}

// Publish sends an event to all subscribers of a run. Progress events are
// dropped for slow subscribers; terminal events are not.
func (b *SSEBroker) Publish(runID string, event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.ID == "" {
		event.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	terminal := event.Event == EventComplete || event.Event == EventError
	for ch := range b.subscribers[runID] {
		if terminal {
			// Make room so the terminal event always lands.
			select {
			case ch <- event:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- event:
				default:
				}
			}
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishProgress sends a replication progress update.
func (b *SSEBroker) PublishProgress(runID string, p Progress) {
	b.Publish(runID, SSEEvent{Event: EventProgress, Data: p})
}

// PublishComplete sends a completion event.
func (b *SSEBroker) PublishComplete(runID string, result interface{}) {
	b.Publish(runID, SSEEvent{Event: EventComplete, Data: result})
}

// PublishError sends an error event.
func (b *SSEBroker) PublishError(runID string, err error) {
	b.Publish(runID, SSEEvent{Event: EventError, Data: errorBody(err)})
}

// HasSubscribers checks if a run has any subscribers.
func (b *SSEBroker) HasSubscribers(runID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[runID]) > 0
}

// SSEHandler streams events of the run named by the {id} path value.
// snapshot returns the run's current state and whether it is finished; a
// finished run gets its init event and the stream ends.
func (b *SSEBroker) SSEHandler(snapshot func(id string) (interface{}, bool, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := r.PathValue("id")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		// Subscribe before the snapshot so no event falls between the two.
		ch := b.Subscribe(runID)
		defer b.Unsubscribe(runID, ch)

		state, finished, found := snapshot(runID)
		if !found {
			jsonError(w, "run not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		writeSSEEvent(w, SSEEvent{Event: EventInit, Data: state})
		flusher.Flush()
		if finished {
			return
		}

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				writeSSEEvent(w, event)
				flusher.Flush()

				if event.Event == EventComplete || event.Event == EventError {
					return
				}
			}
		}
	}
}

// writeSSEEvent writes an event in SSE format.
func writeSSEEvent(w http.ResponseWriter, event SSEEvent) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	fmt.Fprintf(w, "event: %s\n", event.Event)

	data, err := json.Marshal(event.Data)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// ProgressTracker rate-limits replication progress into the broker.
type ProgressTracker struct {
	broker      *SSEBroker
	runID       string
	lastUpdate  time.Time
	minInterval time.Duration
	mu          sync.Mutex
	onUpdate    func(Progress)
}

// NewProgressTracker creates a tracker for runID. onUpdate, if set, sees
// every update including the rate-limited ones.
func NewProgressTracker(broker *SSEBroker, runID string, onUpdate func(Progress)) *ProgressTracker {
	return &ProgressTracker{
		broker:      broker,
		runID:       runID,
		minInterval: 100 * time.Millisecond,
		onUpdate:    onUpdate,
	}
}

// Update records that done of total replications have finished. The final
// update is always published.
func (t *ProgressTracker) Update(done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Progress{Done: done, Total: total}
	if t.onUpdate != nil {
		t.onUpdate(p)
	}
	if done < total && time.Since(t.lastUpdate) < t.minInterval {
		return
	}
	t.lastUpdate = time.Now()
	t.broker.PublishProgress(t.runID, p)
}
