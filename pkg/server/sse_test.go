package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/callflow/callflow/pkg/replication"
)

type sseMessage struct {
	event string
	data  string
}

// readSSE reads the next event from an SSE stream.
func readSSE(t *testing.T, r *bufio.Reader) (sseMessage, error) {
	t.Helper()
	var msg sseMessage
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return msg, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if msg.event != "" {
				return msg, nil
			}
		case strings.HasPrefix(line, "event: "):
			msg.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			msg.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// gatedEngine blocks every replication until release is closed.
func gatedEngine(release <-chan struct{}) replication.Engine {
	var calls int32
	inner := testEngine(&calls)
	return replication.EngineFunc(func(ctx context.Context, task replication.Task) (replication.Output, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return replication.Output{}, ctx.Err()
		}
		return inner.Run(ctx, task)
	})
}

func TestSSE_RunningRunStreamsProgressAndCompletion(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	defer once.Do(func() { close(release) })

	s := newEngineServer(t, gatedEngine(release))
	ts := httptest.NewServer(s)
	defer ts.Close()

	w := do(s, http.MethodPost, "/api/runs", `{"replications":1,"experiment":{"operators":13,"nurses":9,"callback_probability":0.4,"results_collection_period":1000}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var run RunDTO
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("GET events failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	msg, err := readSSE(t, r)
	if err != nil || msg.event != EventInit {
		t.Fatalf("expected init, got %+v, %v", msg, err)
	}
	var init RunDTO
	if err := json.Unmarshal([]byte(msg.data), &init); err != nil {
		t.Fatalf("invalid init data: %v", err)
	}
	if init.Status != StatusRunning {
		t.Errorf("expected running init, got %q", init.Status)
	}

	once.Do(func() { close(release) })

	msg, err = readSSE(t, r)
	if err != nil || msg.event != EventProgress {
		t.Fatalf("expected progress, got %+v, %v", msg, err)
	}
	var p Progress
	if err := json.Unmarshal([]byte(msg.data), &p); err != nil {
		t.Fatalf("invalid progress data: %v", err)
	}
	if p.Done != 1 || p.Total != 1 {
		t.Errorf("unexpected progress %+v", p)
	}

	msg, err = readSSE(t, r)
	if err != nil || msg.event != EventComplete {
		t.Fatalf("expected complete, got %+v, %v", msg, err)
	}
	var done RunDTO
	if err := json.Unmarshal([]byte(msg.data), &done); err != nil {
		t.Fatalf("invalid complete data: %v", err)
	}
	if done.ID != run.ID || done.Status != StatusCompleted {
		t.Errorf("unexpected completion %+v", done)
	}

	if _, err := readSSE(t, r); err != io.EOF {
		t.Errorf("expected stream to end after complete, got %v", err)
	}
}

func TestSSE_FinishedRunSendsInitOnly(t *testing.T) {
	var calls int32
	s := newTestServer(t, &calls)
	run := runSync(t, s, 2)

	w := do(s, http.MethodGet, "/api/runs/"+run.ID+"/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	r := bufio.NewReader(strings.NewReader(w.Body.String()))
	msg, err := readSSE(t, r)
	if err != nil || msg.event != EventInit {
		t.Fatalf("expected init, got %+v, %v", msg, err)
	}
	var init RunDTO
	if err := json.Unmarshal([]byte(msg.data), &init); err != nil {
		t.Fatalf("invalid init data: %v", err)
	}
	if init.Status != StatusCompleted {
		t.Errorf("expected completed init, got %q", init.Status)
	}
	if _, err := readSSE(t, r); err != io.EOF {
		t.Errorf("expected a single event, got %v", err)
	}
	if s.broker.HasSubscribers(run.ID) {
		t.Error("subscription should be released when the stream ends")
	}
}

func TestProgressTracker_PublishesFinalUpdate(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe("r1")
	defer broker.Unsubscribe("r1", ch)

	var seen []Progress
	tracker := NewProgressTracker(broker, "r1", func(p Progress) { seen = append(seen, p) })
	tracker.minInterval = time.Hour

	tracker.Update(1, 3)
	tracker.Update(2, 3)
	tracker.Update(3, 3)

	if len(seen) != 3 {
		t.Errorf("onUpdate should see every update, got %d", len(seen))
	}

	var published []Progress
	for len(ch) > 0 {
		ev := <-ch
		published = append(published, ev.Data.(Progress))
	}
	if len(published) != 2 {
		t.Fatalf("expected first and final update, got %+v", published)
	}
	if published[0].Done != 1 || published[1].Done != 3 || published[1].Total != 3 {
		t.Errorf("unexpected published updates %+v", published)
	}
}

func TestSSEBroker_TerminalEventMakesRoom(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe("r1")
	defer broker.Unsubscribe("r1", ch)

	for i := 0; i < cap(ch)+4; i++ {
		broker.PublishProgress("r1", Progress{Done: i, Total: 100})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d", len(ch))
	}
	broker.PublishComplete("r1", map[string]string{"id": "r1"})

	var last SSEEvent
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Event != EventComplete {
		t.Errorf("expected the complete event to land, last was %q", last.Event)
	}
	if last.ID == "" {
		t.Error("published events should carry an id")
	}
}
