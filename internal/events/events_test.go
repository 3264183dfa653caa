package events

import (
	"context"
	"testing"
)

func TestRecorderDeliversToSubscribers(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	var onJob, onOther []string
	if err := r.Subscribe(ctx, JobStream, func(e Event) { onJob = append(onJob, e.Type) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Subscribe(ctx, "events:other", func(e Event) { onOther = append(onOther, e.Type) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// a handler that publishes again must not deadlock the recorder
	if err := r.Subscribe(ctx, JobStream, func(e Event) {
		if e.Type == EventJobStatusChanged {
			_ = r.Publish(ctx, "events:other", Event{Type: EventJobSettled})
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, typ := range []string{EventJobCreated, EventJobStatusChanged} {
		if err := r.Publish(ctx, JobStream, Event{Type: typ}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(onJob) != 2 || onJob[0] != EventJobCreated || onJob[1] != EventJobStatusChanged {
		t.Errorf("job stream handler got %v", onJob)
	}
	if len(onOther) != 1 || onOther[0] != EventJobSettled {
		t.Errorf("other stream handler got %v", onOther)
	}
	if got := r.Count(EventJobStatusChanged); got != 1 {
		t.Errorf("Count(%s) = %d, want 1", EventJobStatusChanged, got)
	}
	if got := len(r.Events()); got != 3 {
		t.Errorf("recorded %d events, want 3", got)
	}
}
