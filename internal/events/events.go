package events

import (
	"context"
	"sync"
)

// JobStream is the pub/sub channel carrying every job-related event.
const JobStream = "events:job"

// Event types
const (
	EventJobCreated       = "job_created"
	EventJobStatusChanged = "job_status_changed"
	EventJobSettled       = "job_settled"
	EventDisputeRaised    = "dispute_raised"
	EventDisputeDecided   = "dispute_decided"
	EventWalletCredited   = "wallet_credited"
)

// Event is fanned out to websocket clients. Recipients lists the user ids
// that should receive it; an empty list means every connected user.
type Event struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Recipients []string       `json:"recipients,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Recorder keeps published events in memory. It backs single-process runs
// and tests.
type Recorder struct {
	mu       sync.Mutex
	events   []Event
	handlers map[string][]func(Event)
}

func NewRecorder() *Recorder {
	return &Recorder{handlers: map[string][]func(Event){}}
}

func (r *Recorder) Publish(_ context.Context, stream string, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	hs := append([]func(Event){}, r.handlers[stream]...)
	r.mu.Unlock()

	for _, h := range hs {
		h(event)
	}
	return nil
}

func (r *Recorder) Subscribe(_ context.Context, stream string, handler func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stream] = append(r.handlers[stream], handler)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of the given type were published.
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}
