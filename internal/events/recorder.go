package events

import (
	"context"
	"sync"
)

// Recorder is an in-memory Publisher that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []SourceImageRegistered
	err    error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Name implements Publisher.
func (r *Recorder) Name() string { return "memory" }

// PublishSourceImage implements Publisher.
func (r *Recorder) PublishSourceImage(_ context.Context, event SourceImageRegistered) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// FailWith makes subsequent publishes return err. A nil err clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []SourceImageRegistered {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceImageRegistered, len(r.events))
	copy(out, r.events)
	return out
}

// Close implements Publisher.
func (r *Recorder) Close() error { return nil }
