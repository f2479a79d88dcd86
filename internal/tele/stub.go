package tele

import (
	"context"
	"sync"

	"github.com/temoto/penlok/log2"
)

type stub struct{}

func NewStub() Teler { return stub{} }

func (stub) Init(context.Context, *log2.Log, Config, Publisher) error { return nil }
func (stub) Close()                                                   {}
func (stub) Event(Event)                                              {}
func (stub) Error(error)                                              {}

// Recorder keeps events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	errs   []error
	ch     chan Event
}

func NewRecorder() *Recorder { return &Recorder{ch: make(chan Event, 64)} }

func (*Recorder) Init(context.Context, *log2.Log, Config, Publisher) error { return nil }
func (*Recorder) Close()                                                   {}

func (r *Recorder) Event(e Event) {
	e.fill()
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.ch <- e:
	default:
	}
}

func (r *Recorder) Error(e error) {
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
}

// Chan receives copy of every event, drops when full.
func (r *Recorder) Chan() <-chan Event { return r.ch }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := make([]EventKind, len(r.events))
	for i, e := range r.events {
		ks[i] = e.Kind
	}
	return ks
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
