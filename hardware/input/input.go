// Package input merges keypad sources into one stream of kiosk key events.
package input

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/types"
	"github.com/temoto/penlok/log2"
)

// Source read errors are retried after this delay.
const SourceRetry = time.Second

type Source interface {
	Read() (types.InputEvent, error)
	String() string
}

type sub struct {
	name string
	ch   chan types.InputEvent
	stop <-chan struct{}
}

type heldKey struct {
	source string
	key    types.InputKey
}

// Dispatch fans keypad events out to named subscribers.
// Only 0-9 * # pass. Release is forwarded only after press of the same key
// from the same source, so a key held across screen change is not read twice.
type Dispatch struct {
	Log  *log2.Log
	bus  chan types.InputEvent
	mu   sync.Mutex
	subs map[string]*sub
	held map[heldKey]struct{} // Run goroutine only
	stop <-chan struct{}
}

func NewDispatch(log *log2.Log, stop <-chan struct{}) *Dispatch {
	return &Dispatch{
		Log:  log,
		bus:  make(chan types.InputEvent),
		subs: make(map[string]*sub, 4),
		held: make(map[heldKey]struct{}, 4),
		stop: stop,
	}
}

// SubscribeChan returns channel closed after substop when next event arrives.
// Delivery blocks until subscriber reads.
func (self *Dispatch) SubscribeChan(name string, substop <-chan struct{}) <-chan types.InputEvent {
	s := &sub{
		name: name,
		ch:   make(chan types.InputEvent),
		stop: substop,
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if existing, ok := self.subs[s.name]; ok {
		select {
		case <-existing.stop:
			self.subClose(existing)
		default:
			panic("code error input duplicate subscribe name=" + s.name)
		}
	}
	self.subs[s.name] = s
	return s.ch
}

func (self *Dispatch) Run(sources []Source) {
	for _, source := range sources {
		go self.readSource(source)
	}

	for {
		select {
		case event := <-self.bus:
			if !self.accept(event) {
				self.Log.Debugf("input skip event=%s", event.String())
				continue
			}
			self.mu.Lock()
			if len(self.subs) == 0 {
				self.Log.Debugf("input is not handled event=%s", event.String())
			}
			for _, s := range self.subs {
				self.subFire(s, event)
			}
			self.mu.Unlock()

		case <-self.stop:
			drain(self.bus)
			return
		}
	}
}

func (self *Dispatch) Emit(event types.InputEvent) {
	select {
	case self.bus <- event:
		self.Log.Debugf("input emit=%s", event.String())
	case <-self.stop:
		return
	}
}

func (self *Dispatch) accept(e types.InputEvent) bool {
	if !e.IsKeypad() {
		return false
	}
	hk := heldKey{source: e.Source, key: e.Key}
	if !e.Up {
		self.held[hk] = struct{}{}
		return true
	}
	if _, ok := self.held[hk]; !ok {
		return false
	}
	delete(self.held, hk)
	return true
}

func (self *Dispatch) subFire(s *sub, event types.InputEvent) {
	select {
	case <-s.stop:
		self.subClose(s)
		return
	default:
	}

	if s.ch == nil {
		panic(fmt.Sprintf("input sub=%s ch=nil", s.name))
	}
	select {
	case s.ch <- event:
	case <-s.stop:
		self.subClose(s)
	case <-self.stop:
	}
}

func (self *Dispatch) subClose(s *sub) {
	close(s.ch)
	delete(self.subs, s.name)
}

func (self *Dispatch) readSource(source Source) {
	tag := source.String()
	for {
		event, err := source.Read()
		if err != nil {
			self.Log.Error(errors.Annotatef(err, "input source=%s", tag))
			if !helpers.SleepStop(SourceRetry, self.stop) {
				return
			}
			continue
		}
		self.Emit(event)
	}
}

func drain(ch <-chan types.InputEvent) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
