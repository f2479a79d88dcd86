// Package locker is the only place that pulses door relays.
// Pulses on one slot never overlap, different slots run independently.
package locker

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/log2"
)

const DefaultPulse = time.Second

type State uint32

const (
	StateIdle State = iota
	StateActuating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActuating:
		return "actuating"
	}
	return "invalid"
}

type Slot struct {
	ID     string
	Pulse  time.Duration
	relay  pin.Setter
	sem    chan struct{}
	state  uint32 // atomic State
	pulses uint64 // atomic
}

func (s *Slot) State() State   { return State(atomic.LoadUint32(&s.state)) }
func (s *Slot) Pulses() uint64 { return atomic.LoadUint64(&s.pulses) }

type SlotStatus struct {
	ID     string
	State  State
	Pulses uint64
}

type Actuator struct {
	log   *log2.Log
	slots map[string]*Slot
}

func NewActuator(log *log2.Log) *Actuator {
	return &Actuator{log: log, slots: make(map[string]*Slot)}
}

// Add registers slot and switches its relay off. Not safe to call concurrently with Trigger.
func (self *Actuator) Add(id string, relay pin.Setter, pulse time.Duration) error {
	if _, ok := self.slots[id]; ok {
		return errors.AlreadyExistsf("locker=%s", id)
	}
	if pulse == 0 {
		pulse = DefaultPulse
	}
	if err := relay.Set(false); err != nil {
		return errors.Annotatef(err, "locker=%s relay off", id)
	}
	self.slots[id] = &Slot{ID: id, Pulse: pulse, relay: relay, sem: make(chan struct{}, 1)}
	return nil
}

func (self *Actuator) Has(id string) bool {
	_, ok := self.slots[id]
	return ok
}

func (self *Actuator) IDs() []string {
	ids := make([]string, 0, len(self.slots))
	for id := range self.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (self *Actuator) Status() []SlotStatus {
	ids := self.IDs()
	ss := make([]SlotStatus, len(ids))
	for i, id := range ids {
		s := self.slots[id]
		ss[i] = SlotStatus{ID: id, State: s.State(), Pulses: s.Pulses()}
	}
	return ss
}

// Trigger switches slot relay on for d (0 means slot default), then off.
// ctx is only checked while waiting for the slot; once relay is on, pulse completes.
func (self *Actuator) Trigger(ctx context.Context, id string, d time.Duration) error {
	s, ok := self.slots[id]
	if !ok {
		return errors.NotFoundf("locker=%s", id)
	}
	if d == 0 {
		d = s.Pulse
	}
	if err := ctx.Err(); err != nil {
		return errors.Annotatef(err, "locker=%s", id)
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "locker=%s wait", id)
	}
	defer func() { <-s.sem }()

	atomic.StoreUint32(&s.state, uint32(StateActuating))
	defer atomic.StoreUint32(&s.state, uint32(StateIdle))
	self.log.Debugf("locker=%s pulse=%v", id, d)
	if err := s.relay.Set(true); err != nil {
		// ensure off, ignore secondary error
		_ = s.relay.Set(false)
		return errors.Annotatef(err, "locker=%s relay on", id)
	}
	atomic.AddUint64(&s.pulses, 1)
	time.Sleep(d)
	if err := s.relay.Set(false); err != nil {
		err = errors.Annotatef(err, "CRITICAL locker=%s relay off", id)
		self.log.Error(err)
		return err
	}
	return nil
}
