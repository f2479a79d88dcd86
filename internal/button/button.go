// Package button watches admin button and raises interrupt for UI.
package button

import (
	"sync/atomic"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultPoll     = 50 * time.Millisecond
	DefaultDebounce = 300 * time.Millisecond
)

// Interrupt is pending-press flag, each press is taken exactly once.
type Interrupt struct {
	flag   uint32
	notify chan struct{}
}

func NewInterrupt() *Interrupt {
	return &Interrupt{notify: make(chan struct{}, 1)}
}

func (self *Interrupt) Raise() {
	atomic.StoreUint32(&self.flag, 1)
	select {
	case self.notify <- struct{}{}:
	default:
	}
}

// Take is atomic check-and-clear.
func (self *Interrupt) Take() bool {
	return atomic.CompareAndSwapUint32(&self.flag, 1, 0)
}

func (self *Interrupt) Pending() bool { return atomic.LoadUint32(&self.flag) == 1 }

// Notify wakes waiters. May be stale, always confirm with Take.
func (self *Interrupt) Notify() <-chan struct{} { return self.notify }

type Watcher struct {
	log      *log2.Log
	pin      pin.Getter
	intr     *Interrupt
	poll     time.Duration
	debounce time.Duration
	last     time.Time // last accepted press, Step goroutine only
	pressed  bool
}

func NewWatcher(log *log2.Log, p pin.Getter, intr *Interrupt, poll, debounce time.Duration) *Watcher {
	if poll == 0 {
		poll = DefaultPoll
	}
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{log: log, pin: p, intr: intr, poll: poll, debounce: debounce}
}

// Run polls until a is stopped.
func (self *Watcher) Run(a *alive.Alive) {
	if !a.Add(1) {
		return
	}
	defer a.Done()
	tmr := time.NewTicker(self.poll)
	defer tmr.Stop()
	stopch := a.StopChan()
	for {
		select {
		case <-tmr.C:
			self.Step(time.Now())
		case <-stopch:
			return
		}
	}
}

// Step reads pin once. Returns true when press was accepted.
func (self *Watcher) Step(now time.Time) bool {
	pressed, err := self.pin.Get()
	if err != nil {
		self.log.Errorf("button read err=%v", err)
		return false
	}
	if !pressed {
		self.pressed = false
		return false
	}
	if self.pressed { // still held
		return false
	}
	self.pressed = true
	if !self.last.IsZero() && now.Sub(self.last) < self.debounce {
		self.log.Debugf("button bounce ignored")
		return false
	}
	self.last = now
	self.log.Infof("button pressed")
	self.intr.Raise()
	return true
}
