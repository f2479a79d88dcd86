package monitor

import (
	"encoding/binary"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/internal/state/persist"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultVibrationPoll = 200 * time.Millisecond
	DefaultWindow        = 7
	MaxWindow            = 32

	windowVersion = 1
	windowSize    = 8
)

// Window keeps last N vibration entries, tamper or not.
// Anomaly fires once when all N are tamper, then re-arms after a non-tamper entry.
type Window struct {
	size  uint8
	n     uint8
	bits  uint32
	armed bool
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	if size > MaxWindow {
		size = MaxWindow
	}
	w := &Window{size: uint8(size)}
	w.Reset()
	return w
}

func (w *Window) Reset() {
	w.n, w.bits, w.armed = 0, 0, true
}

func (w *Window) mask() uint32 {
	if w.size >= 32 {
		return ^uint32(0)
	}
	return (1 << w.size) - 1
}

func (w *Window) Len() int { return int(w.n) }

func (w *Window) AllTamper() bool {
	return w.n == w.size && w.bits&w.mask() == w.mask()
}

// Push returns true when anomaly fires.
func (w *Window) Push(tamper bool) bool {
	w.bits <<= 1
	if tamper {
		w.bits |= 1
	} else {
		w.armed = true
	}
	w.bits &= w.mask()
	if w.n < w.size {
		w.n++
	}
	if w.armed && w.AllTamper() {
		w.armed = false
		return true
	}
	return false
}

// Fixed size encoding, storage overwrites in place.
func (w *Window) MarshalBinary() ([]byte, error) {
	b := make([]byte, windowSize)
	b[0] = windowVersion
	b[1] = w.size
	b[2] = w.n
	if w.armed {
		b[3] = 1
	}
	binary.LittleEndian.PutUint32(b[4:], w.bits)
	return b, nil
}

func (w *Window) UnmarshalBinary(b []byte) error {
	if len(b) != windowSize || b[0] != windowVersion {
		return errors.NotValidf("vibration window encoding len=%d", len(b))
	}
	if b[1] != w.size {
		return errors.NotValidf("vibration window size stored=%d config=%d", b[1], w.size)
	}
	if b[2] > w.size {
		return errors.NotValidf("vibration window count=%d", b[2])
	}
	w.n = b[2]
	w.armed = b[3] == 1
	w.bits = binary.LittleEndian.Uint32(b[4:]) & w.mask()
	return nil
}

// Vibration polls tamper pin. High sample is tamper entry,
// first low sample after high is non-tamper entry, idle low is not recorded.
type Vibration struct {
	log      *log2.Log
	pin      pin.Getter
	window   *Window
	store    *persist.Persist
	tele     tele.Teler
	sink     Sink
	prevHigh bool
}

func NewVibration(log *log2.Log, p pin.Getter, window *Window, store *persist.Persist, t tele.Teler, sink Sink) *Vibration {
	return &Vibration{log: log, pin: p, window: window, store: store, tele: t, sink: sink}
}

func (self *Vibration) Step(now time.Time) (bool, error) {
	high, err := self.pin.Get()
	if err != nil {
		return false, errors.Annotate(err, "vibration pin")
	}
	prev := self.prevHigh
	self.prevHigh = high
	if !high {
		if prev {
			return self.Record(false, now), nil
		}
		return false, nil
	}

	self.log.Infof("vibration detected")
	if self.sink != nil {
		self.sink(Event{Kind: KindVibrationTick, Value: 1, Time: now})
	}
	self.tele.Event(tele.NewEvent(tele.TamperDetected, ""))
	return self.Record(true, now), nil
}

// Record pushes entry and stores window. Returns true when anomaly fired.
func (self *Vibration) Record(tamper bool, now time.Time) bool {
	fire := self.window.Push(tamper)
	if self.store != nil {
		if err := self.store.Store(); err != nil {
			self.log.Errorf("vibration window store err=%v", err)
		}
	}
	if fire {
		self.log.Infof("vibration anomaly last=%d all tamper", self.window.Len())
		e := tele.NewEvent(tele.TamperAnomaly, "")
		e.Time = now
		self.tele.Event(e)
	}
	return fire
}
