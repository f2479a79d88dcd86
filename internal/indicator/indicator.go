// Package indicator drives buzzer and status LEDs.
package indicator

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/log2"
)

const (
	WrongBlink   = 200 * time.Millisecond
	WrongRepeat  = 3
	CorrectLong  = time.Second
	CorrectShort = 800 * time.Millisecond
)

type Kind uint8

const (
	KindWrong Kind = iota
	KindCorrect
	KindCorrectShort
)

func (k Kind) String() string {
	switch k {
	case KindWrong:
		return "wrong"
	case KindCorrect:
		return "correct"
	case KindCorrectShort:
		return "correct-short"
	}
	return "invalid"
}

// Pins: nil entries are skipped.
type Pins struct {
	Buzzer pin.Setter
	Red    []pin.Setter
	Green  []pin.Setter
}

type Indicator struct {
	mu   sync.Mutex
	log  *log2.Log
	pins Pins
}

func New(log *log2.Log, pins Pins) *Indicator {
	self := &Indicator{log: log, pins: pins}
	if err := self.all(false); err != nil {
		self.log.Errorf("indicator init err=%v", err)
	}
	return self
}

// Set plays sequence. Concurrent calls are serialized, patterns never interleave.
func (self *Indicator) Set(k Kind) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.log.Debugf("indicator %s", k.String())
	var err error
	switch k {
	case KindWrong:
		for i := 0; i < WrongRepeat && err == nil; i++ {
			err = self.blink(self.pins.Red, WrongBlink)
			if err == nil {
				time.Sleep(WrongBlink)
			}
		}
	case KindCorrect:
		err = self.blink(self.pins.Green, CorrectLong)
	case KindCorrectShort:
		err = self.blink(self.pins.Green, CorrectShort)
	default:
		err = errors.NotValidf("indicator kind=%d", k)
	}
	return errors.Annotatef(err, "indicator %s", k.String())
}

func (self *Indicator) Wrong() error   { return self.Set(KindWrong) }
func (self *Indicator) Correct() error { return self.Set(KindCorrect) }

func (self *Indicator) blink(leds []pin.Setter, d time.Duration) error {
	if err := self.group(leds, true); err != nil {
		_ = self.group(leds, false)
		return err
	}
	time.Sleep(d)
	return self.group(leds, false)
}

func (self *Indicator) group(leds []pin.Setter, on bool) error {
	errs := make([]error, 0, len(leds)+1)
	if self.pins.Buzzer != nil {
		if err := self.pins.Buzzer.Set(on); err != nil {
			errs = append(errs, errors.Annotate(err, "buzzer"))
		}
	}
	for _, p := range leds {
		if p == nil {
			continue
		}
		if err := p.Set(on); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

func (self *Indicator) all(on bool) error {
	leds := make([]pin.Setter, 0, len(self.pins.Red)+len(self.pins.Green))
	leds = append(leds, self.pins.Red...)
	leds = append(leds, self.pins.Green...)
	return self.group(leds, on)
}
