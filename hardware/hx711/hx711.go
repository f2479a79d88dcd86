// Package hx711 reads 24 bit load cell ADC over two wire bit-bang.
package hx711

import (
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
	"github.com/temoto/penlok/hardware/pin"
)

const DefaultReadyTimeout = time.Second

var ErrNotReady = errors.New("hx711 not ready")

type Sensor struct {
	mu           sync.Mutex
	dout         pin.Getter
	sck          pin.Setter
	ReadyTimeout time.Duration
}

func Open(chip gpio.Chiper, doutLine, sckLine uint32) (*Sensor, error) {
	dout, err := pin.OpenInput(chip, doutLine, false, "hx711-dout")
	if err != nil {
		return nil, err
	}
	sck, err := pin.OpenOutput(chip, sckLine, false, "hx711-sck")
	if err != nil {
		_ = dout.Close()
		return nil, err
	}
	return New(dout, sck), nil
}

func New(dout pin.Getter, sck pin.Setter) *Sensor {
	return &Sensor{dout: dout, sck: sck, ReadyTimeout: DefaultReadyTimeout}
}

// Close releases lines claimed by Open.
func (self *Sensor) Close() error {
	var err error
	for _, x := range []interface{}{self.sck, self.dout} {
		if c, ok := x.(io.Closer); ok {
			if e := c.Close(); e != nil && err == nil {
				err = errors.Annotate(e, "hx711 close")
			}
		}
	}
	return err
}

// ReadRaw returns one conversion with sign bit flipped (offset binary),
// channel A gain 128 selected for next conversion.
func (self *Sensor) ReadRaw() (int64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.sck.Set(false); err != nil {
		return 0, errors.Annotate(err, "hx711 sck")
	}
	deadline := time.Now().Add(self.ReadyTimeout)
	for {
		busy, err := self.dout.Get()
		if err != nil {
			return 0, errors.Annotate(err, "hx711 dout")
		}
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			return 0, ErrNotReady
		}
		time.Sleep(time.Millisecond)
	}

	var count int64
	for i := 0; i < 24; i++ {
		if err := self.pulse(); err != nil {
			return 0, err
		}
		bit, err := self.dout.Get()
		if err != nil {
			return 0, errors.Annotate(err, "hx711 dout")
		}
		count <<= 1
		if bit {
			count++
		}
	}
	if err := self.pulse(); err != nil {
		return 0, err
	}
	return count ^ 0x800000, nil
}

// Average reads n samples with interval between them.
func (self *Sensor) Average(n int, interval time.Duration) (float64, error) {
	if n <= 0 {
		n = 1
	}
	var total int64
	for i := 0; i < n; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		raw, err := self.ReadRaw()
		if err != nil {
			return 0, err
		}
		total += raw
	}
	return float64(total) / float64(n), nil
}

func (self *Sensor) pulse() error {
	if err := self.sck.Set(true); err != nil {
		return errors.Annotate(err, "hx711 sck")
	}
	if err := self.sck.Set(false); err != nil {
		return errors.Annotate(err, "hx711 sck")
	}
	return nil
}

type Calibration struct {
	Offset float64
	Scale  float64
}

func (c Calibration) Grams(raw float64) float64 {
	if c.Scale == 0 {
		return 0
	}
	return (raw - c.Offset) / c.Scale
}
