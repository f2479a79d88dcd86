// Package hcsr04 reads HC-SR04 ultrasonic distance sensor.
// Echo pulse width is measured from kernel edge event timestamps.
package hcsr04

import (
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
	"github.com/temoto/penlok/hardware/pin"
)

const DefaultTimeout = 100 * time.Millisecond

// speed of sound, cm/s
const soundCmPerSecond = 34300

var ErrTimeout = errors.New("hcsr04 echo timeout")

type Sensor struct {
	mu      sync.Mutex
	trig    pin.Setter
	echo    gpio.Eventer
	timeout time.Duration
}

func Open(chip gpio.Chiper, trigLine, echoLine uint32, timeout time.Duration) (*Sensor, error) {
	trig, err := pin.OpenOutput(chip, trigLine, false, "hcsr04-trig")
	if err != nil {
		return nil, err
	}
	echo, err := chip.GetLineEvent(echoLine, gpio.GPIOHANDLE_REQUEST_INPUT, gpio.GPIOEVENT_REQUEST_BOTH_EDGES, "hcsr04-echo")
	if err != nil {
		_ = trig.Close()
		return nil, errors.Annotatef(err, "hcsr04 echo line=%d", echoLine)
	}
	return New(trig, echo, timeout), nil
}

func New(trig pin.Setter, echo gpio.Eventer, timeout time.Duration) *Sensor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Sensor{trig: trig, echo: echo, timeout: timeout}
}

// DistanceCm fires 10us trigger pulse and measures echo.
// Returns ErrTimeout when either echo edge is missing.
func (self *Sensor) DistanceCm() (float64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.trig.Set(true); err != nil {
		return 0, errors.Annotate(err, "hcsr04 trigger")
	}
	time.Sleep(10 * time.Microsecond)
	if err := self.trig.Set(false); err != nil {
		return 0, errors.Annotate(err, "hcsr04 trigger")
	}

	rise, err := self.waitEdge(gpio.GPIOEVENT_EVENT_RISING_EDGE)
	if err != nil {
		return 0, err
	}
	fall, err := self.waitEdge(gpio.GPIOEVENT_EVENT_FALLING_EDGE)
	if err != nil {
		return 0, err
	}
	if fall.Timestamp < rise.Timestamp {
		return 0, errors.Errorf("hcsr04 echo edges out of order rise=%d fall=%d", rise.Timestamp, fall.Timestamp)
	}
	return PulseToCm(time.Duration(fall.Timestamp - rise.Timestamp)), nil
}

func (self *Sensor) Close() error {
	err := self.echo.Close()
	if c, ok := self.trig.(io.Closer); ok {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// skips edges of other kind, stale ones from previous measurement
func (self *Sensor) waitEdge(id gpio.EventID) (gpio.EventData, error) {
	deadline := time.Now().Add(self.timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return gpio.EventData{}, ErrTimeout
		}
		e, err := self.echo.Wait(left)
		if err != nil {
			if gpio.IsTimeout(err) {
				return gpio.EventData{}, ErrTimeout
			}
			return gpio.EventData{}, errors.Annotate(err, "hcsr04 echo")
		}
		if e.ID == id {
			return e, nil
		}
	}
}

func PulseToCm(d time.Duration) float64 {
	return d.Seconds() * soundCmPerSecond / 2
}
