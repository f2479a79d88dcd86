// Package pin wraps single GPIO lines with logical on/off.
// Polarity is resolved here so callers never see raw levels.
package pin

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
)

// Setter is implemented by Output and test fakes.
type Setter interface {
	Set(on bool) error
}

// Getter is implemented by Input and test fakes.
type Getter interface {
	Get() (bool, error)
}

type Output struct {
	mu        sync.Mutex
	line      uint32
	lines     gpio.Lineser
	set       gpio.LineSetFunc
	activeLow bool
	on        bool
}

// OpenOutput claims line as output and sets it off.
func OpenOutput(chip gpio.Chiper, line uint32, activeLow bool, label string) (*Output, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, label, line)
	if err != nil {
		return nil, errors.Annotatef(err, "pin output line=%d label=%s", line, label)
	}
	self := &Output{
		line:      line,
		lines:     lines,
		set:       lines.SetFunc(line),
		activeLow: activeLow,
	}
	if err := self.Set(false); err != nil {
		_ = lines.Close()
		return nil, err
	}
	return self, nil
}

func (self *Output) Set(on bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.set(level(on, self.activeLow))
	if err := self.lines.Flush(); err != nil {
		return errors.Annotatef(err, "pin set line=%d on=%t", self.line, on)
	}
	self.on = on
	return nil
}

func (self *Output) IsOn() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.on
}

func (self *Output) Line() uint32 { return self.line }

func (self *Output) Close() error {
	_ = self.Set(false)
	return self.lines.Close()
}

type Input struct {
	line      uint32
	lines     gpio.Lineser
	activeLow bool
}

func OpenInput(chip gpio.Chiper, line uint32, activeLow bool, label string) (*Input, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_INPUT, label, line)
	if err != nil {
		return nil, errors.Annotatef(err, "pin input line=%d label=%s", line, label)
	}
	return &Input{line: line, lines: lines, activeLow: activeLow}, nil
}

// Get returns logical state: true means active.
func (self *Input) Get() (bool, error) {
	data, err := self.lines.Read()
	if err != nil {
		return false, errors.Annotatef(err, "pin read line=%d", self.line)
	}
	return (data.Values[0] != 0) != self.activeLow, nil
}

func (self *Input) Line() uint32 { return self.line }

func (self *Input) Close() error { return self.lines.Close() }

func level(on, activeLow bool) byte {
	if on != activeLow {
		return 1
	}
	return 0
}
