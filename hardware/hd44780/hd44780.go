// Package hd44780 drives HD44780 character LCD in 4 bit mode
// behind PCF8574 I2C port expander (common "LCD backpack").
package hd44780

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

type Command byte

const (
	CommandClear   Command = 0x01
	CommandReturn  Command = 0x02
	CommandControl Command = 0x08
	CommandAddress Command = 0x80
)

type Control byte

const (
	ControlOn         Control = 0x04
	ControlUnderscore Control = 0x02
	ControlBlink      Control = 0x01
)

// PCF8574 port bits
const (
	bitRS        byte = 0x01
	bitRW        byte = 0x02
	bitE         byte = 0x04
	bitBacklight byte = 0x08
)

const DefaultAddress = 0x27

// Txer is satisfied by periph conn.Conn (*i2c.Dev).
type Txer interface {
	Tx(w, r []byte) error
}

type LCD struct {
	mu        sync.Mutex
	bus       Txer
	closer    func() error
	control   Control
	backlight byte
	rows      [4]byte
	height    uint8
	width     uint8
	err       error
}

type Config struct {
	Bus     string // i2creg name, empty for first available
	Address uint16
	Width   uint8
	Height  uint8
}

// Open initializes periph host drivers and claims I2C bus.
func Open(c Config) (*LCD, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph host.Init")
	}
	bus, err := i2creg.Open(c.Bus)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%s", c.Bus)
	}
	addr := c.Address
	if addr == 0 {
		addr = DefaultAddress
	}
	self := New(&i2c.Dev{Addr: addr, Bus: bus}, c.Width, c.Height)
	self.closer = bus.Close
	if err := self.Init(); err != nil {
		_ = bus.Close()
		return nil, errors.Annotatef(err, "hd44780 init addr=%#02x", addr)
	}
	return self, nil
}

func New(bus Txer, width, height uint8) *LCD {
	if width == 0 {
		width = 16
	}
	if height == 0 {
		height = 4
	}
	self := &LCD{
		bus:       bus,
		backlight: bitBacklight,
		width:     width,
		height:    height,
	}
	self.rows = [4]byte{0x00, 0x40, width, 0x40 + width}
	return self
}

func (self *LCD) Init() error {
	self.mu.Lock()
	defer self.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	// special sequence: 8 bit mode x3, then switch to 4 bit
	self.send4(0, 0x03)
	time.Sleep(5 * time.Millisecond)
	self.send4(0, 0x03)
	time.Sleep(200 * time.Microsecond)
	self.send4(0, 0x03)
	self.send4(0, 0x02)

	self.command(0x28) // 4 bit, 2 line, 5x8
	self.setControl(0)
	self.setControl(ControlOn)
	self.command(CommandClear)
	time.Sleep(2 * time.Millisecond)
	self.command(0x06) // entry mode: increment, no shift
	return self.takeErr()
}

func (self *LCD) Close() error {
	if self.closer != nil {
		return self.closer()
	}
	return nil
}

// Err returns and resets last bus error.
// Devicer methods have no error result.
func (self *LCD) Err() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.takeErr()
}

func (self *LCD) SetBacklight(on bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if on {
		self.backlight = bitBacklight
	} else {
		self.backlight = 0
	}
	self.expander(0)
}

func (self *LCD) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.command(CommandClear)
	time.Sleep(2 * time.Millisecond)
}

func (self *LCD) Control() Control {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.control
}

func (self *LCD) SetControl(new Control) Control {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.setControl(new)
}

// 1-based row and column
func (self *LCD) CursorYX(row uint8, column uint8) bool {
	if !(row > 0 && row <= self.height) {
		return false
	}
	if !(column > 0 && column <= self.width) {
		return false
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	addr := self.rows[row-1] + (column - 1)
	self.command(CommandAddress | Command(addr))
	return true
}

func (self *LCD) Write(bs []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, b := range bs {
		self.data(b)
	}
}

func (self *LCD) setControl(new Control) Control {
	old := self.control
	self.control = new
	self.command(CommandControl | Command(new))
	return old
}

func (self *LCD) command(c Command) {
	b := byte(c)
	self.send4(0, b>>4)
	self.send4(0, b&0x0f)
	time.Sleep(40 * time.Microsecond)
}

func (self *LCD) data(b byte) {
	self.send4(bitRS, b>>4)
	self.send4(bitRS, b&0x0f)
	time.Sleep(40 * time.Microsecond)
}

// nibble goes to P4-P7, E strobe high then low
func (self *LCD) send4(rs byte, nibble byte) {
	v := rs | (nibble << 4)
	self.expander(v | bitE)
	time.Sleep(1 * time.Microsecond)
	self.expander(v &^ bitE)
	time.Sleep(50 * time.Microsecond)
}

func (self *LCD) expander(v byte) {
	if err := self.bus.Tx([]byte{v | self.backlight}, nil); err != nil && self.err == nil {
		self.err = err
	}
}

func (self *LCD) takeErr() error {
	err := self.err
	self.err = nil
	return err
}
