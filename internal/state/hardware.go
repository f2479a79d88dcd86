package state

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
	"github.com/temoto/penlok/hardware/hcsr04"
	"github.com/temoto/penlok/hardware/hd44780"
	"github.com/temoto/penlok/hardware/hx711"
	"github.com/temoto/penlok/hardware/input"
	"github.com/temoto/penlok/hardware/keypad"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/hardware/serial"
	"github.com/temoto/penlok/hardware/text_display"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/indicator"
	"github.com/temoto/penlok/log2"
)

const gpioConsumer = "penlok"

type Distancer interface {
	DistanceCm() (float64, error)
}

type LoadCell interface {
	Average(n int, interval time.Duration) (float64, error)
}

// SerialOpener returns new controller line reader, called again after read errors.
type SerialOpener func() (serial.LineReader, error)

// hardware owns every claimed line. Tests pre-set fields to skip claims.
type hardware struct {
	chip struct {
		once
		c gpio.Chiper
	}
	claimed struct {
		sync.Mutex
		list []io.Closer
	}

	Pins struct {
		once
		Relays    map[string]pin.Setter
		Indicator indicator.Pins
		Button    pin.Getter
		Vibration pin.Getter
	}
	Distance struct {
		once
		Sensor Distancer
	}
	LoadCell struct {
		once
		Sensor LoadCell
	}
	Keypad struct {
		once
		Source input.Source
	}
	HD44780 struct {
		once
		Device  *hd44780.LCD
		Display *text_display.TextDisplay
	}
	Serial SerialOpener
	Input  *input.Dispatch
}

func (g *Global) Chip() (gpio.Chiper, error) {
	x := &g.Hardware.chip
	_ = x.do(func() error {
		path := g.Config.Hardware.GpioChip
		x.c, x.err = gpio.Open(path, gpioConsumer)
		if x.err != nil {
			return errors.Annotatef(x.err, "gpio open chip=%s", path)
		}
		g.claim(x.c)
		return nil
	})
	return x.c, x.err
}

func (g *Global) claim(c io.Closer) {
	x := &g.Hardware.claimed
	x.Lock()
	x.list = append(x.list, c)
	x.Unlock()
}

// ReleaseHardware closes claimed lines in reverse order, chip last.
func (g *Global) ReleaseHardware() {
	x := &g.Hardware.claimed
	x.Lock()
	list := x.list
	x.list = nil
	x.Unlock()
	for i := len(list) - 1; i >= 0; i-- {
		if err := list[i].Close(); err != nil {
			g.Log.Errorf("release hardware err=%v", err)
		}
	}
}

// gpioLine converts config pin number to chip line offset.
func gpioLine(line int, label string) (uint32, error) {
	if line < 0 {
		return 0, errors.NotValidf("config: gpio %s line=%d", label, line)
	}
	return uint32(line), nil
}

func (g *Global) output(line int, activeLow bool, label string) (*pin.Output, error) {
	offset, err := gpioLine(line, label)
	if err != nil {
		return nil, err
	}
	chip, err := g.Chip()
	if err != nil {
		return nil, err
	}
	out, err := pin.OpenOutput(chip, offset, activeLow, label)
	if err != nil {
		return nil, err
	}
	g.claim(out)
	return out, nil
}

func (g *Global) input(line int, activeLow bool, label string) (*pin.Input, error) {
	offset, err := gpioLine(line, label)
	if err != nil {
		return nil, err
	}
	chip, err := g.Chip()
	if err != nil {
		return nil, err
	}
	in, err := pin.OpenInput(chip, offset, activeLow, label)
	if err != nil {
		return nil, err
	}
	g.claim(in)
	return in, nil
}

// Pins claims relays, indicator, admin button and vibration lines.
func (g *Global) Pins() error {
	x := &g.Hardware.Pins
	return x.do(func() error {
		if x.Relays != nil { // state-new testing mode
			return nil
		}
		cfg := &g.Config.Hardware
		relays := make(map[string]pin.Setter, len(g.Config.Lockers))
		for _, l := range g.Config.Lockers {
			out, err := g.output(l.RelayPin, !cfg.RelayActiveHigh, "relay-"+l.ID)
			if err != nil {
				return errors.Annotatef(err, "locker=%s", l.ID)
			}
			relays[l.ID] = out
		}

		ledLow := !cfg.LedActiveHigh
		buzzer, err := g.output(cfg.Indicator.Buzzer, false, "buzzer")
		if err != nil {
			return err
		}
		leds := func(lines []int, label string) ([]pin.Setter, error) {
			ss := make([]pin.Setter, 0, len(lines))
			for _, line := range lines {
				out, err := g.output(line, ledLow, label)
				if err != nil {
					return nil, err
				}
				ss = append(ss, out)
			}
			return ss, nil
		}
		red, err := leds(cfg.Indicator.Red, "led-red")
		if err != nil {
			return err
		}
		green, err := leds(cfg.Indicator.Green, "led-green")
		if err != nil {
			return err
		}

		// pull-up, pressed pulls low
		button, err := g.input(cfg.Button.Pin, true, "admin-button")
		if err != nil {
			return err
		}
		vibration, err := g.input(cfg.Vibration.Pin, false, "vibration")
		if err != nil {
			return err
		}

		x.Relays = relays
		x.Indicator = indicator.Pins{Buzzer: buzzer, Red: red, Green: green}
		x.Button = button
		x.Vibration = vibration
		return nil
	})
}

func (g *Global) Distancer() (Distancer, error) {
	x := &g.Hardware.Distance
	_ = x.do(func() error {
		if x.Sensor != nil {
			return nil
		}
		cfg := &g.Config.Hardware.Ultrasonic
		trig, err := gpioLine(cfg.Trigger, "ultrasonic-trigger")
		if err != nil {
			return err
		}
		echo, err := gpioLine(cfg.Echo, "ultrasonic-echo")
		if err != nil {
			return err
		}
		chip, err := g.Chip()
		if err != nil {
			return err
		}
		s, err := hcsr04.Open(chip, trig, echo, helpers.IntMillisecondDefault(cfg.TimeoutMs, hcsr04.DefaultTimeout))
		if err != nil {
			return errors.Annotatef(err, "ultrasonic trigger=%d echo=%d", cfg.Trigger, cfg.Echo)
		}
		g.claim(s)
		x.Sensor = s
		return nil
	})
	return x.Sensor, x.err
}

func (g *Global) LoadCell() (LoadCell, error) {
	x := &g.Hardware.LoadCell
	_ = x.do(func() error {
		if x.Sensor != nil {
			return nil
		}
		cfg := &g.Config.Hardware.LoadCell
		dout, err := gpioLine(cfg.Dout, "loadcell-dout")
		if err != nil {
			return err
		}
		sck, err := gpioLine(cfg.Sck, "loadcell-sck")
		if err != nil {
			return err
		}
		chip, err := g.Chip()
		if err != nil {
			return err
		}
		s, err := hx711.Open(chip, dout, sck)
		if err != nil {
			return errors.Annotatef(err, "loadcell dout=%d sck=%d", cfg.Dout, cfg.Sck)
		}
		g.claim(s)
		x.Sensor = s
		return nil
	})
	return x.Sensor, x.err
}

func (g *Global) Calibration() hx711.Calibration {
	cfg := &g.Config.Hardware.LoadCell
	return hx711.Calibration{Offset: cfg.Offset, Scale: cfg.Scale}
}

// SerialOpener defaults to configured tty.
func (g *Global) SerialOpener() SerialOpener {
	if g.Hardware.Serial != nil {
		return g.Hardware.Serial
	}
	cfg := g.Config.Hardware.Serial
	return func() (serial.LineReader, error) {
		return serial.Open(cfg.Device, cfg.Baud)
	}
}

// KeypadSource returns nil,nil when keypad driver is none.
func (g *Global) KeypadSource() (input.Source, error) {
	x := &g.Hardware.Keypad
	_ = x.do(func() error {
		if x.Source != nil {
			return nil
		}
		cfg := &g.Config.Hardware.Keypad
		switch cfg.Driver {
		case "none":
			g.Log.Infof("keypad disabled")
			return nil

		case "dev_input_event":
			src, err := input.NewDevInputEventSource(cfg.Device)
			if err != nil {
				return errors.Annotatef(err, "input=%s device=%s", input.DevInputEventTag, cfg.Device)
			}
			x.Source = src
			return nil

		case "matrix":
			cols := make([]pin.Setter, 0, len(cfg.Columns))
			for _, line := range cfg.Columns {
				out, err := g.output(line, false, "keypad-col")
				if err != nil {
					return errors.Annotate(err, "keypad")
				}
				cols = append(cols, out)
			}
			rows := make([]pin.Getter, 0, len(cfg.Rows))
			for _, line := range cfg.Rows {
				in, err := g.input(line, false, "keypad-row")
				if err != nil {
					return errors.Annotate(err, "keypad")
				}
				rows = append(rows, in)
			}
			m, err := keypad.NewMatrix(cols, rows, helpers.IntMillisecondDefault(cfg.PollMs, keypad.DefaultPoll))
			if err != nil {
				return err
			}
			x.Source = m
			return nil

		default:
			return fmt.Errorf("config: unknown hardware.keypad.driver=\"%s\" valid: matrix, dev_input_event, none", cfg.Driver)
		}
	})
	return x.Source, x.err
}

func (g *Global) MustTextDisplay() *text_display.TextDisplay {
	d, err := g.TextDisplay()
	if err != nil {
		g.Log.Fatal(err)
	}
	if d == nil {
		g.Log.Fatal("text display is not available")
	}
	return d
}

// TextDisplay without device is still usable, content is only kept in memory.
func (g *Global) TextDisplay() (*text_display.TextDisplay, error) {
	x := &g.Hardware.HD44780
	_ = x.do(func() error {
		if x.Display != nil { // state-new testing mode
			return nil
		}

		devConfig := &g.Config.Hardware.Display
		displayConfig := &text_display.TextDisplayConfig{
			Width:    uint32(devConfig.Width),
			Height:   uint32(devConfig.Height),
			Codepage: devConfig.Codepage,
		}
		disp, err := text_display.NewTextDisplay(displayConfig)
		if err != nil {
			return errors.Annotatef(err, "NewTextDisplay config=%#v", displayConfig)
		}
		x.Display = disp
		if !devConfig.Enable {
			g.Log.Infof("text display hd44780 is disabled")
			return nil
		}

		dev, err := hd44780.Open(hd44780.Config{
			Bus:     devConfig.I2CBus,
			Address: uint16(devConfig.Address),
			Width:   uint8(devConfig.Width),
			Height:  uint8(devConfig.Height),
		})
		if err != nil {
			return errors.Annotatef(err, "hd44780 config=%#v", devConfig)
		}
		g.claim(dev)
		x.Device = dev
		x.Display.SetDevice(dev)
		return nil
	})
	return x.Display, x.err
}

func (g *Global) initDisplay() error {
	d, err := g.TextDisplay()
	if d != nil {
		d.Clear()
	}
	return err
}

func (g *Global) initInput() error {
	if g.Hardware.Input == nil {
		g.Hardware.Input = input.NewDispatch(g.Log, g.Alive.StopChan())
	}

	sources := make([]input.Source, 0, 1)
	src, err := g.KeypadSource()
	if err != nil {
		return err
	}
	if src != nil {
		sources = append(sources, src)
	}
	go g.Hardware.Input.Run(sources)
	return nil
}

// Pulse defaults from locker config.
func (g *Global) lockerPulses() map[string]time.Duration {
	m := make(map[string]time.Duration, len(g.Config.Lockers))
	for _, l := range g.Config.Lockers {
		m[l.ID] = time.Duration(l.PulseMs) * time.Millisecond
	}
	return m
}

func (g *Global) relayIDs() []string {
	ids := make([]string, 0, len(g.Hardware.Pins.Relays))
	for id := range g.Hardware.Pins.Relays {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Global) componentLog(debug bool) *log2.Log {
	l := g.Log.Clone(log2.LInfo)
	if debug {
		l.SetLevel(log2.LDebug)
	}
	return l
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
