package state

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/capture"
	"github.com/temoto/penlok/internal/face"
	"github.com/temoto/penlok/internal/mqtt"
	"github.com/temoto/penlok/internal/records"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Hardware HardwareConfig `hcl:"hardware"`
	Lockers  []LockerConfig `hcl:"locker"`
	Monitor  MonitorConfig  `hcl:"monitor"`
	Command  CommandConfig  `hcl:"command"`
	Mqtt     mqtt.Config    `hcl:"mqtt"`
	Database records.Config `hcl:"database"`
	Face     face.Config    `hcl:"face"`
	Capture  capture.Config `hcl:"capture"`
	UI       UIConfig       `hcl:"ui"`
	Persist  struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`
	Tele tele.Config `hcl:"tele"`
}

type HardwareConfig struct {
	GpioChip string `hcl:"gpio_chip"`
	// relays and LEDs are active low unless set
	RelayActiveHigh bool `hcl:"relay_active_high"`
	LedActiveHigh   bool `hcl:"led_active_high"`

	Keypad struct {
		// matrix, dev_input_event, none
		Driver  string `hcl:"driver"`
		Rows    []int  `hcl:"rows"`
		Columns []int  `hcl:"columns"`
		Device  string `hcl:"device"`
		PollMs  int    `hcl:"poll_ms"`
	} `hcl:"keypad"`
	Display struct {
		Enable   bool   `hcl:"enable"`
		I2CBus   string `hcl:"i2c_bus"`
		Address  int    `hcl:"address"`
		Width    int    `hcl:"width"`
		Height   int    `hcl:"height"`
		Codepage string `hcl:"codepage"`
	} `hcl:"display"`
	Indicator struct {
		Buzzer int   `hcl:"buzzer"`
		Red    []int `hcl:"red"`
		Green  []int `hcl:"green"`
	} `hcl:"indicator"`
	Button struct {
		Pin        int `hcl:"pin"`
		PollMs     int `hcl:"poll_ms"`
		DebounceMs int `hcl:"debounce_ms"`
	} `hcl:"button"`
	Vibration struct {
		Pin int `hcl:"pin"`
	} `hcl:"vibration"`
	Ultrasonic struct {
		Trigger   int `hcl:"trigger"`
		Echo      int `hcl:"echo"`
		TimeoutMs int `hcl:"timeout_ms"`
	} `hcl:"ultrasonic"`
	LoadCell struct {
		Dout   int     `hcl:"dout"`
		Sck    int     `hcl:"sck"`
		Offset float64 `hcl:"offset"`
		Scale  float64 `hcl:"scale"`
	} `hcl:"loadcell"`
	Serial struct {
		Device string `hcl:"device"`
		Baud   int    `hcl:"baud"`
	} `hcl:"serial"`
}

type LockerConfig struct {
	ID       string `hcl:"id,key"`
	RelayPin int    `hcl:"relay_pin"`
	PulseMs  int    `hcl:"pulse_ms"`
}

type MonitorConfig struct {
	Weight struct {
		Enable    bool    `hcl:"enable"`
		PollMs    int     `hcl:"poll_ms"`
		Samples   int     `hcl:"samples"`
		Tolerance float64 `hcl:"tolerance"`
	} `hcl:"weight"`
	Proximity struct {
		Enable            bool    `hcl:"enable"`
		PollMs            int     `hcl:"poll_ms"`
		ThresholdCm       float64 `hcl:"threshold_cm"`
		SettleMs          int     `hcl:"settle_ms"`
		ConfirmCommand    string  `hcl:"confirm_command"`
		ConfirmTimeoutSec int     `hcl:"confirm_timeout_sec"`
		Locker            string  `hcl:"locker"`
	} `hcl:"proximity"`
	Vibration struct {
		Enable bool `hcl:"enable"`
		PollMs int  `hcl:"poll_ms"`
		Window int  `hcl:"window"`
	} `hcl:"vibration"`
	Controller struct {
		Enable   bool   `hcl:"enable"`
		PollMs   int    `hcl:"poll_ms"`
		RetryMs  int    `hcl:"retry_ms"`
		RfidSlot string `hcl:"rfid_slot"`
		// door and package events are reported for this locker
		Locker string `hcl:"locker"`
	} `hcl:"controller"`
	LogDebug bool `hcl:"log_debug"`
}

type CommandConfig struct {
	Mqtt struct {
		Enable bool   `hcl:"enable"`
		Topic  string `hcl:"topic"`
	} `hcl:"mqtt"`
	Poll struct {
		Enable       bool    `hcl:"enable"`
		IntervalMs   int     `hcl:"interval_ms"`
		BackoffMaxMs int     `hcl:"backoff_max_ms"`
		BackoffK     float32 `hcl:"backoff_k"`
		Batch        int     `hcl:"batch"`
	} `hcl:"poll"`
	PulseMs  int  `hcl:"pulse_ms"`
	LogDebug bool `hcl:"log_debug"`
}

type UIConfig struct {
	SendSlot    string `hcl:"send_slot"`
	PickupSlot  string `hcl:"pickup_slot"`
	SendPulseMs int    `hcl:"send_pulse_ms"`
	PickPulseMs int    `hcl:"pickup_pulse_ms"`
	QRShortMs   int    `hcl:"qr_short_delay_ms"`
	QRLongMs    int    `hcl:"qr_long_delay_ms"`
	MsgTitle    string `hcl:"msg_title"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// Board wiring of the reference kiosk.
var (
	defaultKeypadRows    = []int{5, 1, 0, 7}
	defaultKeypadColumns = []int{8, 25, 11}
	defaultRed           = []int{23, 18}
	defaultGreen         = []int{22, 27}
	defaultLockers       = []LockerConfig{{"0", 19, 0}, {"1", 10, 0}, {"2", 9, 0}, {"3", 6, 0}}
)

func newConfig() *Config {
	c := &Config{includeSeen: make(map[string]struct{})}
	h := &c.Hardware
	h.GpioChip = "/dev/gpiochip0"
	h.Keypad.Driver = "matrix"
	h.Display.Enable = true
	h.Display.I2CBus = "1"
	h.Display.Address = 0x27
	h.Display.Width = 16
	h.Display.Height = 4
	h.Indicator.Buzzer = 21
	h.Button.Pin = 16
	h.Vibration.Pin = 24
	h.Ultrasonic.Trigger = 15
	h.Ultrasonic.Echo = 17
	h.LoadCell.Dout = 4
	h.LoadCell.Sck = 14
	h.LoadCell.Offset = 8763202
	h.LoadCell.Scale = 196.584
	h.Serial.Device = "/dev/ttyACM0"
	h.Serial.Baud = 9600

	m := &c.Monitor
	m.Weight.Enable = true
	m.Weight.Samples = 10
	m.Weight.Tolerance = 5
	m.Proximity.Enable = true
	m.Proximity.ThresholdCm = 7.5
	m.Vibration.Enable = true
	m.Vibration.Window = 7
	m.Controller.Enable = true
	m.Controller.RfidSlot = "0"
	m.Controller.Locker = "3"
	m.Proximity.Locker = "1"

	c.Command.Mqtt.Topic = "penlok/command"
	c.Command.Poll.Batch = 16
	c.Command.Poll.BackoffK = 1

	c.UI.SendSlot = "1"
	c.UI.PickupSlot = "3"
	c.UI.MsgTitle = "SMART LOCKER"

	c.Face.TempDir = "/tmp/penlok-face"
	return c
}

// finish applies defaults HCL can not express and validates.
func (c *Config) finish() error {
	h := &c.Hardware
	if len(h.Keypad.Rows) == 0 {
		h.Keypad.Rows = defaultKeypadRows
	}
	if len(h.Keypad.Columns) == 0 {
		h.Keypad.Columns = defaultKeypadColumns
	}
	if len(h.Indicator.Red) == 0 {
		h.Indicator.Red = defaultRed
	}
	if len(h.Indicator.Green) == 0 {
		h.Indicator.Green = defaultGreen
	}
	if len(c.Lockers) == 0 {
		c.Lockers = append([]LockerConfig(nil), defaultLockers...)
	}
	c.Database.FromEnv(os.Getenv)

	errs := make([]error, 0)
	seen := make(map[string]struct{}, len(c.Lockers))
	for _, l := range c.Lockers {
		if l.ID == "" {
			errs = append(errs, errors.NotValidf("config: locker id empty"))
			continue
		}
		if _, ok := seen[l.ID]; ok {
			errs = append(errs, errors.NotValidf("config: duplicate locker=%s", l.ID))
		}
		seen[l.ID] = struct{}{}
	}
	for _, slot := range []string{c.UI.SendSlot, c.UI.PickupSlot, c.Monitor.Controller.RfidSlot} {
		if _, ok := seen[slot]; !ok {
			errs = append(errs, errors.NotValidf("config: slot=%s references unknown locker", slot))
		}
	}
	switch h.Keypad.Driver {
	case "matrix", "dev_input_event", "none":
	default:
		errs = append(errs, errors.NotValidf("config: hardware.keypad.driver=%s valid: matrix, dev_input_event, none", h.Keypad.Driver))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) LockerIDs() []string {
	ids := make([]string, len(c.Lockers))
	for i, l := range c.Lockers {
		ids[i] = l.ID
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := newConfig()
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.finish(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
