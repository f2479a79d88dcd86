// Sorry, workaround to import cycles.
package state_new

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/hardware/text_display"
	"github.com/temoto/penlok/internal/button"
	"github.com/temoto/penlok/internal/indicator"
	"github.com/temoto/penlok/internal/state"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/internal/types"
	"github.com/temoto/penlok/log2"
)

func NewContext(log *log2.Log, teler tele.Teler) (context.Context, *state.Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &state.Global{
		Alive:     alive.NewAlive(),
		Interrupt: button.NewInterrupt(),
		Log:       log,
		Tele:      teler,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, state.ContextKey, g)

	return ctx, g
}

// Mock gives tests access to fake hardware behind Global.
type Mock struct {
	Relays    map[string]*pin.MockOutput
	Buzzer    *pin.MockOutput
	Red       []*pin.MockOutput
	Green     []*pin.MockOutput
	Button    *pin.MockInput
	Vibration *pin.MockInput
	Display   *text_display.TextDisplay
	Tele      *tele.Recorder
}

// Key emits key press and release.
func (m *Mock) Key(g *state.Global, key types.InputKey) {
	g.Hardware.Input.Emit(types.InputEvent{Source: "test", Key: key})
	g.Hardware.Input.Emit(types.InputEvent{Source: "test", Key: key, Up: true})
}

func NewTestContext(t testing.TB, confString string) (context.Context, *state.Global, *Mock) {
	fs := state.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("penlok_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	rec := tele.NewRecorder()
	ctx, g := NewContext(log, rec)
	g.BuildVersion = "test"
	config := state.MustReadConfig(log, fs, "test-inline")
	if config.Persist.Root == "" {
		config.Persist.Root = t.TempDir()
	}
	config.Face.TempDir = ""

	m := &Mock{
		Relays:    make(map[string]*pin.MockOutput, len(config.Lockers)),
		Buzzer:    new(pin.MockOutput),
		Button:    pin.NewMockInput(),
		Vibration: pin.NewMockInput(),
		Display:   text_display.NewMockTextDisplay(&text_display.TextDisplayConfig{Width: 16, Height: 4}),
		Tele:      rec,
	}
	hw := &g.Hardware
	hw.Pins.Relays = make(map[string]pin.Setter, len(config.Lockers))
	for _, l := range config.Lockers {
		o := new(pin.MockOutput)
		m.Relays[l.ID] = o
		hw.Pins.Relays[l.ID] = o
	}
	ind := indicator.Pins{Buzzer: m.Buzzer}
	for range config.Hardware.Indicator.Red {
		o := new(pin.MockOutput)
		m.Red = append(m.Red, o)
		ind.Red = append(ind.Red, o)
	}
	for range config.Hardware.Indicator.Green {
		o := new(pin.MockOutput)
		m.Green = append(m.Green, o)
		ind.Green = append(ind.Green, o)
	}
	hw.Pins.Indicator = ind
	hw.Pins.Button = m.Button
	hw.Pins.Vibration = m.Vibration
	hw.HD44780.Display = m.Display
	hw.Keypad.Source = idleSource{}

	g.MustInit(ctx, config)
	// wait for Alive tasks so they do not log after test end
	t.Cleanup(func() { g.StopWait(5 * time.Second) })
	return ctx, g, m
}

// Tests inject keys via Input.Emit.
type idleSource struct{}

func (idleSource) String() string { return "test-idle" }
func (idleSource) Read() (types.InputEvent, error) {
	select {}
}
