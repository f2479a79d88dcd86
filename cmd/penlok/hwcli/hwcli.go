// Package hwcli is interactive hardware check tool for installers.
package hwcli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/penlok/cmd/penlok/subcmd"
	"github.com/temoto/penlok/helpers/cli"
	"github.com/temoto/penlok/internal/indicator"
	"github.com/temoto/penlok/internal/state"
)

var Mod = subcmd.Mod{Name: "cli", Main: Main}

const (
	defaultWeightSamples = 10
	keyTimeout           = 10 * time.Second
	qrSize               = 256
)

const usage = `commands:
- relay SLOT [MS]     pulse locker relay
- distance            read ultrasonic sensor
- weight [SAMPLES]    read load cell
- vibration           read vibration pin
- key                 wait for next keypad key
- lcd TEXT|TEXT...    show lines on display
- indicator ok|wrong  play indicator sequence
- qr TEXT FILE.png    write QR label image
- status              show lockers and interrupt flag
`

type command struct {
	name string
	help string
	run  func(ctx context.Context, g *state.Global, args []string) error
}

var commands = []command{
	{"relay", "pulse locker relay", doRelay},
	{"distance", "read ultrasonic sensor", doDistance},
	{"weight", "read load cell", doWeight},
	{"vibration", "read vibration pin", doVibration},
	{"key", "wait for next keypad key", doKey},
	{"lcd", "show lines on display, | separates lines", doLcd},
	{"indicator", "ok|wrong", doIndicator},
	{"qr", "write QR label image", doQR},
	{"status", "show lockers", doStatus},
	{"help", "show usage", func(context.Context, *state.Global, []string) error {
		fmt.Print(usage)
		return nil
	}},
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	// hardware check must not race with background monitors
	config.Command.Mqtt.Enable = false
	config.Command.Poll.Enable = false
	g.MustInit(ctx, config)
	defer g.ReleaseHardware()
	defer g.Close()

	cli.MainLoop("penlok", newExecutor(ctx), newCompleter(), g.Stop)
	return nil
}

func newCompleter() prompt.Completer {
	suggests := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggests = append(suggests, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return func(d prompt.Document) []prompt.Suggest {
		if strings.Contains(d.TextBeforeCursor(), " ") {
			return nil
		}
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context) func(string) {
	g := state.GetGlobal(ctx)
	return func(line string) {
		if err := Exec(ctx, g, line); err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
		}
	}
}

func Exec(ctx context.Context, g *state.Global, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	for _, c := range commands {
		if c.name == words[0] {
			return c.run(ctx, g, words[1:])
		}
	}
	return errors.NotFoundf("command=%s, try help", words[0])
}

func doRelay(ctx context.Context, g *state.Global, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.NotValidf("usage: relay SLOT [MS]")
	}
	var d time.Duration
	if len(args) == 2 {
		ms, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return errors.Annotatef(err, "relay ms=%s", args[1])
		}
		d = time.Duration(ms) * time.Millisecond
	}
	start := time.Now()
	if err := g.Locker.Trigger(ctx, args[0], d); err != nil {
		return err
	}
	g.Log.Infof("relay locker=%s pulse done in %v", args[0], time.Since(start))
	return nil
}

func doDistance(ctx context.Context, g *state.Global, args []string) error {
	d, err := g.Distancer()
	if err != nil {
		return err
	}
	cm, err := d.DistanceCm()
	if err != nil {
		return errors.Annotate(err, "distance")
	}
	g.Log.Infof("distance=%.1fcm", cm)
	return nil
}

func doWeight(ctx context.Context, g *state.Global, args []string) error {
	n := defaultWeightSamples
	if len(args) == 1 {
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
			return errors.NotValidf("weight samples=%s", args[0])
		}
	}
	cell, err := g.LoadCell()
	if err != nil {
		return err
	}
	raw, err := cell.Average(n, 50*time.Millisecond)
	if err != nil {
		return errors.Annotate(err, "weight")
	}
	g.Log.Infof("weight raw=%.0f grams=%.1f", raw, g.Calibration().Grams(raw))
	return nil
}

func doVibration(ctx context.Context, g *state.Global, args []string) error {
	if err := g.Pins(); err != nil {
		return err
	}
	v, err := g.Hardware.Pins.Vibration.Get()
	if err != nil {
		return errors.Annotate(err, "vibration")
	}
	g.Log.Infof("vibration=%t", v)
	return nil
}

func doKey(ctx context.Context, g *state.Global, args []string) error {
	stop := make(chan struct{})
	defer close(stop)
	ch := g.Hardware.Input.SubscribeChan("cli", stop)
	g.Log.Infof("press a key, waiting %v", keyTimeout)
	tmr := time.NewTimer(keyTimeout)
	defer tmr.Stop()
	for {
		select {
		case e := <-ch:
			if e.Up {
				g.Log.Infof("key=%q source=%s", rune(e.Key), e.Source)
				return nil
			}
		case <-tmr.C:
			return errors.Timeoutf("key")
		}
	}
}

func doLcd(ctx context.Context, g *state.Global, args []string) error {
	d, err := g.TextDisplay()
	if err != nil {
		return err
	}
	d.SetLines(strings.Split(strings.Join(args, " "), "|")...)
	g.Log.Infof("display:\n%s", d.State().Format(d.Width()))
	return nil
}

func doIndicator(ctx context.Context, g *state.Global, args []string) error {
	if len(args) != 1 {
		return errors.NotValidf("usage: indicator ok|wrong")
	}
	switch args[0] {
	case "ok":
		return g.Indicator.Set(indicator.KindCorrect)
	case "wrong":
		return g.Indicator.Set(indicator.KindWrong)
	}
	return errors.NotValidf("indicator=%s", args[0])
}

func doQR(ctx context.Context, g *state.Global, args []string) error {
	if len(args) != 2 {
		return errors.NotValidf("usage: qr TEXT FILE.png")
	}
	if err := qrcode.WriteFile(args[0], qrcode.Medium, qrSize, args[1]); err != nil {
		return errors.Annotatef(err, "qr file=%s", args[1])
	}
	g.Log.Infof("qr text=%s file=%s", args[0], args[1])
	return nil
}

func doStatus(ctx context.Context, g *state.Global, args []string) error {
	for _, s := range g.Locker.Status() {
		g.Log.Infof("locker=%s state=%s pulses=%d", s.ID, s.State.String(), s.Pulses)
	}
	g.Log.Infof("build=%s interrupt_pending=%t", g.BuildVersion, g.Interrupt.Pending())
	return nil
}
