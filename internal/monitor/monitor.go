// Package monitor runs background sensor loops.
// Monitors never touch display or keypad, only relays, indicator and tele.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/state"
	"github.com/temoto/penlok/internal/state/persist"
	"github.com/temoto/penlok/log2"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindWeightChange
	KindProximityCrossing
	KindVibrationTick
	KindControllerLine
)

func (k Kind) String() string {
	switch k {
	case KindWeightChange:
		return "weight"
	case KindProximityCrossing:
		return "proximity"
	case KindVibrationTick:
		return "vibration"
	case KindControllerLine:
		return "controller"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Event is consumed immediately by Sink, never queued.
type Event struct {
	Kind  Kind
	Value float64
	Tag   string
	Time  time.Time
}

func (e Event) String() string {
	if e.Tag != "" {
		return fmt.Sprintf("%s tag=%s value=%g", e.Kind, e.Tag, e.Value)
	}
	return fmt.Sprintf("%s value=%g", e.Kind, e.Value)
}

type Sink func(Event)

func LogSink(log *log2.Log) Sink {
	return func(e Event) { log.Infof("monitor event %s", e.String()) }
}

// Start claims sensors and launches enabled monitors under g.Alive.
func Start(ctx context.Context, g *state.Global) error {
	mc := &g.Config.Monitor
	log := g.Log.Clone(log2.LInfo)
	if mc.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	sink := LogSink(log)
	a := g.Alive

	if mc.Weight.Enable {
		cell, err := g.LoadCell()
		if err != nil {
			return errors.Annotate(err, "monitor weight")
		}
		w := NewWeight(log, cell, g.Calibration(), mc.Weight.Samples, mc.Weight.Tolerance, sink)
		go loop(a, helpers.IntMillisecondDefault(mc.Weight.PollMs, DefaultWeightPoll), func() {
			if _, _, err := w.Step(time.Now()); err != nil {
				log.Errorf("monitor weight err=%v", err)
			}
		})
	}

	if mc.Proximity.Enable {
		sensor, err := g.Distancer()
		if err != nil {
			return errors.Annotate(err, "monitor proximity")
		}
		p := NewProximity(log, sensor, mc.Proximity.Locker, g.Tele, sink)
		if mc.Proximity.ThresholdCm > 0 {
			p.Threshold = mc.Proximity.ThresholdCm
		}
		p.Settle = helpers.IntMillisecondDefault(mc.Proximity.SettleMs, DefaultSettle)
		p.ConfirmTimeout = helpers.IntSecondDefault(mc.Proximity.ConfirmTimeoutSec, DefaultConfirmTimeout)
		if cmd := mc.Proximity.ConfirmCommand; cmd != "" {
			runner := g.Capture()
			p.Confirm = func(ctx context.Context) error { return runner.Exec(ctx, cmd) }
		}
		go loop(a, helpers.IntMillisecondDefault(mc.Proximity.PollMs, DefaultProximityPoll), func() {
			if _, err := p.Step(aliveContext(ctx, a)); err != nil {
				log.Errorf("monitor proximity err=%v", err)
			}
		})
	}

	if mc.Vibration.Enable {
		window := NewWindow(mc.Vibration.Window)
		store := persist.New(log, "vibration", window, g.Config.Persist.Root)
		if _, err := store.Load(); err != nil {
			log.Errorf("monitor vibration window load err=%v", err)
			window.Reset()
		}
		v := NewVibration(log, g.Hardware.Pins.Vibration, window, store, g.Tele, sink)
		go loop(a, helpers.IntMillisecondDefault(mc.Vibration.PollMs, DefaultVibrationPoll), func() {
			if _, err := v.Step(time.Now()); err != nil {
				log.Errorf("monitor vibration err=%v", err)
			}
		})
	}

	if mc.Controller.Enable {
		c := NewController(log, LineOpener(g.SerialOpener()), g.Locker, g.Indicator, g.Tele, sink)
		c.RfidSlot = mc.Controller.RfidSlot
		c.Locker = mc.Controller.Locker
		c.Retry = helpers.IntMillisecondDefault(mc.Controller.RetryMs, DefaultControllerRetry)
		go c.Run(aliveContext(ctx, a), a, helpers.IntMillisecondDefault(mc.Controller.PollMs, DefaultControllerPoll))
	}
	return nil
}

// loop calls step every poll until a is stopped.
func loop(a *alive.Alive, poll time.Duration, step func()) {
	if !a.Add(1) {
		return
	}
	defer a.Done()
	tmr := time.NewTicker(poll)
	defer tmr.Stop()
	stopch := a.StopChan()
	for {
		step()
		select {
		case <-tmr.C:
		case <-stopch:
			return
		}
	}
}

// aliveContext is cancelled when a is stopped.
func aliveContext(parent context.Context, a *alive.Alive) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-a.StopChan():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return true
	case <-ctx.Done():
		return false
	}
}
