// Package kiosk runs complete locker controller: monitors, remote commands and UI.
package kiosk

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/penlok/cmd/penlok/subcmd"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/button"
	"github.com/temoto/penlok/internal/command"
	"github.com/temoto/penlok/internal/monitor"
	"github.com/temoto/penlok/internal/state"
	"github.com/temoto/penlok/internal/ui"
	"github.com/temoto/penlok/log2"
)

var Mod = subcmd.Mod{Name: "kiosk", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.ReleaseHardware()
	defer g.Close()
	g.Log.Debugf("config=%+v", g.Config)

	bc := &g.Config.Hardware.Button
	watcher := button.NewWatcher(g.Log.Clone(log2.LInfo), g.Hardware.Pins.Button, g.Interrupt,
		helpers.IntMillisecondDefault(bc.PollMs, button.DefaultPoll),
		helpers.IntMillisecondDefault(bc.DebounceMs, button.DefaultDebounce))
	go watcher.Run(g.Alive)

	if err := monitor.Start(ctx, g); err != nil {
		return errors.Annotate(err, "monitor start")
	}
	if err := command.Start(ctx, g); err != nil {
		return errors.Annotate(err, "command start")
	}

	uiFront := &ui.UI{}
	if err := uiFront.Init(ctx); err != nil {
		return errors.Annotate(err, "ui init")
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("kiosk init complete lockers=%v", g.Locker.IDs())

	uiFront.Loop(ctx)
	g.Log.Infof("kiosk stopping")
	if !g.StopWait(5 * time.Second) {
		g.Log.Errorf("kiosk stop timeout, some tasks still running")
	}
	return nil
}
