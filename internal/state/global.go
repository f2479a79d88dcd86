package state

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/button"
	"github.com/temoto/penlok/internal/capture"
	"github.com/temoto/penlok/internal/face"
	"github.com/temoto/penlok/internal/indicator"
	"github.com/temoto/penlok/internal/locker"
	"github.com/temoto/penlok/internal/mqtt"
	"github.com/temoto/penlok/internal/records"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Hardware     hardware // hardware.go
	Interrupt    *button.Interrupt
	Locker       *locker.Actuator
	Indicator    *indicator.Indicator
	Log          *log2.Log
	Tele         tele.Teler

	mqtt struct {
		once
		c *mqtt.Client
	}
	records struct {
		once
		s *records.Store
	}
	face struct {
		once
		api *face.API
	}
	capture *capture.Runner

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	g.Log.Infof("build version=%s", g.BuildVersion)

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = "./tmp-penlok-db"
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	if g.Config.Tele.PersistPath == "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	var pub tele.Publisher
	if mc, err := g.Mqtt(); err != nil {
		return errors.Annotate(err, "mqtt init")
	} else if mc != nil {
		pub = mc
	}
	// Tele.Init gets g.Log clone before SetErrorFunc, so Tele.Log.Error doesn't recurse on itself
	if err := g.Tele.Init(ctx, g.Log.Clone(log2.LInfo), g.Config.Tele, pub); err != nil {
		g.Tele = tele.NewStub()
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)

	if g.BuildVersion == "unknown" {
		g.Error(fmt.Errorf("build version is not set, please use script/build"))
	}

	const initTasks = 3
	wg := sync.WaitGroup{}
	wg.Add(initTasks)
	errch := make(chan error, initTasks)
	go helpers.WrapErrChan(&wg, errch, g.initDisplay)
	go helpers.WrapErrChan(&wg, errch, g.initInput)
	go helpers.WrapErrChan(&wg, errch, g.Pins)
	wg.Wait()
	close(errch)
	if err := helpers.FoldErrChan(errch); err != nil {
		return err
	}

	if err := g.initLocker(); err != nil {
		return err
	}
	if g.Interrupt == nil {
		g.Interrupt = button.NewInterrupt()
	}
	g.Indicator = indicator.New(g.Log.Clone(log2.LInfo), g.Hardware.Pins.Indicator)
	g.cleanTempDir()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			g.Log.Infof("signal=%v stopping", sig)
			g.Stop()
		case <-g.Alive.StopChan():
		}
	}()
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) initLocker() error {
	g.Locker = locker.NewActuator(g.Log.Clone(log2.LInfo))
	pulses := g.lockerPulses()
	errs := make([]error, 0)
	for _, id := range g.relayIDs() {
		if err := g.Locker.Add(id, g.Hardware.Pins.Relays[id], pulses[id]); err != nil {
			errs = append(errs, err)
		}
	}
	return helpers.FoldErrors(errs)
}

// Leftover images of crashed face session.
func (g *Global) cleanTempDir() {
	dir := g.Config.Face.TempDir
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		g.Log.Errorf("face temp_dir=%s cleanup err=%v", dir, err)
	}
}

// Mqtt returns nil,nil when disabled in config.
func (g *Global) Mqtt() (*mqtt.Client, error) {
	x := &g.mqtt
	_ = x.do(func() error {
		if !g.Config.Mqtt.Enable {
			return nil
		}
		x.c, x.err = mqtt.NewClient(g.componentLog(g.Config.Mqtt.LogDebug), g.Config.Mqtt)
		if x.err != nil {
			return x.err
		}
		x.c.Connect(g.Alive)
		return nil
	})
	return x.c, x.err
}

// Records returns nil,nil when database is not configured.
func (g *Global) Records(ctx context.Context) (*records.Store, error) {
	x := &g.records
	_ = x.do(func() error {
		if x.s != nil {
			return nil
		}
		if !g.Config.Database.Enabled() {
			g.Log.Infof("database is not configured")
			return nil
		}
		x.s, x.err = records.Open(ctx, g.Log.Clone(log2.LInfo), g.Config.Database)
		return x.err
	})
	return x.s, x.err
}

// Face returns nil,nil when face.base_url is empty.
func (g *Global) Face() (*face.API, error) {
	x := &g.face
	_ = x.do(func() error {
		if x.api != nil || g.Config.Face.BaseURL == "" {
			return nil
		}
		x.api, x.err = face.NewAPI(g.Log.Clone(log2.LInfo), g.Config.Face, nil)
		return x.err
	})
	return x.api, x.err
}

func (g *Global) Capture() *capture.Runner {
	if g.capture == nil {
		g.capture = capture.New(g.Log.Clone(log2.LInfo), g.Config.Capture)
	}
	return g.capture
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.ReleaseHardware()
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases network clients and hardware after Alive is stopped.
func (g *Global) Close() {
	if mc := g.mqtt.c; mc != nil {
		mc.Close()
	}
	if s := g.records.s; s != nil {
		s.Close()
	}
	g.Tele.Close()
	g.ReleaseHardware()
}
