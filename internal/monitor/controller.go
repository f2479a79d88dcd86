package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/hardware/serial"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultControllerPoll  = 200 * time.Millisecond
	DefaultControllerRetry = 5 * time.Second
	rfidPulse              = time.Second

	lineUltra        = "ULTRA:DETECTED"
	lineIR           = "IR:DETECTED"
	lineRfidAccepted = "RFID:ACCEPTED"
	lineRfidDenied   = "RFID:DENIED"
)

type LineOpener func() (serial.LineReader, error)

type Triggerer interface {
	Trigger(ctx context.Context, id string, d time.Duration) error
}

type Indicator interface {
	Wrong() error
	Correct() error
}

// Controller reads sub-controller text lines and dispatches them.
type Controller struct {
	RfidSlot string
	Locker   string
	Retry    time.Duration

	log  *log2.Log
	open LineOpener
	port serial.LineReader
	lock Triggerer
	ind  Indicator
	tele tele.Teler
	sink Sink
}

func NewController(log *log2.Log, open LineOpener, lock Triggerer, ind Indicator, t tele.Teler, sink Sink) *Controller {
	return &Controller{
		RfidSlot: "0",
		Retry:    DefaultControllerRetry,
		log:      log,
		open:     open,
		lock:     lock,
		ind:      ind,
		tele:     t,
		sink:     sink,
	}
}

func (self *Controller) Run(ctx context.Context, a *alive.Alive, poll time.Duration) {
	if !a.Add(1) {
		return
	}
	defer a.Done()
	defer self.close()
	stopch := a.StopChan()
	for {
		ok, err := self.Step(ctx)
		d := poll
		switch {
		case err != nil:
			self.log.Errorf("controller err=%v", err)
			d = self.Retry
		case ok: // drain queued lines without delay
			d = 0
		}
		if !helpers.SleepStop(d, stopch) {
			return
		}
	}
}

// Step reads and handles at most one line, ok=false when none was available.
// Port is reopened on next Step after error.
func (self *Controller) Step(ctx context.Context) (bool, error) {
	if self.port == nil {
		port, err := self.open()
		if err != nil {
			return false, errors.Annotate(err, "controller open")
		}
		self.port = port
	}
	line, ok, err := self.port.ReadLine()
	if err != nil {
		self.close()
		return false, errors.Annotate(err, "controller read")
	}
	if ok {
		self.Handle(ctx, line)
	}
	return ok, nil
}

func (self *Controller) close() {
	if self.port != nil {
		_ = self.port.Close()
		self.port = nil
	}
}

// Handle returns false for unknown lines.
func (self *Controller) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	self.log.Debugf("controller line=%s", line)
	e := tele.NewEvent("", self.Locker)
	switch {
	case strings.HasPrefix(line, lineUltra):
		e.Kind = tele.LockerPackageDetected

	case strings.HasPrefix(line, lineIR):
		e.Kind = tele.LockerDoorClosed
		self.indicate(self.ind.Wrong)

	case strings.HasPrefix(line, lineRfidAccepted):
		e = tele.NewEvent(tele.RfidAccepted, self.RfidSlot)
		e.Detail = rfidUID(line)
		self.log.Infof("rfid accepted uid=%s", e.Detail)
		self.indicate(self.ind.Correct)
		if err := self.lock.Trigger(ctx, self.RfidSlot, rfidPulse); err != nil {
			self.log.Errorf("rfid locker=%s err=%v", self.RfidSlot, err)
		}

	case strings.HasPrefix(line, lineRfidDenied):
		e = tele.NewEvent(tele.RfidDenied, self.RfidSlot)
		e.Detail = rfidUID(line)
		self.log.Infof("rfid denied uid=%s", e.Detail)
		self.indicate(self.ind.Wrong)

	default:
		self.log.Debugf("controller ignore line=%s", line)
		return false
	}
	if self.sink != nil {
		self.sink(Event{Kind: KindControllerLine, Tag: line, Time: time.Now()})
	}
	self.tele.Event(e)
	return true
}

func (self *Controller) indicate(f func() error) {
	if err := f(); err != nil {
		self.log.Errorf("controller indicator err=%v", err)
	}
}

// RFID:ACCEPTED:<uid>
func rfidUID(line string) string {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
