package ui

import (
	"context"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/text_display"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/button"
	"github.com/temoto/penlok/internal/face"
	"github.com/temoto/penlok/internal/indicator"
	"github.com/temoto/penlok/internal/records"
	"github.com/temoto/penlok/internal/state"
	"github.com/temoto/penlok/internal/types"
)

const (
	DefaultSendPulse   = 3 * time.Second
	DefaultPickupPulse = time.Second
	DefaultQRShort     = 2 * time.Second
	DefaultQRLong      = 7 * time.Second
	DefaultTitle       = "SMART LOCKER"

	msgDelayShort = time.Second
	msgDelay      = 2 * time.Second
	msgDelayLeave = 1500 * time.Millisecond
)

// Records is satisfied by *records.Store.
type Records interface {
	TrackingSuffixExists(ctx context.Context, suffix string) (bool, error)
	OTPExists(ctx context.Context, otp string) (bool, error)
	UserByFaceID(ctx context.Context, faceID string) (records.User, error)
}

// FaceAPI is satisfied by *face.API.
type FaceAPI interface {
	ImagesExist(ctx context.Context, username string) (int, bool, error)
	Upload(ctx context.Context, username string, images []string) (face.UploadResult, error)
	Verify(ctx context.Context, image string) (face.VerifyResult, error)
}

type Scanner interface {
	ScanQR(ctx context.Context) (int, error)
}

type Triggerer interface {
	Trigger(ctx context.Context, id string, d time.Duration) error
}

type Indicator interface {
	Set(indicator.Kind) error
}

// UI owns display and keypad. Fields left nil before Init are taken from Global.
type UI struct {
	Records  Records
	Face     FaceAPI
	Scanner  Scanner
	Capturer face.Capturer
	Locker   Triggerer
	Ind      Indicator

	g       *state.Global
	config  *state.UIConfig
	display *text_display.TextDisplay
	inputch <-chan types.InputEvent
	intr    *button.Interrupt
	state   State
	session faceSession
	tempDir string

	sendPulse   time.Duration
	pickupPulse time.Duration
	qrShort     time.Duration
	qrLong      time.Duration

	XXX_testHook func(State)
}

func (self *UI) Init(ctx context.Context) error {
	self.g = state.GetGlobal(ctx)
	self.config = &self.g.Config.UI
	self.setState(StateBoot)

	self.sendPulse = helpers.IntMillisecondDefault(self.config.SendPulseMs, DefaultSendPulse)
	self.pickupPulse = helpers.IntMillisecondDefault(self.config.PickPulseMs, DefaultPickupPulse)
	self.qrShort = helpers.IntMillisecondDefault(self.config.QRShortMs, DefaultQRShort)
	self.qrLong = helpers.IntMillisecondDefault(self.config.QRLongMs, DefaultQRLong)
	if self.config.MsgTitle == "" {
		self.config.MsgTitle = DefaultTitle
	}
	self.tempDir = self.g.Config.Face.TempDir

	if self.Records == nil {
		s, err := self.g.Records(ctx)
		if err != nil {
			// lookups fail until database is reachable
			self.g.Error(err, "ui records")
		} else if s != nil {
			self.Records = s
		}
	}
	if self.Face == nil {
		api, err := self.g.Face()
		if err != nil {
			return errors.Annotate(err, "ui face")
		}
		if api != nil {
			self.Face = api
		}
	}
	if self.Scanner == nil {
		self.Scanner = self.g.Capture()
	}
	if self.Capturer == nil {
		self.Capturer = self.g.Capture()
	}
	if self.Locker == nil {
		self.Locker = self.g.Locker
	}
	if self.Ind == nil {
		self.Ind = self.g.Indicator
	}

	self.display = self.g.MustTextDisplay()
	self.intr = self.g.Interrupt
	self.inputch = self.g.Hardware.Input.SubscribeChan("ui", self.g.Alive.StopChan())
	return nil
}

type eventKind uint8

const (
	eventInvalid eventKind = iota
	eventKey
	eventInterrupt
	eventTime
	eventStop
)

type event struct {
	kind eventKind
	key  types.InputKey
}

type intrMode uint8

const (
	intrReport intrMode = iota // return eventInterrupt, flag stays for Loop
	intrKeep                   // flag stays pending
	intrDrain                  // take and drop, face menu is already shown
)

// wait returns on key release, timeout or stop; timeout=0 waits forever.
func (self *UI) wait(timeout time.Duration, mode intrMode) event {
	var tmrch <-chan time.Time
	if timeout > 0 {
		tmr := time.NewTimer(timeout)
		defer tmr.Stop()
		tmrch = tmr.C
	}
	for {
		switch {
		case mode == intrReport && self.intr.Pending():
			return event{kind: eventInterrupt}
		case mode == intrDrain && self.intr.Take():
			self.g.Log.Debugf("ui interrupt ignored in face menu")
		}
		select {
		case e, ok := <-self.inputch:
			if !ok {
				return event{kind: eventStop}
			}
			if !e.Up {
				continue
			}
			return event{kind: eventKey, key: e.Key}

		case <-self.intr.Notify():

		case <-tmrch:
			return event{kind: eventTime}

		case <-self.g.Alive.StopChan():
			return event{kind: eventStop}
		}
	}
}

func (self *UI) waitKey() event {
	mode := intrReport
	if self.State().isFace() {
		mode = intrDrain
	}
	return self.wait(0, mode)
}

// sleep keeps reading input so keys pressed during messages are dropped.
func (self *UI) sleep(d time.Duration) bool {
	mode := intrKeep
	if self.State().isFace() {
		mode = intrDrain
	}
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return true
		}
		switch self.wait(left, mode).kind {
		case eventStop:
			return false
		case eventTime:
			return true
		}
	}
}

func (self *UI) message(d time.Duration, lines ...string) bool {
	self.display.SetLines(lines...)
	return self.sleep(d)
}

func (self *UI) indicate(k indicator.Kind) {
	if self.Ind == nil {
		return
	}
	if err := self.Ind.Set(k); err != nil {
		self.g.Error(err)
	}
}

func (self *UI) pulse(ctx context.Context, slot string, d time.Duration) error {
	err := self.Locker.Trigger(ctx, slot, d)
	if err != nil {
		self.g.Error(err, "ui pulse locker=%s", slot)
	}
	return err
}

func (self *UI) makeTempDir(prefix string) (string, error) {
	if self.tempDir != "" {
		if err := os.MkdirAll(self.tempDir, 0o700); err != nil {
			return "", errors.Annotate(err, "face temp_dir")
		}
	}
	dir, err := os.MkdirTemp(self.tempDir, prefix)
	return dir, errors.Annotate(err, "face temp_dir")
}
