package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/penlok/internal/indicator"
	"github.com/temoto/penlok/internal/records"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/internal/types"
)

const (
	msgSendTitle     = "SEND PACKAGE"
	msgTrackingTitle = "Tracking last 5"
	msgOTPTitle      = "Enter OTP"
	msgCameraError   = "Camera error"
)

func (self *UI) onMainMenu() State {
	self.display.SetLines(
		self.display.Center(self.config.MsgTitle),
		"1=Send package",
		"2=Pickup package",
	)
	for {
		e := self.waitKey()
		switch e.kind {
		case eventStop:
			return StateStop
		case eventInterrupt:
			return StateMainMenu
		case eventKey:
			switch e.key {
			case '1':
				return StateSendMenu
			case '2':
				return StatePickup
			}
		}
	}
}

func (self *UI) onSendMenu() State {
	self.display.SetLines(msgSendTitle, "1=Scan QR", "2=Enter tracking", "*=Back")
	for {
		e := self.waitKey()
		switch e.kind {
		case eventStop:
			return StateStop
		case eventInterrupt:
			return StateSendMenu
		case eventKey:
			switch e.key {
			case '1':
				return StateScanQR
			case '2':
				return StateManualTracking
			case types.KeyStar:
				return StateMainMenu
			}
		}
	}
}

func (self *UI) onScanQR(ctx context.Context) State {
	self.display.SetLines(msgSendTitle, "Show QR code", "to camera")
	code, err := self.Scanner.ScanQR(ctx)
	if err != nil {
		self.g.Error(err, "ui scan qr")
		if !self.message(msgDelay, msgCameraError) {
			return StateStop
		}
		return StateMainMenu
	}
	delay := self.qrShort
	if code != 0 {
		self.g.Log.Infof("ui scan qr exit=%d", code)
		delay = self.qrLong
	}
	if !self.message(delay, msgSendTitle, "Please wait") {
		return StateStop
	}
	slot := self.config.SendSlot
	self.display.SetLines(msgSendTitle, "Locker "+slot+" open", "Put package in")
	if self.pulse(ctx, slot, self.sendPulse) == nil {
		self.g.Tele.Event(tele.NewEvent(tele.LockerOpened, slot))
	}
	return StateMainMenu
}

func (self *UI) onManualTracking(ctx context.Context) State {
	suffix, next := self.readDigits(msgTrackingTitle, records.TrackingSuffixLen, true)
	if next != StateDefault {
		if next == stateBack {
			return StateSendMenu
		}
		return next
	}

	ok, err := self.verify(ctx, "tracking", suffix, func(r Records) (bool, error) {
		return r.TrackingSuffixExists(ctx, suffix)
	})
	slot := self.config.SendSlot
	if !ok {
		if err != nil {
			self.g.Error(err, "ui tracking")
		}
		self.indicate(indicator.KindWrong)
		return StateManualTracking
	}
	self.g.Log.Infof("ui tracking suffix=%s accepted", suffix)
	self.display.SetLines(msgSendTitle, "Locker "+slot+" open", "Put package in")
	self.indicate(indicator.KindCorrect)
	if self.pulse(ctx, slot, self.sendPulse) == nil {
		self.g.Tele.Event(tele.NewEvent(tele.LockerAccessGranted, slot))
	}
	return StateMainMenu
}

func (self *UI) onPickup(ctx context.Context) State {
	otp, next := self.readDigits(msgOTPTitle, records.OTPLen, false)
	if next != StateDefault {
		return next
	}

	ok, err := self.verify(ctx, "otp", otp, func(r Records) (bool, error) {
		return r.OTPExists(ctx, otp)
	})
	slot := self.config.PickupSlot
	if !ok {
		if err != nil {
			self.g.Error(err, "ui otp")
		}
		self.display.SetLines(msgOTPTitle, "Wrong code")
		self.indicate(indicator.KindWrong)
		self.g.Tele.Event(tele.NewEvent(tele.LockerAccessDenied, slot))
		return StatePickup
	}
	self.g.Log.Infof("ui otp accepted locker=%s", slot)
	self.display.SetLines(msgOTPTitle, "Locker "+slot+" open", "Take package")
	self.indicate(indicator.KindCorrectShort)
	if self.pulse(ctx, slot, self.pickupPulse) == nil {
		self.g.Tele.Event(tele.NewEvent(tele.OtpValidated, slot))
	}
	return StateMainMenu
}

// stateBack is local result of readDigits, never stored.
const stateBack = StateStop + 1

// readDigits collects exactly n digits. `#` clears buffer.
// `*` returns stateBack when back is allowed, otherwise it is ignored.
// Returns StateDefault with complete input.
func (self *UI) readDigits(title string, n int, back bool) (string, State) {
	buf := make([]byte, 0, n)
	hint := "#=Clear"
	if back {
		hint += " *=Back"
	}
	for {
		self.display.SetLines(title, fmt.Sprintf("%s%s", buf, strings.Repeat("_", n-len(buf))), hint)
		e := self.waitKey()
		switch e.kind {
		case eventStop:
			return "", StateStop
		case eventInterrupt:
			return "", self.State()
		case eventKey:
			switch {
			case e.key == types.KeyHash:
				buf = buf[:0]
			case e.key == types.KeyStar:
				if back {
					return "", stateBack
				}
			case e.key >= '0' && e.key <= '9':
				buf = append(buf, byte(e.key))
				if len(buf) == n {
					return string(buf), StateDefault
				}
			}
		}
	}
}

func (self *UI) verify(ctx context.Context, tag, input string, check func(Records) (bool, error)) (bool, error) {
	if self.Records == nil {
		return false, errors.NotSupportedf("ui %s lookup without database", tag)
	}
	self.display.SetLines("Checking...")
	ok, err := check(self.Records)
	if err != nil {
		return false, errors.Annotatef(err, "ui %s", tag)
	}
	self.g.Log.Debugf("ui %s input=%s match=%t", tag, input, ok)
	return ok, nil
}
