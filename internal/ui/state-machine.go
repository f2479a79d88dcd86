package ui

import (
	"context"
	"sync/atomic"
)

type State uint32

const (
	StateDefault State = iota

	StateBoot           // ->MainMenu
	StateMainMenu       // +1=SendMenu +2=Pickup
	StateSendMenu       // +1=ScanQR +2=ManualTracking +*=MainMenu
	StateScanQR         // t=scanner ->MainMenu
	StateManualTracking // +ok=MainMenu +wrong=ManualTracking +*=SendMenu
	StatePickup         // +ok=MainMenu +wrong=Pickup

	StateFaceMenu   // +1=FaceTrain +2=FaceVerify +escape=MainMenu
	StateFaceTrain  // ->FaceMenu +escape=MainMenu
	StateFaceVerify // ->FaceMenu +escape=MainMenu

	StateStop
)

var stateNames = [...]string{
	StateDefault:        "Default",
	StateBoot:           "Boot",
	StateMainMenu:       "MainMenu",
	StateSendMenu:       "SendMenu",
	StateScanQR:         "ScanQR",
	StateManualTracking: "ManualTracking",
	StatePickup:         "Pickup",
	StateFaceMenu:       "FaceMenu",
	StateFaceTrain:      "FaceTrain",
	StateFaceVerify:     "FaceVerify",
	StateStop:           "Stop",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(invalid)"
}

func (s State) isFace() bool {
	return s == StateFaceMenu || s == StateFaceTrain || s == StateFaceVerify
}

func (self *UI) State() State               { return State(atomic.LoadUint32((*uint32)(&self.state))) }
func (self *UI) setState(new State)         { atomic.StoreUint32((*uint32)(&self.state), uint32(new)) }
func (self *UI) XXX_testSetState(new State) { self.setState(new) }

// Loop is the single dispatch loop. Admin interrupt is taken between states
// and switches to face menu from any front state.
func (self *UI) Loop(ctx context.Context) {
	if !self.g.Alive.Add(1) {
		return
	}
	defer self.g.Alive.Done()
	next := StateDefault
	for next != StateStop && self.g.Alive.IsRunning() {
		current := self.State()
		next = self.enter(ctx, current)
		if next == StateDefault {
			self.g.Log.Fatalf("ui state=%s next=default", current.String())
		}
		self.g.Log.Debugf("ui exit %s -> %s", current.String(), next.String())

		if self.intr.Take() && next != StateStop {
			if next.isFace() {
				self.g.Log.Debugf("ui interrupt ignored in face menu")
			} else {
				self.g.Log.Infof("ui admin interrupt state=%s", current.String())
				next = StateFaceMenu
			}
		}
		if next == StateFaceMenu && !current.isFace() {
			self.session.reset()
		}

		if !self.g.Alive.IsRunning() {
			self.g.Log.Debugf("ui Loop stopping because g.Alive")
			next = StateStop
		}

		self.setState(next)
		if self.XXX_testHook != nil {
			self.XXX_testHook(next)
		}
	}
	self.g.Log.Debugf("ui loop end")
}

func (self *UI) enter(ctx context.Context, s State) State {
	self.g.Log.Debugf("ui enter %s", s.String())
	switch s {
	case StateBoot:
		self.display.Clear()
		return StateMainMenu

	case StateMainMenu:
		return self.onMainMenu()
	case StateSendMenu:
		return self.onSendMenu()
	case StateScanQR:
		return self.onScanQR(ctx)
	case StateManualTracking:
		return self.onManualTracking(ctx)
	case StatePickup:
		return self.onPickup(ctx)

	case StateFaceMenu:
		return self.onFaceMenu()
	case StateFaceTrain:
		return self.faceResult(self.faceTrain(ctx))
	case StateFaceVerify:
		return self.faceResult(self.faceVerify(ctx))

	case StateStop:
		return StateStop

	default:
		self.g.Log.Fatalf("unhandled ui state=%s", s.String())
		return StateDefault
	}
}
