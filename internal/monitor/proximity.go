package monitor

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/hcsr04"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultProximityPoll  = time.Second
	DefaultThresholdCm    = 7.5
	DefaultSettle         = 3 * time.Second
	DefaultConfirmTimeout = 20 * time.Second
)

type Distancer interface {
	DistanceCm() (float64, error)
}

// ConfirmFunc runs secondary package confirmation, ctx carries the deadline.
type ConfirmFunc func(ctx context.Context) error

type Proximity struct {
	Threshold      float64
	Settle         time.Duration
	ConfirmTimeout time.Duration
	Confirm        ConfirmFunc

	log      *log2.Log
	sensor   Distancer
	locker   string
	tele     tele.Teler
	sink     Sink
	occupied bool
}

func NewProximity(log *log2.Log, sensor Distancer, locker string, t tele.Teler, sink Sink) *Proximity {
	return &Proximity{
		Threshold:      DefaultThresholdCm,
		Settle:         DefaultSettle,
		ConfirmTimeout: DefaultConfirmTimeout,
		log:            log,
		sensor:         sensor,
		locker:         locker,
		tele:           t,
		sink:           sink,
	}
}

func (self *Proximity) Occupied() bool { return self.occupied }

// Step returns true on Empty to Occupied crossing.
// Confirmation runs inside Step, bounded by ConfirmTimeout.
func (self *Proximity) Step(ctx context.Context) (bool, error) {
	d, err := self.sensor.DistanceCm()
	if err != nil {
		if errors.Cause(err) == hcsr04.ErrTimeout {
			self.log.Debugf("proximity echo timeout")
			return false, nil
		}
		return false, errors.Annotate(err, "proximity")
	}
	if d >= self.Threshold {
		if self.occupied {
			self.log.Debugf("proximity empty distance=%.2f", d)
		}
		self.occupied = false
		return false, nil
	}
	if self.occupied {
		return false, nil
	}

	self.occupied = true
	self.log.Infof("proximity package detected locker=%s distance=%.2f", self.locker, d)
	if self.sink != nil {
		self.sink(Event{Kind: KindProximityCrossing, Value: d, Time: time.Now()})
	}
	self.tele.Event(tele.NewEvent(tele.LockerPackageDetected, self.locker))

	if !sleepCtx(ctx, self.Settle) {
		return true, nil
	}
	if self.Confirm != nil {
		cctx, cancel := context.WithTimeout(ctx, self.ConfirmTimeout)
		err := self.Confirm(cctx)
		cancel()
		if err != nil {
			self.log.Errorf("proximity confirm locker=%s err=%v", self.locker, err)
		}
	}
	return true, nil
}
