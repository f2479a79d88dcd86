package monitor

import (
	"math"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/hx711"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultWeightPoll      = time.Second
	DefaultWeightSamples   = 10
	DefaultWeightTolerance = 5.0
	weightSampleInterval   = 50 * time.Millisecond
)

type Averager interface {
	Average(n int, interval time.Duration) (float64, error)
}

// Weight emits only when reading moved at least Tolerance grams
// from last emitted value.
type Weight struct {
	log       *log2.Log
	cell      Averager
	cal       hx711.Calibration
	samples   int
	tolerance float64
	sink      Sink
	last      float64
	hasLast   bool
}

func NewWeight(log *log2.Log, cell Averager, cal hx711.Calibration, samples int, tolerance float64, sink Sink) *Weight {
	if samples <= 0 {
		samples = DefaultWeightSamples
	}
	if tolerance <= 0 {
		tolerance = DefaultWeightTolerance
	}
	return &Weight{log: log, cell: cell, cal: cal, samples: samples, tolerance: tolerance, sink: sink}
}

func (self *Weight) Step(now time.Time) (Event, bool, error) {
	raw, err := self.cell.Average(self.samples, weightSampleInterval)
	if err != nil {
		return Event{}, false, errors.Annotate(err, "loadcell")
	}
	grams := self.cal.Grams(raw)
	if self.hasLast && math.Abs(grams-self.last) < self.tolerance {
		return Event{}, false, nil
	}
	self.last, self.hasLast = grams, true
	e := Event{Kind: KindWeightChange, Value: grams, Time: now}
	self.log.Debugf("weight grams=%.2f", grams)
	if self.sink != nil {
		self.sink(e)
	}
	return e, true, nil
}
