// Package keypad scans 4x3 membrane key matrix.
// Column lines are driven high one at a time, row lines are read back.
package keypad

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/internal/types"
)

const SourceTag = "keypad-matrix"

const DefaultPoll = 50 * time.Millisecond

var Layout = [][]types.InputKey{
	{'1', '2', '3'},
	{'4', '5', '6'},
	{'7', '8', '9'},
	{'*', '0', '#'},
}

type Matrix struct {
	mu   sync.Mutex
	cols []pin.Setter
	rows []pin.Getter
	keys [][]types.InputKey
	poll time.Duration
	held types.InputKey
}

func NewMatrix(cols []pin.Setter, rows []pin.Getter, poll time.Duration) (*Matrix, error) {
	if len(rows) != len(Layout) || len(cols) != len(Layout[0]) {
		return nil, errors.NotValidf("keypad matrix rows=%d cols=%d expected 4x3", len(rows), len(cols))
	}
	if poll == 0 {
		poll = DefaultPoll
	}
	return &Matrix{cols: cols, rows: rows, keys: Layout, poll: poll}, nil
}

func (self *Matrix) String() string { return SourceTag }

// ReadKey performs single scan, returns first pressed key.
func (self *Matrix) ReadKey() (types.InputKey, bool, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for ci, col := range self.cols {
		if err := col.Set(true); err != nil {
			return 0, false, errors.Annotatef(err, "keypad col=%d", ci)
		}
		for ri, row := range self.rows {
			v, err := row.Get()
			if err != nil {
				_ = col.Set(false)
				return 0, false, errors.Annotatef(err, "keypad row=%d", ri)
			}
			if v {
				if err := col.Set(false); err != nil {
					return 0, false, errors.Annotatef(err, "keypad col=%d", ci)
				}
				return self.keys[ri][ci], true, nil
			}
		}
		if err := col.Set(false); err != nil {
			return 0, false, errors.Annotatef(err, "keypad col=%d", ci)
		}
	}
	return 0, false, nil
}

// Read blocks until key press or release.
// Release event is reported for the key held, so consumers may act on key up only.
func (self *Matrix) Read() (types.InputEvent, error) {
	for {
		key, ok, err := self.ReadKey()
		if err != nil {
			return types.InputEvent{}, err
		}
		switch {
		case self.held == 0 && ok:
			self.held = key
			return types.InputEvent{Source: SourceTag, Key: key}, nil
		case self.held != 0 && (!ok || key != self.held):
			prev := self.held
			self.held = 0
			return types.InputEvent{Source: SourceTag, Key: prev, Up: true}, nil
		}
		time.Sleep(self.poll)
	}
}
