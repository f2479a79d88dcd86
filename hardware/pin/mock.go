package pin

import (
	"sync"
	"time"
)

// MockOutput records every state change with time.
type MockOutput struct {
	mu      sync.Mutex
	on      bool
	History []MockChange
	Err     error
}

type MockChange struct {
	On   bool
	Time time.Time
}

func (self *MockOutput) Set(on bool) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Err != nil {
		return self.Err
	}
	self.on = on
	self.History = append(self.History, MockChange{On: on, Time: time.Now()})
	return nil
}

func (self *MockOutput) IsOn() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.on
}

func (self *MockOutput) Changes() []MockChange {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]MockChange(nil), self.History...)
}

// MockInput returns queued values, then repeats last.
type MockInput struct {
	mu     sync.Mutex
	values []bool
	last   bool
	Err    error
}

func NewMockInput(values ...bool) *MockInput {
	return &MockInput{values: values}
}

func (self *MockInput) Push(values ...bool) {
	self.mu.Lock()
	self.values = append(self.values, values...)
	self.mu.Unlock()
}

func (self *MockInput) Set(v bool) {
	self.mu.Lock()
	self.values = nil
	self.last = v
	self.mu.Unlock()
}

func (self *MockInput) Get() (bool, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Err != nil {
		return false, self.Err
	}
	if len(self.values) > 0 {
		self.last = self.values[0]
		self.values = self.values[1:]
	}
	return self.last, nil
}

// Pending returns number of queued values not yet read.
func (self *MockInput) Pending() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.values)
}
