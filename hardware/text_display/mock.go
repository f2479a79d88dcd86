package text_display

import (
	"bytes"
	"sync"
)

func NewMockTextDisplay(opt *TextDisplayConfig) *TextDisplay {
	display, err := NewTextDisplay(opt)
	if err != nil {
		panic(err)
	}
	display.dev = NewMockDevicer(display.width, display.height)
	return display
}

// MockDevicer keeps screen content in memory.
type MockDevicer struct {
	mu     sync.Mutex
	screen [][]byte
	y, x   int
}

func NewMockDevicer(width, height uint32) *MockDevicer {
	d := &MockDevicer{screen: make([][]byte, height)}
	for i := range d.screen {
		d.screen[i] = bytes.Repeat([]byte{' '}, int(width))
	}
	return d
}

func (self *MockDevicer) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, line := range self.screen {
		for i := range line {
			line[i] = ' '
		}
	}
	self.y, self.x = 0, 0
}

func (self *MockDevicer) CursorYX(y, x uint8) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if y == 0 || int(y) > len(self.screen) || x == 0 {
		return false
	}
	self.y, self.x = int(y)-1, int(x)-1
	return true
}

func (self *MockDevicer) Write(b []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.y >= len(self.screen) {
		return
	}
	line := self.screen[self.y]
	n := copy(line[self.x:], b)
	self.x += n
}

func (self *MockDevicer) Line(y int) string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return string(self.screen[y])
}
