// Line addressed character display on top of Devicer.
// Overlong lines are cut to width, missing lines are blanked.
package text_display

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/paulrosania/go-charset/charset"
	_ "github.com/paulrosania/go-charset/data"
)

const (
	MaxWidth  = 40
	MaxHeight = 4
)

var spaceBytes = bytes.Repeat([]byte{' '}, MaxWidth)

type TextDisplay struct { //nolint:maligned
	mu     sync.Mutex
	dev    Devicer
	tr     atomic.Value
	width  uint32
	height uint32
	state  State
	upd    chan<- State
}

type TextDisplayConfig struct {
	Codepage string
	Width    uint32
	Height   uint32
}

type Devicer interface {
	Clear()
	// 1-based
	CursorYX(y, x uint8) bool
	Write(b []byte)
}

func NewTextDisplay(opt *TextDisplayConfig) (*TextDisplay, error) {
	if opt == nil {
		opt = &TextDisplayConfig{}
	}
	self := &TextDisplay{
		width:  opt.Width,
		height: opt.Height,
	}
	if self.width == 0 || self.width > MaxWidth {
		self.width = 16
	}
	if self.height == 0 || self.height > MaxHeight {
		self.height = MaxHeight
	}

	if opt.Codepage != "" {
		if err := self.SetCodepage(opt.Codepage); err != nil {
			return nil, errors.Annotatef(err, "codepage=%s", opt.Codepage)
		}
	}

	return self, nil
}

func (self *TextDisplay) SetCodepage(cp string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	tr, err := charset.TranslatorTo(cp)
	if err != nil {
		return err
	}
	self.tr.Store(tr)
	return nil
}

func (self *TextDisplay) SetDevice(dev Devicer) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.dev = dev
}

func (self *TextDisplay) Width() uint32  { return self.width }
func (self *TextDisplay) Height() uint32 { return self.height }

func (self *TextDisplay) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.state.Clear()
	if self.dev != nil {
		self.dev.Clear()
	}
	self.notify()
}

// SetLines replaces whole screen content.
// Lines beyond display height are dropped.
func (self *TextDisplay) SetLines(lines ...string) {
	next := State{Lines: make([][]byte, self.height)}
	for i := range next.Lines {
		if i < len(lines) {
			next.Lines[i] = self.fit(self.Translate(lines[i]))
		}
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	self.state = next
	self.flush()
}

// Message shows lines while wait() runs, then restores previous content.
func (self *TextDisplay) Message(wait func(), lines ...string) {
	self.mu.Lock()
	prev := self.state.Copy()
	self.mu.Unlock()

	self.SetLines(lines...)
	wait()

	self.mu.Lock()
	self.state = prev
	self.flush()
	self.mu.Unlock()
}

// sometimes returns slice into shared spaceBytes
// sometimes returns `b` (len>=width-1)
// sometimes allocates new buffer
func (self *TextDisplay) JustCenter(b []byte) []byte {
	l := len(b)
	w := int(atomic.LoadUint32(&self.width))

	if l == 0 {
		return spaceBytes[:w]
	}
	if l >= w-1 {
		return b
	}
	padtotal := w - l
	n := padtotal / 2
	padleft := spaceBytes[:n]
	padright := spaceBytes[:n+padtotal%2] // account for odd length
	buf := make([]byte, 0, w)
	buf = append(append(append(buf, padleft...), b...), padright...)
	return buf
}

// Center is JustCenter for text. Result is meant for SetLines, no translation applied.
func (self *TextDisplay) Center(s string) string {
	return string(self.JustCenter([]byte(strings.TrimSpace(s))))
}

func (self *TextDisplay) Translate(s string) []byte {
	if len(s) == 0 {
		return spaceBytes[:0]
	}

	result := []byte(s)
	tr, ok := self.tr.Load().(charset.Translator)
	if ok && tr != nil {
		_, tb, err := tr.Translate(result, true)
		if err != nil {
			// codepage tables are static, this means bad input
			return result
		}
		// translator reuses single internal buffer, make a copy
		result = append([]byte(nil), tb...)
	}
	return result
}

func (self *TextDisplay) SetUpdateChan(ch chan<- State) {
	self.mu.Lock()
	self.upd = ch
	self.mu.Unlock()
}

func (self *TextDisplay) State() State {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state.Copy()
}

func (self *TextDisplay) fit(b []byte) []byte {
	if uint32(len(b)) > self.width {
		return b[:self.width]
	}
	return b
}

// caller holds mu
func (self *TextDisplay) flush() {
	if self.dev != nil {
		for i := uint32(0); i < self.height; i++ {
			var line []byte
			if int(i) < len(self.state.Lines) {
				line = self.state.Lines[i]
			}
			self.dev.CursorYX(uint8(i+1), 1)
			self.dev.Write(PadSpace(line, self.width))
		}
	}
	self.notify()
}

func (self *TextDisplay) notify() {
	if self.upd != nil {
		self.upd <- self.state.Copy()
	}
}

type State struct {
	Lines [][]byte
}

func (s *State) Clear() { s.Lines = nil }

func (s State) Copy() State {
	if s.Lines == nil {
		return State{}
	}
	c := State{Lines: make([][]byte, len(s.Lines))}
	for i, l := range s.Lines {
		c.Lines[i] = append([]byte(nil), l...)
	}
	return c
}

func (s State) Line(i int) string {
	if i < 0 || i >= len(s.Lines) {
		return ""
	}
	return string(s.Lines[i])
}

// Format pads every line to width, one per text line.
func (s State) Format(width uint32) string {
	ss := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		ss[i] = string(PadSpace(l, width))
	}
	return strings.Join(ss, "\n")
}

func (s State) String() string {
	ss := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		ss[i] = string(l)
	}
	return strings.Join(ss, "\n")
}

func PadSpace(b []byte, width uint32) []byte {
	l := uint32(len(b))

	if l == 0 {
		return spaceBytes[:width]
	}
	if l >= width {
		return b
	}
	buf := make([]byte, 0, width)
	buf = append(append(buf, b...), spaceBytes[:width-l]...)
	return buf
}
