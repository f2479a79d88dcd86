// Package serial reads newline terminated text from sub-controller UART.
package serial

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/juju/errors"
)

const MaxLine = 256

type LineReader interface {
	// ReadLine returns ok=false when complete line is not available yet.
	ReadLine() (line string, ok bool, err error)
	io.Closer
}

type Port struct {
	mu   sync.Mutex
	c    io.ReadCloser
	r    *bufio.Reader
	buf  []byte
	path string
}

var _ LineReader = &Port{}

// NewPort wraps reader that returns io.EOF on read timeout (VMIN=0 tty).
func NewPort(rc io.ReadCloser, path string) *Port {
	return &Port{
		c:    rc,
		r:    bufio.NewReaderSize(rc, MaxLine),
		buf:  make([]byte, 0, MaxLine),
		path: path,
	}
}

func (self *Port) String() string { return self.path }

func (self *Port) ReadLine() (string, bool, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for {
		b, err := self.r.ReadByte()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, errors.Annotatef(err, "serial read path=%s", self.path)
		}
		if b == '\n' {
			line := string(bytes.TrimSpace(self.buf))
			self.buf = self.buf[:0]
			return line, true, nil
		}
		if len(self.buf) >= MaxLine {
			// garbage without newline, resync on next one
			self.buf = self.buf[:0]
		}
		self.buf = append(self.buf, b)
	}
}

func (self *Port) Close() error { return self.c.Close() }
