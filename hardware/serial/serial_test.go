package serial

import (
	"io"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunks are returned one per Read, io.EOF between them mimics tty timeout
type chunkReader struct{ chunks []string }

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0]
	if c == "" {
		r.chunks = r.chunks[1:]
		return 0, io.EOF
	}
	n := copy(p, c)
	if n < len(c) {
		r.chunks[0] = c[n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestReadLine(t *testing.T) {
	t.Parallel()
	r := &chunkReader{chunks: []string{"RFID:ACC", "", "EPTED:ab12\r\nIR:DET", "ECTED\n\n"}}
	p := NewPort(ioutil.NopCloser(r), "mock")

	type result struct {
		line string
		ok   bool
	}
	results := []result{}
	for i := 0; i < 8; i++ {
		line, ok, err := p.ReadLine()
		require.NoError(t, err)
		results = append(results, result{line, ok})
	}
	lines := []string{}
	for _, r := range results {
		if r.ok {
			lines = append(lines, r.line)
		}
	}
	assert.Equal(t, []string{"RFID:ACCEPTED:ab12", "IR:DETECTED", ""}, lines)
}

func TestReadLineOverflow(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", MaxLine+10)
	r := &chunkReader{chunks: []string{long, "\nULTRA:DETECTED\n"}}
	p := NewPort(ioutil.NopCloser(r), "mock")
	var got []string
	for i := 0; i < 6; i++ {
		line, ok, err := p.ReadLine()
		require.NoError(t, err)
		if ok {
			got = append(got, line)
		}
	}
	require.Len(t, got, 2)
	assert.Len(t, got[0], 10)
	assert.Equal(t, "ULTRA:DETECTED", got[1])
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestReadLineError(t *testing.T) {
	t.Parallel()
	p := NewPort(ioutil.NopCloser(errReader{}), "mock")
	_, ok, err := p.ReadLine()
	assert.False(t, ok)
	assert.Error(t, err)
}
