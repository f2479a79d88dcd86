package serial

import (
	"os"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

var bauds = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Open configures raw 8N1 with 100ms read timeout.
func Open(path string, baud int) (*Port, error) {
	speed, ok := bauds[baud]
	if !ok {
		return nil, errors.NotSupportedf("serial baud=%d", baud)
	}
	f, err := os.OpenFile(path, unix.O_RDWR|unix.O_NOCTTY, 0600)
	if err != nil {
		return nil, errors.Annotatef(err, "serial open path=%s", path)
	}
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "serial TCGETS path=%s", path)
	}
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Cflag = speed | unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "serial TCSETS path=%s baud=%d", path, baud)
	}
	return NewPort(f, path), nil
}
