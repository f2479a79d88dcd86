// Package persist binds small state values to crash safe files.
package persist

import (
	"encoding"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/extremofile"
	"github.com/temoto/penlok/log2"
)

type Stater interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Persist loads and stores target under root/tag.
// Empty root disables storage, Load and Store become no-op.
type Persist struct {
	sync.Mutex
	log     *log2.Log
	tag     string
	target  Stater
	storage storage
}

func New(log *log2.Log, tag string, target Stater, root string) *Persist {
	if target == nil {
		panic("code error persist target nil")
	}
	p := &Persist{log: log, tag: tag, target: target}
	if root == "" {
		p.log.Debugf("persist %s disabled", tag)
		return p
	}
	p.storage = extremofile.New(extremofile.Config{
		Dir:      filepath.Join(root, tag),
		DirPerm:  0755,
		FilePerm: 0644,
	})
	return p
}

func (p *Persist) Enabled() bool { return p.storage != nil }

// Load returns (false, nil) when nothing was stored yet.
func (p *Persist) Load() (bool, error) {
	if p.storage == nil {
		return false, nil
	}
	p.Lock()
	defer p.Unlock()
	tbegin := time.Now()
	b, err := p.storage.Read()
	p.log.Debugf("persist %s storage.read duration=%v", p.tag, time.Since(tbegin))
	if err != nil {
		if b == nil || extremofile.IsCritical(err) {
			return false, errors.Annotatef(err, "persist %s Load", p.tag)
		}
		p.log.Errorf("persist %s ignore non-critical storage err=%v", p.tag, err)
	}
	if b == nil {
		return false, nil
	}
	if err = p.target.UnmarshalBinary(b); err != nil {
		return false, errors.Annotatef(err, "persist %s Load", p.tag)
	}
	return true, nil
}

func (p *Persist) Store() error {
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	b, err := p.target.MarshalBinary()
	if err == nil {
		tbegin := time.Now()
		_, err = p.storage.Write(b)
		p.log.Debugf("persist %s storage.write duration=%v", p.tag, time.Since(tbegin))
	}
	return errors.Annotatef(err, "persist %s Store", p.tag)
}
