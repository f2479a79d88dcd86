package helpers

import (
	"strings"
	"sync"

	"github.com/juju/errors"
)

func FoldErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	ss := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			ss = append(ss, e.Error())
		}
	}
	if len(ss) == 0 {
		return nil
	}
	return errors.New(strings.Join(ss, "\n"))
}

// WrapErrChan runs f and sends non-nil result to errch.
// Use with FoldErrChan to run init tasks concurrently.
func WrapErrChan(wg *sync.WaitGroup, errch chan<- error, f func() error) {
	defer wg.Done()
	if err := f(); err != nil {
		errch <- err
	}
}

// FoldErrChan reads closed errch until end.
func FoldErrChan(errch <-chan error) error {
	errs := make([]error, 0, len(errch))
	for e := range errch {
		errs = append(errs, e)
	}
	return FoldErrors(errs)
}
