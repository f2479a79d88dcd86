package command

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/records"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatch        = 16
)

// RequestStore is satisfied by *records.Store.
type RequestStore interface {
	PendingRequests(ctx context.Context, lockers []string, limit int) ([]records.Request, error)
	MarkFulfilled(ctx context.Context, id int64, at time.Time) (bool, error)
}

type PollerConfig struct {
	Interval   time.Duration
	BackoffMax time.Duration
	BackoffK   float32
	Batch      int
	Pulse      time.Duration
}

// Poller opens lockers for unfulfilled requests, oldest first.
// Only requests for configured lockers are fetched, so foreign rows never fill the batch.
// Request is marked fulfilled only after pulse completed.
type Poller struct {
	log     *log2.Log
	store   RequestStore
	lock    Triggerer
	tele    tele.Teler
	config  PollerConfig
	backoff helpers.Backoff
	now     func() time.Time
}

func NewPoller(log *log2.Log, store RequestStore, lock Triggerer, t tele.Teler, c PollerConfig) *Poller {
	if c.Interval == 0 {
		c.Interval = DefaultPollInterval
	}
	if c.BackoffMax < c.Interval {
		c.BackoffMax = c.Interval
	}
	if c.Batch <= 0 {
		c.Batch = DefaultBatch
	}
	if c.Pulse == 0 {
		c.Pulse = DefaultPulse
	}
	return &Poller{
		log:     log,
		store:   store,
		lock:    lock,
		tele:    t,
		config:  c,
		backoff: helpers.Backoff{Min: c.Interval, Max: c.BackoffMax, K: c.BackoffK},
		now:     time.Now,
	}
}

// Poll runs one cycle, returns number of fulfilled requests.
func (self *Poller) Poll(ctx context.Context) (int, error) {
	reqs, err := self.store.PendingRequests(ctx, self.lock.IDs(), self.config.Batch)
	if err != nil {
		return 0, errors.Annotate(err, "poll")
	}
	n := 0
	for _, r := range reqs {
		if !self.lock.Has(r.Locker) {
			self.log.Errorf("poll request id=%d unknown locker=%q", r.ID, r.Locker)
			continue
		}
		self.log.Infof("poll request id=%d open locker=%s requested=%s", r.ID, r.Locker, r.RequestedAt.Format(time.RFC3339))
		if err := self.lock.Trigger(ctx, r.Locker, self.config.Pulse); err != nil {
			self.log.Errorf("poll request id=%d locker=%s err=%v", r.ID, r.Locker, err)
			continue
		}
		ok, err := self.store.MarkFulfilled(ctx, r.ID, self.now())
		if err != nil {
			return n, errors.Annotate(err, "poll")
		}
		if !ok {
			self.log.Infof("poll request id=%d already fulfilled", r.ID)
		}
		n++
		self.tele.Event(tele.NewEvent(tele.LockerOpened, r.Locker))
	}
	return n, nil
}

func (self *Poller) Run(ctx context.Context, a *alive.Alive) {
	if !a.Add(1) {
		return
	}
	defer a.Done()
	stopch := a.StopChan()
	for {
		d := self.config.Interval
		if _, err := self.Poll(ctx); err != nil {
			self.backoff.Failure()
			d = self.backoff.Next()
			self.log.Errorf("%v retry=%v", err, d)
		} else {
			self.backoff.Reset()
		}
		if !helpers.SleepStop(d, stopch) {
			return
		}
	}
}
