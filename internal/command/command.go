// Package command accepts remote "open locker" requests
// from MQTT topic and from persisted request table.
package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/internal/mqtt"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultPulse = time.Second
	ActionOpen   = "open"
)

// Triggerer is satisfied by *locker.Actuator.
type Triggerer interface {
	Has(id string) bool
	IDs() []string
	Trigger(ctx context.Context, id string, d time.Duration) error
}

type Subscribable interface {
	Subscribe(topic string, qos byte, h mqtt.Handler)
}

// Message is JSON command payload, locker_number may be string or number.
type Message struct {
	Action string             `json:"action"`
	Locker helpers.FlexString `json:"locker_number"`
}

type Subscriber struct {
	log   *log2.Log
	lock  Triggerer
	tele  tele.Teler
	pulse time.Duration
}

func NewSubscriber(log *log2.Log, lock Triggerer, t tele.Teler, pulse time.Duration) *Subscriber {
	if pulse == 0 {
		pulse = DefaultPulse
	}
	return &Subscriber{log: log, lock: lock, tele: t, pulse: pulse}
}

// Attach subscribes on every (re)connect. Handler errors are logged and dropped.
func (self *Subscriber) Attach(ctx context.Context, c Subscribable, topic string) {
	c.Subscribe(topic, 1, func(topic string, payload []byte) {
		if err := self.HandleMessage(ctx, payload); err != nil {
			self.log.Errorf("command topic=%s drop err=%v", topic, err)
		}
	})
	self.log.Debugf("command subscriber topic=%s", topic)
}

func (self *Subscriber) HandleMessage(ctx context.Context, payload []byte) error {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return errors.NotValidf("command payload=%q err=%v", payload, err)
	}
	if m.Action != ActionOpen {
		return errors.NotSupportedf("command action=%q", m.Action)
	}
	id := m.Locker.String()
	if !self.lock.Has(id) {
		return errors.NotFoundf("command locker=%q", id)
	}
	self.log.Infof("command open locker=%s", id)
	if err := self.lock.Trigger(ctx, id, self.pulse); err != nil {
		return errors.Annotatef(err, "command open locker=%s", id)
	}
	self.tele.Event(tele.NewEvent(tele.LockerOpened, id))
	return nil
}
