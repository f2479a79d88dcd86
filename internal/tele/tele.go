package tele

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/log2"
	"github.com/temoto/spq"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	defaultRetry          = 5 * time.Second
	defaultRetryMax       = 2 * time.Minute
	eventsPath            = "/iot/events/"
)

// Publisher is satisfied by internal/mqtt.Client.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Tele contract:
//   - Init() fails only with invalid config, network issues ignored
//   - Event/Error block at most for disk write,
//     delivery happens in background, at least once
//   - Close() stops background delivery, undelivered records stay on disk
type tele struct {
	config  Config
	log     *log2.Log
	pub     Publisher
	http    *http.Client
	q       *spq.Queue
	stopCh  chan struct{}
	doneCh  chan struct{}
	backoff helpers.Backoff
}

func New() Teler {
	return &tele{}
}

// NewWithHTTP is for tests, replaces HTTP transport.
func NewWithHTTP(rt http.RoundTripper) Teler {
	return &tele{http: &http.Client{Transport: rt}}
}

func (self *tele) Init(ctx context.Context, log *log2.Log, c Config, pub Publisher) error {
	self.config = c
	self.log = log
	if self.config.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.config.Enable {
		return nil
	}
	if self.config.HttpURL != "" {
		if !strings.HasPrefix(self.config.HttpURL, "http://") && !strings.HasPrefix(self.config.HttpURL, "https://") {
			return errors.NotValidf("tele.http_url=%s", self.config.HttpURL)
		}
	}
	if self.config.MqttTopic != "" && pub == nil {
		return errors.NotValidf("tele.mqtt_topic set without mqtt client")
	}
	self.pub = pub
	if self.http == nil {
		self.http = &http.Client{}
	}
	self.http.Timeout = helpers.IntSecondDefault(self.config.NetworkTimeoutSec, DefaultNetworkTimeout)
	self.backoff = helpers.Backoff{
		Min: helpers.IntMillisecondDefault(self.config.RetryMs, defaultRetry),
		Max: defaultRetryMax,
		K:   2,
	}

	if self.config.PersistPath == "" {
		return errors.NotValidf("tele.persist_path empty")
	}
	var err error
	self.q, err = spq.Open(self.config.PersistPath)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}
	self.stopCh = make(chan struct{})
	self.doneCh = make(chan struct{})
	go self.qworker()
	return nil
}

func (self *tele) Close() {
	if self.q == nil {
		return
	}
	close(self.stopCh)
	self.q.Close()
	<-self.doneCh
}

func (self *tele) Event(e Event) {
	if !self.config.Enable {
		self.log.Debugf("tele disabled event=%s locker=%s", e.Kind, e.Locker)
		return
	}
	e.fill()
	self.log.Debugf("tele event=%s locker=%s id=%s", e.Kind, e.Locker, e.ID)
	if err := self.qpushTagProto(qEvent, e.record()); err != nil {
		self.log.Errorf("CRITICAL tele queue event=%#v err=%v", e, err)
	}
}

func (self *tele) Error(e error) {
	if !self.config.Enable || e == nil {
		return
	}
	// log2 error func leads here, must not use log.Error
	self.log.Debugf("tele.Error: %s", errors.ErrorStack(e))
	ev := Event{Kind: kindError, Detail: e.Error()}
	ev.fill()
	if err := self.qpushTagProto(qError, ev.record()); err != nil {
		self.log.Logf(log2.LError, "CRITICAL tele queue error=%v err=%v", e, err)
	}
}

// denote value type in persistent queue bytes form
const (
	qEvent byte = 1
	qError byte = 2
)

func (self *tele) qworker() {
	defer close(self.doneCh)
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			var del bool
			del, err = self.qhandle(b)
			if err != nil {
				self.log.Logf(log2.LError, "tele qhandle b=%x err=%v", b, err)
			}
			if del {
				if err = self.q.Delete(box); err != nil {
					self.log.Logf(log2.LError, "tele qhandle Delete b=%x err=%v", b, err)
				}
				self.backoff.Reset()
			} else {
				if err = self.q.DeletePush(box); err != nil {
					self.log.Logf(log2.LError, "tele qhandle DeletePush b=%x err=%v", b, err)
				}
				self.backoff.Failure()
				if !helpers.SleepStop(self.backoff.Next(), self.stopCh) {
					return
				}
			}

		case spq.ErrClosed:
			select {
			case <-self.stopCh: // success path
			default:
				self.log.Logf(log2.LError, "CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Logf(log2.LError, "CRITICAL tele spq err=%v", err)
			if !helpers.SleepStop(defaultRetry, self.stopCh) {
				return
			}
		}
	}
}

// qhandle returns true when record should be removed from queue.
func (self *tele) qhandle(b []byte) (bool, error) {
	if len(b) == 0 {
		return true, errors.Errorf("tele spq peek=empty")
	}
	var r Record
	if err := proto.Unmarshal(b[1:], &r); err != nil {
		return true, errors.Annotate(err, "tele record")
	}
	switch b[0] {
	case qEvent:
		return self.send(&r, self.config.MqttTopic, true)
	case qError:
		topic := ""
		if self.config.MqttTopic != "" {
			topic = self.config.MqttTopic + "/error"
		}
		return self.send(&r, topic, false)
	default:
		return true, errors.Errorf("unknown kind=%d", b[0])
	}
}

func (self *tele) send(r *Record, topic string, withHTTP bool) (bool, error) {
	payload, err := json.Marshal(newWireEvent(r))
	if err != nil {
		return true, errors.Annotate(err, "CRITICAL tele marshal") // retry will not help
	}
	if withHTTP && self.config.HttpURL != "" {
		if err = self.post(payload); err != nil {
			return false, err
		}
	}
	if topic != "" {
		if err = self.pub.Publish(topic, 1, payload); err != nil {
			return false, errors.Annotate(err, "tele publish")
		}
	}
	return true, nil
}

func (self *tele) post(payload []byte) error {
	url := strings.TrimRight(self.config.HttpURL, "/") + eventsPath
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Annotate(err, "tele post")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := self.http.Do(req)
	if err != nil {
		return errors.Annotate(err, "tele post")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("tele post url=%s status=%d", url, resp.StatusCode)
	}
	return nil
}

func (self *tele) qpushTagProto(tag byte, pb proto.Message) error {
	buf := proto.NewBuffer(make([]byte, 0, 256))
	if err := buf.EncodeVarint(uint64(tag)); err != nil {
		return err
	}
	if err := buf.Marshal(pb); err != nil {
		return err
	}
	return self.q.Push(buf.Bytes())
}

type wirePayload struct {
	Event        string `json:"event"`
	LockerNumber string `json:"locker_number,omitempty"`
	Timestamp    string `json:"timestamp"`
	ID           string `json:"id"`
	Detail       string `json:"detail,omitempty"`
}

type wireEvent struct {
	EventType string      `json:"event_type"`
	Payload   wirePayload `json:"payload"`
}

func newWireEvent(r *Record) wireEvent {
	return wireEvent{
		EventType: wireEventType,
		Payload: wirePayload{
			Event:        r.Kind,
			LockerNumber: r.Locker,
			Timestamp:    time.Unix(0, r.Time).UTC().Format(time.RFC3339Nano),
			ID:           r.Id,
			Detail:       r.Detail,
		},
	}
}

func (self *tele) String() string {
	return fmt.Sprintf("tele enable=%t http=%s mqtt=%s", self.config.Enable, self.config.HttpURL, self.config.MqttTopic)
}
