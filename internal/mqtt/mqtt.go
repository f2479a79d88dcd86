// Package mqtt is one broker connection shared by command intake and event publishing.
// Subscriptions are restored on every (re)connect.
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultNetworkTimeout = 10 * time.Second
	DefaultRetry          = 5 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	Enable            bool   `hcl:"enable"`
	Broker            string `hcl:"broker"`
	ClientID          string `hcl:"client_id"`
	Username          string `hcl:"username"`
	Password          string `hcl:"password"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	PingTimeoutSec    int    `hcl:"ping_timeout_sec"`
	RetrySec          int    `hcl:"retry_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	LogDebug          bool   `hcl:"log_debug"`
}

type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler Handler
}

type Client struct {
	log     *log2.Log
	m       paho.Client
	timeout time.Duration
	backoff helpers.Backoff

	mu   sync.Mutex
	subs map[string]subscription
}

func NewClient(log *log2.Log, c Config) (*Client, error) {
	if _, err := url.ParseRequestURI(c.Broker); err != nil {
		return nil, errors.Annotatef(err, "mqtt broker=%s", c.Broker)
	}
	if c.ClientID == "" {
		c.ClientID = "penlok"
	}
	mlog := log.Clone(log2.LInfo)
	if c.LogDebug {
		mlog.SetLevel(log2.LDebug)
	}
	paho.ERROR = pahoLogger{mlog, log2.LError}
	paho.CRITICAL = pahoLogger{mlog, log2.LError}
	paho.WARN = pahoLogger{mlog, log2.LInfo}
	if c.LogDebug {
		paho.DEBUG = pahoLogger{mlog, log2.LDebug}
	}

	retry := helpers.IntSecondDefault(c.RetrySec, DefaultRetry)
	self := &Client{
		log:     mlog,
		timeout: helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout),
		backoff: helpers.Backoff{Min: retry, Max: retry, K: 1},
		subs:    make(map[string]subscription),
	}
	opt := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetCleanSession(true).
		SetKeepAlive(helpers.IntSecondDefault(c.KeepaliveSec, 60*time.Second)).
		SetPingTimeout(helpers.IntSecondDefault(c.PingTimeoutSec, 30*time.Second)).
		SetOrderMatters(false).
		SetConnectTimeout(self.timeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(retry).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost)
	self.m = paho.NewClient(opt)
	return self, nil
}

// Connect retries first connection in background with fixed delay
// until success or a is stopped. Never blocks on network.
// Paho auto reconnect only covers connections lost after first success.
func (self *Client) Connect(a *alive.Alive) {
	if !a.Add(1) {
		return
	}
	go func() {
		defer a.Done()
		stopch := a.StopChan()
		for {
			self.log.Debugf("mqtt connecting")
			token := self.m.Connect()
			token.Wait()
			err := token.Error()
			if err == nil {
				self.backoff.Reset()
				return
			}
			self.backoff.Failure()
			d := self.backoff.Next()
			self.log.Errorf("mqtt connect err=%v retry=%v", err, d)
			if !helpers.SleepStop(d, stopch) {
				return
			}
		}
	}()
}

func (self *Client) IsConnected() bool { return self.m.IsConnectionOpen() }

func (self *Client) WaitConnected(ctx context.Context) error {
	tmr := time.NewTicker(20 * time.Millisecond)
	defer tmr.Stop()
	for !self.IsConnected() {
		select {
		case <-tmr.C:
		case <-ctx.Done():
			return errors.Annotate(ctx.Err(), "mqtt wait connected")
		}
	}
	return nil
}

// Subscribe registers handler; it is (re)applied on every connect.
func (self *Client) Subscribe(topic string, qos byte, h Handler) {
	self.mu.Lock()
	self.subs[topic] = subscription{qos: qos, handler: h}
	self.mu.Unlock()
	if self.IsConnected() {
		self.subscribe(self.m, topic, subscription{qos: qos, handler: h})
	}
}

func (self *Client) Publish(topic string, qos byte, payload []byte) error {
	if !self.IsConnected() {
		return ErrNotConnected
	}
	token := self.m.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(self.timeout) {
		return errors.Timeoutf("mqtt publish topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "mqtt publish topic=%s", topic)
}

func (self *Client) Close() {
	self.m.Disconnect(250)
}

func (self *Client) onConnect(c paho.Client) {
	self.log.Infof("mqtt connected")
	self.mu.Lock()
	subs := make(map[string]subscription, len(self.subs))
	for t, s := range self.subs {
		subs[t] = s
	}
	self.mu.Unlock()
	for topic, s := range subs {
		self.subscribe(c, topic, s)
	}
}

func (self *Client) subscribe(c paho.Client, topic string, s subscription) {
	cb := func(_ paho.Client, msg paho.Message) {
		self.log.Debugf("mqtt message topic=%s payload=%s", msg.Topic(), msg.Payload())
		s.handler(msg.Topic(), msg.Payload())
	}
	token := c.Subscribe(topic, s.qos, cb)
	if !token.WaitTimeout(self.timeout) {
		self.log.Errorf("mqtt subscribe topic=%s timeout", topic)
		return
	}
	if err := token.Error(); err != nil {
		self.log.Errorf("mqtt subscribe topic=%s err=%v", topic, err)
		return
	}
	self.log.Infof("mqtt subscribed topic=%s", topic)
}

func (self *Client) onConnectionLost(c paho.Client, err error) {
	self.log.Infof("mqtt connection lost err=%v", err)
}

type pahoLogger struct {
	log   *log2.Log
	level log2.Level
}

func (p pahoLogger) Println(v ...interface{}) {
	p.log.Log(p.level, "mqtt: "+fmt.Sprint(v...))
}
func (p pahoLogger) Printf(format string, v ...interface{}) {
	p.log.Logf(p.level, "mqtt: "+format, v...)
}
