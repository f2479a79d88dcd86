package tele

import (
	"context"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/temoto/penlok/log2"
)

type Config struct {
	Enable            bool   `hcl:"enable"`
	MqttTopic         string `hcl:"mqtt_topic"`
	HttpURL           string `hcl:"http_url"`
	PersistPath       string `hcl:"persist_path"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	RetryMs           int    `hcl:"retry_ms"`
	LogDebug          bool   `hcl:"log_debug"`
}

type Teler interface {
	Init(ctx context.Context, log *log2.Log, c Config, pub Publisher) error
	Close()
	Event(Event)
	Error(error)
}

type EventKind string

const (
	TamperDetected        EventKind = "TAMPER_DETECTED"
	TamperAnomaly         EventKind = "TAMPER_ANOMALY"
	RfidAccepted          EventKind = "RFID_ACCEPTED"
	RfidDenied            EventKind = "RFID_DENIED"
	LockerDoorClosed      EventKind = "LOCKER_DOOR_CLOSED"
	LockerPackageDetected EventKind = "LOCKER_PACKAGE_DETECTED"
	LockerOpened          EventKind = "LOCKER_OPENED"
	OtpValidated          EventKind = "OTP_VALIDATED"
	LockerAccessGranted   EventKind = "LOCKER_ACCESS_GRANTED"
	LockerAccessDenied    EventKind = "LOCKER_ACCESS_DENIED"

	kindError EventKind = "ERROR"
)

// backend ingest category, concrete kind goes into payload.event
const wireEventType = "DEVICE"

type Event struct {
	Kind   EventKind
	Locker string
	Detail string
	Time   time.Time
	ID     string
}

func NewEvent(kind EventKind, locker string) Event {
	return Event{Kind: kind, Locker: locker}
}

func (e *Event) fill() {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
}

func (e *Event) record() *Record {
	return &Record{
		Kind:   string(e.Kind),
		Locker: e.Locker,
		Time:   e.Time.UnixNano(),
		Id:     e.ID,
		Detail: e.Detail,
	}
}

// Record is persistent queue form of Event.
type Record struct {
	Kind   string `protobuf:"bytes,1,opt,name=kind,proto3" json:"kind,omitempty"`
	Locker string `protobuf:"bytes,2,opt,name=locker,proto3" json:"locker,omitempty"`
	Time   int64  `protobuf:"varint,3,opt,name=time,proto3" json:"time,omitempty"`
	Id     string `protobuf:"bytes,4,opt,name=id,proto3" json:"id,omitempty"`
	Detail string `protobuf:"bytes,5,opt,name=detail,proto3" json:"detail,omitempty"`
}

func (m *Record) Reset()         { *m = Record{} }
func (m *Record) String() string { return proto.CompactTextString(m) }
func (*Record) ProtoMessage()    {}
