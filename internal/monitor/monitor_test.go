package monitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/penlok/hardware/hcsr04"
	"github.com/temoto/penlok/hardware/hx711"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/hardware/serial"
	"github.com/temoto/penlok/internal/state/persist"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

type fakeCell struct{ vals []float64 }

func (f *fakeCell) Average(n int, interval time.Duration) (float64, error) {
	if len(f.vals) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	v := f.vals[0]
	f.vals = f.vals[1:]
	return v, nil
}

type reading struct {
	cm  float64
	err error
}

type fakeDistancer struct{ rs []reading }

func (f *fakeDistancer) DistanceCm() (float64, error) {
	r := f.rs[0]
	f.rs = f.rs[1:]
	return r.cm, r.err
}

type fakeLock struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLock) Trigger(ctx context.Context, id string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s/%v", id, d))
	return nil
}

type fakeInd struct{ wrong, correct int }

func (f *fakeInd) Wrong() error   { f.wrong++; return nil }
func (f *fakeInd) Correct() error { f.correct++; return nil }

type fakePort struct {
	lines  []string
	err    error
	closed int
}

var _ serial.LineReader = &fakePort{}

func (f *fakePort) ReadLine() (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if len(f.lines) == 0 {
		return "", false, nil
	}
	l := f.lines[0]
	f.lines = f.lines[1:]
	return l, true, nil
}

func (f *fakePort) Close() error { f.closed++; return nil }

func TestWeightTolerance(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	events := []Event{}
	cell := &fakeCell{vals: []float64{100, 103, 104.9, 105, 99.9, 100}}
	w := NewWeight(log, cell, hx711.Calibration{Offset: 0, Scale: 1}, 10, 5, func(e Event) { events = append(events, e) })
	emitted := []bool{}
	for i := 0; i < 6; i++ {
		_, ok, err := w.Step(time.Now())
		require.NoError(t, err)
		emitted = append(emitted, ok)
	}
	assert.Equal(t, []bool{true, false, false, true, true, false}, emitted)
	require.Len(t, events, 3)
	assert.Equal(t, KindWeightChange, events[0].Kind)
	assert.Equal(t, 105.0, events[1].Value)

	_, _, err := w.Step(time.Now())
	assert.Error(t, err)
}

func TestWeightCalibration(t *testing.T) {
	t.Parallel()
	cell := &fakeCell{vals: []float64{8763202 + 196.584*250}}
	w := NewWeight(log2.NewTest(t, log2.LDebug), cell, hx711.Calibration{Offset: 8763202, Scale: 196.584}, 0, 0, nil)
	e, ok, err := w.Step(time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 250, e.Value, 0.001)
}

func TestProximityCrossing(t *testing.T) {
	t.Parallel()
	rec := tele.NewRecorder()
	sensor := &fakeDistancer{rs: []reading{
		{cm: 20}, {cm: 5}, {cm: 4}, {err: hcsr04.ErrTimeout}, {cm: 30}, {cm: 3},
	}}
	p := NewProximity(log2.NewTest(t, log2.LDebug), sensor, "1", rec, nil)
	p.Settle = 0
	confirms := 0
	p.Confirm = func(ctx context.Context) error {
		confirms++
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return errors.New("servo failed")
	}
	crossings := []bool{}
	for i := 0; i < 6; i++ {
		ok, err := p.Step(context.Background())
		require.NoError(t, err)
		crossings = append(crossings, ok)
	}
	assert.Equal(t, []bool{false, true, false, false, false, true}, crossings)
	assert.Equal(t, 2, confirms)
	assert.Equal(t, []tele.EventKind{tele.LockerPackageDetected, tele.LockerPackageDetected}, rec.Kinds())
	assert.Equal(t, "1", rec.Events()[0].Locker)
	assert.True(t, p.Occupied())
}

func TestProximityConfirmTimeout(t *testing.T) {
	t.Parallel()
	sensor := &fakeDistancer{rs: []reading{{cm: 1}}}
	p := NewProximity(log2.NewTest(t, log2.LDebug), sensor, "1", tele.NewStub(), nil)
	p.Settle = 0
	p.ConfirmTimeout = 20 * time.Millisecond
	p.Confirm = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	start := time.Now()
	ok, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProximityReadError(t *testing.T) {
	t.Parallel()
	sensor := &fakeDistancer{rs: []reading{{err: io.ErrClosedPipe}}}
	p := NewProximity(log2.NewTest(t, log2.LDebug), sensor, "1", tele.NewStub(), nil)
	_, err := p.Step(context.Background())
	assert.Error(t, err)
	assert.False(t, p.Occupied())
}

func pushAll(w *Window, entries ...bool) []bool {
	fired := make([]bool, len(entries))
	for i, e := range entries {
		fired[i] = w.Push(e)
	}
	return fired
}

func TestWindowAnomaly(t *testing.T) {
	t.Parallel()
	type Case struct {
		name   string
		input  []bool
		expect int
	}
	T, F := true, false
	cases := []Case{
		{"six", []bool{T, T, T, T, T, T}, 0},
		{"seven", []bool{T, T, T, T, T, T, T}, 1},
		{"six-one-one", []bool{T, T, T, T, T, T, F, T}, 0},
		{"dedupe", []bool{T, T, T, T, T, T, T, T, T, T}, 1},
		{"rearm", []bool{T, T, T, T, T, T, T, F, T, T, T, T, T, T, T}, 2},
		{"quiet", []bool{F, F, F, F, F, F, F}, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			w := NewWindow(7)
			n := 0
			for _, f := range pushAll(w, c.input...) {
				if f {
					n++
				}
			}
			assert.Equal(t, c.expect, n)
		})
	}
}

func TestWindowFiresOnSeventh(t *testing.T) {
	t.Parallel()
	w := NewWindow(0)
	fired := pushAll(w, true, true, true, true, true, true, true)
	assert.Equal(t, []bool{false, false, false, false, false, false, true}, fired)
	assert.True(t, w.AllTamper())
	assert.Equal(t, 7, w.Len())
}

func TestWindowBinary(t *testing.T) {
	t.Parallel()
	w := NewWindow(7)
	pushAll(w, true, false, true, true, true, true, true, true)
	b, err := w.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, b, windowSize)

	w2 := NewWindow(7)
	require.NoError(t, w2.UnmarshalBinary(b))
	assert.Equal(t, w, w2)
	// restored window continues where it stopped, quiet entry is evicted
	assert.True(t, w2.Push(true))

	assert.True(t, errors.IsNotValid(NewWindow(5).UnmarshalBinary(b)))
	assert.True(t, errors.IsNotValid(w2.UnmarshalBinary([]byte{1, 2})))
}

// 6 tamper, 1 quiet, 1 tamper: no anomaly.
func TestVibrationNoAnomaly(t *testing.T) {
	t.Parallel()
	rec := tele.NewRecorder()
	input := pin.NewMockInput(true, true, true, true, true, true, false, true)
	ticks := 0
	v := NewVibration(log2.NewTest(t, log2.LDebug), input, NewWindow(7), nil, rec, func(Event) { ticks++ })
	for input.Pending() > 0 {
		fired, err := v.Step(time.Now())
		require.NoError(t, err)
		assert.False(t, fired)
	}
	assert.Equal(t, 7, ticks)
	assert.NotContains(t, rec.Kinds(), tele.TamperAnomaly)
}

func TestVibrationRecordScenario(t *testing.T) {
	t.Parallel()
	rec := tele.NewRecorder()
	v := NewVibration(log2.NewTest(t, log2.LDebug), pin.NewMockInput(), NewWindow(7), nil, rec, nil)
	for i := 0; i < 6; i++ {
		assert.False(t, v.Record(true, time.Now()))
	}
	assert.False(t, v.Record(false, time.Now()))
	assert.False(t, v.Record(true, time.Now()))
	assert.Empty(t, rec.Kinds())
}

func TestVibrationAnomaly(t *testing.T) {
	t.Parallel()
	rec := tele.NewRecorder()
	input := pin.NewMockInput()
	input.Set(true)
	v := NewVibration(log2.NewTest(t, log2.LDebug), input, NewWindow(7), nil, rec, nil)
	fires := 0
	for i := 0; i < 9; i++ {
		fired, err := v.Step(time.Now())
		require.NoError(t, err)
		if fired {
			fires++
		}
	}
	assert.Equal(t, 1, fires)
	kinds := rec.Kinds()
	assert.Len(t, kinds, 10)
	assert.Equal(t, tele.TamperAnomaly, kinds[7])
}

func TestVibrationPersist(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	log := log2.NewTest(t, log2.LDebug)
	w := NewWindow(7)
	input := pin.NewMockInput()
	input.Set(true)
	v := NewVibration(log, input, w, persist.New(log, "vibration", w, root), tele.NewStub(), nil)
	for i := 0; i < 4; i++ {
		_, err := v.Step(time.Now())
		require.NoError(t, err)
	}

	w2 := NewWindow(7)
	ok, err := persist.New(log, "vibration", w2, root).Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, w2.Len())
	v2 := NewVibration(log, input, w2, nil, tele.NewStub(), nil)
	fires := 0
	for i := 0; i < 3; i++ {
		if fired, _ := v2.Step(time.Now()); fired {
			fires++
		}
	}
	assert.Equal(t, 1, fires)
}

func TestControllerHandle(t *testing.T) {
	t.Parallel()
	type Case struct {
		line    string
		kind    tele.EventKind
		locker  string
		detail  string
		wrong   int
		correct int
		calls   []string
	}
	cases := []Case{
		{"ULTRA:DETECTED", tele.LockerPackageDetected, "3", "", 0, 0, nil},
		{"IR:DETECTED", tele.LockerDoorClosed, "3", "", 1, 0, nil},
		{"RFID:ACCEPTED:04A1B2", tele.RfidAccepted, "0", "04A1B2", 0, 1, []string{"0/1s"}},
		{"RFID:DENIED:FFEE", tele.RfidDenied, "0", "FFEE", 1, 0, nil},
		{"HELLO", "", "", "", 0, 0, nil},
		{"", "", "", "", 0, 0, nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.line, func(t *testing.T) {
			t.Parallel()
			rec := tele.NewRecorder()
			lock := &fakeLock{}
			ind := &fakeInd{}
			ctl := NewController(log2.NewTest(t, log2.LDebug), nil, lock, ind, rec, nil)
			ctl.Locker = "3"
			handled := ctl.Handle(context.Background(), c.line)
			assert.Equal(t, c.kind != "", handled)
			assert.Equal(t, c.wrong, ind.wrong)
			assert.Equal(t, c.correct, ind.correct)
			assert.Equal(t, c.calls, lock.calls)
			events := rec.Events()
			if c.kind == "" {
				assert.Empty(t, events)
				return
			}
			require.Len(t, events, 1)
			assert.Equal(t, c.kind, events[0].Kind)
			assert.Equal(t, c.locker, events[0].Locker)
			assert.Equal(t, c.detail, events[0].Detail)
		})
	}
}

func TestControllerReopen(t *testing.T) {
	t.Parallel()
	ports := []*fakePort{
		{lines: []string{"IR:DETECTED"}, err: nil},
		{lines: []string{"RFID:DENIED:01"}},
	}
	opened := 0
	open := func() (serial.LineReader, error) {
		if opened >= len(ports) {
			return nil, io.ErrUnexpectedEOF
		}
		p := ports[opened]
		opened++
		return p, nil
	}
	ind := &fakeInd{}
	ctl := NewController(log2.NewTest(t, log2.LDebug), open, &fakeLock{}, ind, tele.NewStub(), nil)
	ctx := context.Background()

	ok, err := ctl.Step(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ctl.Step(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ports[0].err = io.ErrUnexpectedEOF
	_, err = ctl.Step(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, ports[0].closed)

	ok, err = ctl.Step(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, ind.wrong)

	ports[1].err = io.ErrUnexpectedEOF
	_, err = ctl.Step(ctx)
	assert.Error(t, err)
	_, err = ctl.Step(ctx)
	assert.Error(t, err)
}
