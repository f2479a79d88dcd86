package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/log2"
)

func newTestActuator(t testing.TB, ids ...string) (*Actuator, map[string]*pin.MockOutput) {
	a := NewActuator(log2.NewTest(t, log2.LDebug))
	relays := make(map[string]*pin.MockOutput, len(ids))
	for _, id := range ids {
		r := &pin.MockOutput{}
		relays[id] = r
		require.NoError(t, a.Add(id, r, 0))
	}
	return a, relays
}

func onPeriods(t testing.TB, cs []pin.MockChange) [][2]time.Time {
	t.Helper()
	ps := [][2]time.Time{}
	// first change is Add() switching off
	require.False(t, cs[0].On)
	for i := 1; i+1 < len(cs); i += 2 {
		require.True(t, cs[i].On, "change %d", i)
		require.False(t, cs[i+1].On, "change %d", i+1)
		ps = append(ps, [2]time.Time{cs[i].Time, cs[i+1].Time})
	}
	require.Equal(t, 1, len(cs)%2, "relay must end off")
	return ps
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	a, relays := newTestActuator(t, "1")
	const d = 30 * time.Millisecond
	require.NoError(t, a.Trigger(context.Background(), "1", d))

	ps := onPeriods(t, relays["1"].Changes())
	require.Len(t, ps, 1)
	assert.GreaterOrEqual(t, int64(ps[0][1].Sub(ps[0][0])), int64(d))
	assert.False(t, relays["1"].IsOn())
	assert.Equal(t, []SlotStatus{{ID: "1", State: StateIdle, Pulses: 1}}, a.Status())
}

func TestTriggerUnknown(t *testing.T) {
	t.Parallel()
	a, _ := newTestActuator(t, "1")
	err := a.Trigger(context.Background(), "9", time.Millisecond)
	assert.True(t, errors.IsNotFound(err), "err=%v", err)
}

func TestAddDuplicate(t *testing.T) {
	t.Parallel()
	a, _ := newTestActuator(t, "1")
	err := a.Add("1", &pin.MockOutput{}, 0)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestTriggerSameSlotSerial(t *testing.T) {
	t.Parallel()
	a, relays := newTestActuator(t, "2")
	const d = 20 * time.Millisecond
	const n = 4
	wg := sync.WaitGroup{}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Trigger(context.Background(), "2", d))
		}()
	}
	wg.Wait()

	ps := onPeriods(t, relays["2"].Changes())
	require.Len(t, ps, n)
	for i := 1; i < len(ps); i++ {
		assert.False(t, ps[i][0].Before(ps[i-1][1]), "overlapping pulses %d", i)
	}
	assert.Equal(t, uint64(n), a.Status()[0].Pulses)
}

func TestTriggerSlotsIndependent(t *testing.T) {
	t.Parallel()
	a, relays := newTestActuator(t, "0", "1")
	const d = 100 * time.Millisecond
	wg := sync.WaitGroup{}
	wg.Add(2)
	for _, id := range []string{"0", "1"} {
		id := id
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Trigger(context.Background(), id, d))
		}()
	}
	wg.Wait()
	p0 := onPeriods(t, relays["0"].Changes())[0]
	p1 := onPeriods(t, relays["1"].Changes())[0]
	// both relays were on at the same moment
	assert.True(t, p0[0].Before(p1[1]) && p1[0].Before(p0[1]))
}

func TestTriggerCancelled(t *testing.T) {
	t.Parallel()
	a, relays := newTestActuator(t, "3")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Trigger(ctx, "3", time.Millisecond)
	assert.True(t, errors.Cause(err) == context.Canceled, "err=%v", err)
	assert.Len(t, relays["3"].Changes(), 1)
}

func TestTriggerCancelWhileBusy(t *testing.T) {
	t.Parallel()
	a, relays := newTestActuator(t, "3")
	started := make(chan struct{})
	go func() {
		close(started)
		assert.NoError(t, a.Trigger(context.Background(), "3", 200*time.Millisecond))
	}()
	<-started
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Trigger(ctx, "3", time.Millisecond)
	assert.True(t, errors.Cause(err) == context.DeadlineExceeded, "err=%v", err)
	// first pulse still completes
	time.Sleep(250 * time.Millisecond)
	assert.False(t, relays["3"].IsOn())
	assert.Len(t, onPeriods(t, relays["3"].Changes()), 1)
}

func TestRelayError(t *testing.T) {
	t.Parallel()
	a, relays := newTestActuator(t, "1")
	relays["1"].Err = errors.New("gpio")
	err := a.Trigger(context.Background(), "1", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay on")
	assert.Equal(t, StateIdle, a.Status()[0].State)
}
