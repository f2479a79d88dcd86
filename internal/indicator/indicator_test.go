package indicator

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/penlok/hardware/pin"
	"github.com/temoto/penlok/log2"
)

type tenv struct {
	ind                    *Indicator
	buzzer, r1, r2, g1, g2 *pin.MockOutput
}

func newEnv(t testing.TB) *tenv {
	env := &tenv{
		buzzer: &pin.MockOutput{},
		r1:     &pin.MockOutput{}, r2: &pin.MockOutput{},
		g1: &pin.MockOutput{}, g2: &pin.MockOutput{},
	}
	env.ind = New(log2.NewTest(t, log2.LDebug), Pins{
		Buzzer: env.buzzer,
		Red:    []pin.Setter{env.r1, env.r2},
		Green:  []pin.Setter{env.g1, env.g2, nil},
	})
	return env
}

func states(cs []pin.MockChange) []bool {
	bs := make([]bool, len(cs))
	for i, c := range cs {
		bs[i] = c.On
	}
	return bs
}

func TestWrong(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	begin := time.Now()
	require.NoError(t, env.ind.Wrong())
	assert.GreaterOrEqual(t, int64(time.Since(begin)), int64(6*WrongBlink))

	// init off, then 3x on/off
	expect := []bool{false, true, false, true, false, true, false}
	assert.Equal(t, expect, states(env.r1.Changes()))
	assert.Equal(t, expect, states(env.r2.Changes()))
	assert.Equal(t, expect, states(env.buzzer.Changes()))
	assert.Equal(t, []bool{false}, states(env.g1.Changes()))
}

func TestCorrect(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		kind   Kind
		expect time.Duration
	}{
		{"long", KindCorrect, CorrectLong},
		{"short", KindCorrectShort, CorrectShort},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := newEnv(t)
			require.NoError(t, env.ind.Set(c.kind))
			cs := env.g2.Changes()
			require.Equal(t, []bool{false, true, false}, states(cs))
			on := cs[2].Time.Sub(cs[1].Time)
			assert.GreaterOrEqual(t, int64(on), int64(c.expect))
			assert.Less(t, int64(on), int64(c.expect+500*time.Millisecond))
			assert.Equal(t, []bool{false}, states(env.r1.Changes()))
		})
	}
}

func TestSerialized(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, env.ind.Wrong()) }()
	go func() { defer wg.Done(); assert.NoError(t, env.ind.Set(KindCorrectShort)) }()
	wg.Wait()
	// buzzer toggles strictly on/off, never two ons in a row
	bs := states(env.buzzer.Changes())
	require.Len(t, bs, 1+2*(WrongRepeat+1))
	for i := 1; i < len(bs); i++ {
		assert.NotEqual(t, bs[i-1], bs[i], "change %d", i)
	}
}

func TestPinError(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.r2.Err = errors.New("gpio")
	err := env.ind.Wrong()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indicator wrong")
	assert.False(t, env.r1.IsOn())
}

func TestInvalidKind(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	assert.True(t, errors.IsNotValid(errors.Cause(env.ind.Set(Kind(9)))))
}
