package pin

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

func TestOutputActiveLow(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		activeLow bool
		expect    []byte // init(off), on, off
	}
	cases := []Case{
		{"active-low", true, []byte{1, 0, 1}},
		{"active-high", false, []byte{0, 1, 0}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			levels := []byte{}
			lines := &gpio_mock.MockLines{}
			lines.On("SetFunc", uint32(19)).Return(gpio.LineSetFunc(func(v byte) { levels = append(levels, v) }))
			lines.On("Flush").Return(nil)
			chip := &gpio_mock.MockChip{}
			chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, "relay", uint32(19)).Return(lines, nil)

			out, err := OpenOutput(chip, 19, c.activeLow, "relay")
			require.NoError(t, err)
			assert.False(t, out.IsOn())
			require.NoError(t, out.Set(true))
			assert.True(t, out.IsOn())
			require.NoError(t, out.Set(false))
			assert.Equal(t, c.expect, levels)
			chip.AssertExpectations(t)
		})
	}
}

func TestOutputOpenError(t *testing.T) {
	t.Parallel()
	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", mock.Anything, mock.Anything, mock.Anything).Return((*gpio_mock.MockLines)(nil), fmt.Errorf("busy"))
	_, err := OpenOutput(chip, 5, true, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line=5")
	assert.Contains(t, err.Error(), "busy")
}

func TestInput(t *testing.T) {
	t.Parallel()

	type Case struct {
		raw       byte
		activeLow bool
		expect    bool
	}
	cases := []Case{
		{0, false, false},
		{1, false, true},
		{0, true, true},
		{1, true, false},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("raw=%d/activeLow=%t", c.raw, c.activeLow), func(t *testing.T) {
			t.Parallel()
			lines := &gpio_mock.MockLines{}
			data := gpio.HandleData{}
			data.Values[0] = c.raw
			lines.On("Read").Return(data, nil)
			chip := &gpio_mock.MockChip{}
			chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_INPUT, "btn", uint32(16)).Return(lines, nil)

			in, err := OpenInput(chip, 16, c.activeLow, "btn")
			require.NoError(t, err)
			v, err := in.Get()
			require.NoError(t, err)
			assert.Equal(t, c.expect, v)
		})
	}
}
