package hcsr04

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
	"github.com/temoto/penlok/hardware/pin"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		setup  func(*gpio_mock.MockEvent)
		expect float64
		err    error
	}
	const t0 = uint64(1e9)
	cases := []Case{
		{"10cm", func(m *gpio_mock.MockEvent) {
			// 583us round trip = 10cm
			m.On("Wait", mock.Anything).Return(gpio.EventData{Timestamp: t0, ID: gpio.GPIOEVENT_EVENT_RISING_EDGE}, nil).Once()
			m.On("Wait", mock.Anything).Return(gpio.EventData{Timestamp: t0 + 583090, ID: gpio.GPIOEVENT_EVENT_FALLING_EDGE}, nil).Once()
		}, 10, nil},
		{"skip-stale-falling", func(m *gpio_mock.MockEvent) {
			m.On("Wait", mock.Anything).Return(gpio.EventData{Timestamp: 1, ID: gpio.GPIOEVENT_EVENT_FALLING_EDGE}, nil).Once()
			m.On("Wait", mock.Anything).Return(gpio.EventData{Timestamp: t0, ID: gpio.GPIOEVENT_EVENT_RISING_EDGE}, nil).Once()
			m.On("Wait", mock.Anything).Return(gpio.EventData{Timestamp: t0 + 291545, ID: gpio.GPIOEVENT_EVENT_FALLING_EDGE}, nil).Once()
		}, 5, nil},
		{"no-rise", func(m *gpio_mock.MockEvent) {
			m.On("Wait", mock.Anything).Return(gpio.EventData{}, gpio.ErrTimeout).Once()
		}, 0, ErrTimeout},
		{"no-fall", func(m *gpio_mock.MockEvent) {
			m.On("Wait", mock.Anything).Return(gpio.EventData{Timestamp: t0, ID: gpio.GPIOEVENT_EVENT_RISING_EDGE}, nil).Once()
			m.On("Wait", mock.Anything).Return(gpio.EventData{}, gpio.ErrTimeout).Once()
		}, 0, ErrTimeout},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			trig := &pin.MockOutput{}
			echo := &gpio_mock.MockEvent{}
			c.setup(echo)
			s := New(trig, echo, 0)
			d, err := s.DistanceCm()
			if c.err != nil {
				assert.Equal(t, c.err, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, c.expect, d, 0.01)
			changes := trig.Changes()
			require.Len(t, changes, 2)
			assert.True(t, changes[0].On)
			assert.False(t, changes[1].On)
			echo.AssertExpectations(t)
		})
	}
}

func TestDistanceEchoError(t *testing.T) {
	t.Parallel()
	echo := &gpio_mock.MockEvent{}
	echo.On("Wait", mock.Anything).Return(gpio.EventData{}, fmt.Errorf("closed"))
	s := New(&pin.MockOutput{}, echo, 0)
	_, err := s.DistanceCm()
	require.Error(t, err)
	assert.NotEqual(t, ErrTimeout, err)
}

func TestPulseToCm(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 7.5, PulseToCm(437318*time.Nanosecond), 0.01)
}
