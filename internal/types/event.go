package types

import "fmt"

type InputKey uint16

// Keypad keys are ASCII: '0'-'9', '*', '#'.
const (
	KeyStar InputKey = '*'
	KeyHash InputKey = '#'
)

type InputEvent struct {
	Source string
	Key    InputKey
	Up     bool
}

func (e *InputEvent) IsZero() bool  { return e.Key == 0 }
func (e *InputEvent) IsDigit() bool { return e.Key >= '0' && e.Key <= '9' }

// IsKeypad reports keys present on 4x3 kiosk keypad.
func (e *InputEvent) IsKeypad() bool { return e.IsDigit() || e.Key == KeyStar || e.Key == KeyHash }

func (e InputEvent) String() string {
	dir := "down"
	if e.Up {
		dir = "up"
	}
	return fmt.Sprintf("InputEvent(source=%s key=%q %s)", e.Source, rune(e.Key), dir)
}
