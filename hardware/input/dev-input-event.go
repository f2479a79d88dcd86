package input

import (
	"io"
	"os"

	"github.com/temoto/inputevent-go"
	"github.com/temoto/penlok/internal/types"
)

const DevInputEventTag = "dev-input-event"

// linux/input-event-codes.h
const (
	evKey         = 0x01
	keyKP7        = 71
	keyKP8        = 72
	keyKP9        = 73
	keyKPMinus    = 74
	keyKP4        = 75
	keyKP5        = 76
	keyKP6        = 77
	keyKPPlus     = 78
	keyKP1        = 79
	keyKP2        = 80
	keyKP3        = 81
	keyKP0        = 82
	keyKPEnter    = 96
	keyKPAsterisk = 55
	keyBackspace  = 14
	keyEnter      = 28
)

// USB numeric keypad mapped to 4x3 matrix keys.
var numpadMap = map[uint16]types.InputKey{
	keyKP0: '0', keyKP1: '1', keyKP2: '2', keyKP3: '3', keyKP4: '4',
	keyKP5: '5', keyKP6: '6', keyKP7: '7', keyKP8: '8', keyKP9: '9',
	keyKPAsterisk: types.KeyStar,
	keyKPMinus:    types.KeyStar,
	keyBackspace:  types.KeyStar,
	keyKPEnter:    types.KeyHash,
	keyKPPlus:     types.KeyHash,
	keyEnter:      types.KeyHash,
}

type DevInputEventSource struct {
	f io.ReadCloser
}

// compile-time interface compliance test
var _ Source = new(DevInputEventSource)

func (self *DevInputEventSource) String() string { return DevInputEventTag }

func NewDevInputEventSource(device string) (*DevInputEventSource, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, err
	}
	return &DevInputEventSource{f: f}, nil
}

func NewDevInputEventReader(r io.ReadCloser) *DevInputEventSource {
	return &DevInputEventSource{f: r}
}

// Read skips autorepeat and keys outside numpad map.
func (self *DevInputEventSource) Read() (types.InputEvent, error) {
	for {
		ie, err := inputevent.ReadOne(self.f)
		if err != nil {
			return types.InputEvent{}, err
		}
		if ie.Type != evKey || ie.Value == int32(inputevent.KeyStateHold) {
			continue
		}
		key, ok := numpadMap[ie.Code]
		if !ok {
			continue
		}
		ev := types.InputEvent{
			Source: DevInputEventTag,
			Key:    key,
			Up:     ie.Value == int32(inputevent.KeyStateUp),
		}
		return ev, nil
	}
}

func (self *DevInputEventSource) Close() error { return self.f.Close() }
