package helpers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexString(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input  string
		expect string
		err    bool
	}{
		{`"2"`, "2", false},
		{`2`, "2", false},
		{`0.9312`, "0.9312", false},
		{`null`, "", false},
		{`true`, "", true},
		{`{}`, "", true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			var v struct {
				X FlexString `json:"x"`
			}
			err := json.Unmarshal([]byte(`{"x":`+c.input+`}`), &v)
			if c.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, c.expect, v.X.String())
		})
	}
}
