package helpers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockHTTP(t *testing.T) {
	t.Parallel()

	m := &MockHTTP{Status: http.StatusCreated, Body: `{"ok":true}`}
	c := &http.Client{Transport: m}
	resp, err := c.Post("http://backend/iot/events/", "application/json", strings.NewReader(`{"event":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(b))

	resp, err = c.Get("http://backend/face/getuserimageexists/?username=sari")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, MockCall{Method: http.MethodPost, Path: "/iot/events/", Body: []byte(`{"event":"x"}`)}, calls[0])
	assert.Equal(t, http.MethodGet, calls[1].Method)
	assert.Equal(t, "/face/getuserimageexists/", calls[1].Path)
	assert.Empty(t, calls[1].Body)
}

func TestMockHTTPFunSeesBody(t *testing.T) {
	t.Parallel()

	m := &MockHTTP{Fun: func(req *http.Request) (*http.Response, error) {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		return JSONResponse(req, http.StatusForbidden, string(b)), nil
	}}
	c := &http.Client{Transport: m}
	resp, err := c.Post("http://face/x", "text/plain", strings.NewReader("echo"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "echo", string(b))
}

func TestMockHTTPErr(t *testing.T) {
	t.Parallel()

	m := &MockHTTP{Err: fmt.Errorf("connection refused")}
	_, err := (&http.Client{Transport: m}).Get("http://face/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, m.Calls(), 1)
}
