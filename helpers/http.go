package helpers

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTP is RoundTripper standing in for face and event backends in tests.
// Fun answers when set, otherwise every request gets Err or Status with Body.
// Request bodies are kept, see Calls.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Status int
	Body   string
	Err    error

	mu    sync.Mutex
	calls []MockCall
}

type MockCall struct {
	Method string
	Path   string
	Body   []byte
}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	call := MockCall{Method: req.Method, Path: req.URL.Path}
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		call.Body = b
		req.Body = io.NopCloser(bytes.NewReader(b))
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	status := m.Status
	if status == 0 {
		status = http.StatusOK
	}
	return JSONResponse(req, status, m.Body), nil
}

func (m *MockHTTP) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// JSONResponse builds backend reply for RoundTripper fakes.
func JSONResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"application/json"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
