// Package testutil holds request builders and a recorded-response type for
// handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Response is what a handler wrote for one request.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
}

// Serve runs req through h and captures the response.
func Serve(h http.Handler, req *http.Request) *Response {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return &Response{Code: rr.Code, Header: rr.Header(), Body: rr.Body.Bytes()}
}

// Decode unmarshals the body into v and fails the test otherwise.
func (r *Response) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), "body: %s", r.Body)
}

// ErrorCode returns the "error" field of a JSON error body, or "".
func (r *Response) ErrorCode() string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return ""
	}
	return body.Error
}

func (r *Response) String() string { return string(r.Body) }

func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// NewJSONRequest marshals body as the request payload.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewRawRequest sends body verbatim, for malformed payloads.
func NewRawRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
