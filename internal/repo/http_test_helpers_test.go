package repo

import (
	"bytes"
	"io"
	"net/http"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// newTestClient mirrors the production client's shape with the transport swapped out.
func newTestClient(rt http.RoundTripper) *http.Client {
	return &http.Client{Transport: rt, Timeout: DefaultTimeout}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// respondWith answers every request with the same status and JSON body.
func respondWith(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return jsonResponse(status, body), nil
	}
}
