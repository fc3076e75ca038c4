package repo

import "fmt"

// ErrorKind classifies a failed cloud call.
type ErrorKind string

const (
	KindInvalidAPIKey ErrorKind = "invalid_api_key"
	KindNetwork       ErrorKind = "network_error"
	KindServer        ErrorKind = "server_error"
	KindRateLimited   ErrorKind = "rate_limit_exceeded"
	KindTimeout       ErrorKind = "timeout"
	KindDecoding      ErrorKind = "decoding_error"
)

// APIError is the closed set of failures returned by CloudClient.
type APIError struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

// Sentinels for errors.Is; they match any APIError of the same kind.
var (
	ErrInvalidAPIKey = &APIError{Kind: KindInvalidAPIKey}
	ErrNetwork       = &APIError{Kind: KindNetwork}
	ErrServer        = &APIError{Kind: KindServer}
	ErrRateLimited   = &APIError{Kind: KindRateLimited}
	ErrTimeout       = &APIError{Kind: KindTimeout}
	ErrDecoding      = &APIError{Kind: KindDecoding}
)

func (e *APIError) Error() string {
	switch {
	case e.Kind == KindServer:
		return fmt.Sprintf("cloud %s: status %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("cloud %s: %v", e.Kind, e.Err)
	default:
		return "cloud " + string(e.Kind)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Kind == e.Kind
}
