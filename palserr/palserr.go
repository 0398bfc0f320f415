// Package palserr defines the error taxonomy shared by the REST and gateway
// layers. Errors are matched with errors.As against the typed structs, or with
// errors.Is against the sentinel values.
package palserr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common conditions.
var (
	ErrNoCredentials    = errors.New("no credentials available")
	ErrNotConnected     = errors.New("gateway not connected")
	ErrAlreadyConnected = errors.New("gateway already connected")
	ErrNotFound         = errors.New("not found")
)

// AuthenticationError indicates missing or rejected credentials, either at
// gateway connect time or as a 401 from the REST API.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectionError indicates a transport that is not open, a failed write, or
// a failed reconnect attempt.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection error during %s", e.Op)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError indicates an elapsed connect timeout or heartbeat ack timeout.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// RateLimitError is a REST 429 carrying the server's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// APIError is any other non-2xx REST response.
type APIError struct {
	Status int
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d on %s: %s", e.Status, e.Path, e.Body)
}

// ValidationError indicates malformed input to a public method.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae) || errors.Is(err, ErrNoCredentials)
}

// IsTimeout reports whether err is a connect or heartbeat timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsRateLimit reports whether err is a REST rate limit, returning the
// retry-after hint when it is.
func IsRateLimit(err error) (time.Duration, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
