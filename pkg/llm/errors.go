package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedResponse is returned when a backend answers 2xx without generated text.
var ErrMalformedResponse = errors.New("malformed generation response")

// HTTPError is a non-2xx response from a generation backend.
type HTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server supplied delay, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("generation backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("generation backend returned status %d: %s", e.StatusCode, e.Body)
}

// AuthenticationError means the backend rejected the credential. It is never retried.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("generation backend rejected credentials: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// GenerationError is a failed generation after Attempts tries.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
