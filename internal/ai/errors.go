package ai

import (
	"errors"
	"fmt"
)

// TransientError is a provider failure worth retrying: rate limiting,
// connection problems and provider-side errors.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a provider failure that will not go away on retry, such
// as a malformed request or an authentication failure.
type PermanentError struct {
	Provider string
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent provider error: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ParseError means the provider answered but not in the expected shape.
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "unexpected provider response"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a TransientError.
func IsRetryable(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
