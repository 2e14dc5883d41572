package adapter

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrDeleted        = errors.New("adapter deleted")
	ErrClosed         = errors.New("adapter handle closed")
	ErrInvalidName    = errors.New("invalid adapter pool or name")
	ErrNotConfigured  = errors.New("adapter not configured")
	ErrBufferTooSmall = errors.New("configuration changed size between query and fetch")
	ErrNoRouter       = errors.New("no route configurator")
)

// HandleError is a failed open, create or delete.
type HandleError struct {
	Op   string
	Pool string
	Name string
	Err  error
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("%s adapter %s/%s: %v", e.Op, e.Pool, e.Name, e.Err)
}

func (e *HandleError) Unwrap() error { return e.Err }

// ConfigError is a configuration block the driver would not take or could not
// hand back. Fetch failures are retryable from a fresh size query.
type ConfigError struct {
	Op   string
	Size int
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("%s configuration (%d bytes): %v", e.Op, e.Size, e.Err)
	}
	return fmt.Sprintf("%s configuration: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// OSError is a host networking failure. Code is the code the OS reported,
// untouched.
type OSError struct {
	Op   string
	Code syscall.Errno
}

// NewOSError extracts the OS code from err. Errors without one are returned
// unchanged.
func NewOSError(op string, err error) error {
	var code syscall.Errno
	if !errors.As(err, &code) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &OSError{Op: op, Code: code}
}

func (e *OSError) Error() string {
	return fmt.Sprintf("%s: %v (code %d)", e.Op, e.Code, uint32(e.Code))
}

func (e *OSError) Unwrap() error { return e.Code }
