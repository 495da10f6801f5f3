package consul

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFormat is matched by *FormatError.
	ErrFormat = errors.New("format error")

	// ErrBadStatus is matched by every *BadStatusError.
	ErrBadStatus = errors.New("bad status")

	// ErrNotFound is matched by a *BadStatusError carrying status 404.
	ErrNotFound = errors.New("not found")

	// ErrRequestTimedOut is returned when a connect or request timeout
	// elapses before the agent answers.
	ErrRequestTimedOut = errors.New("request timed out")

	// ErrOperationAborted is returned by every request that is in flight
	// when Client.Stop is called, and by every request issued afterwards.
	ErrOperationAborted = errors.New("operation aborted")

	// ErrUpdate is matched by *UpdateError.
	ErrUpdate = errors.New("update failed")
)

// FormatError reports a body that could not be decoded, or a value that
// could not be encoded.
type FormatError struct {
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrFormat, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", ErrFormat, e.Msg, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// BadStatusError is a non-2xx answer from the agent.
type BadStatusError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("consul returned HTTP %d: %s", e.Status, e.Message)
}

// Is matches ErrBadStatus, and ErrNotFound for status 404.
func (e *BadStatusError) Is(target error) bool {
	switch target {
	case ErrBadStatus:
		return true
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UpdateError reports a conditional write the agent refused.
type UpdateError struct {
	Key string
	Op  string
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrUpdate, e.Op, e.Key)
}

// Is reports whether target is ErrUpdate.
func (e *UpdateError) Is(target error) bool { return target == ErrUpdate }
