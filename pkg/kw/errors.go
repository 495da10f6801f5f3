package kw

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingParameter is matched by errors returned when a required
	// keyword is absent from a call.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrUnsupportedParameter is matched by errors returned when a call
	// receives a keyword outside of its allowed group.
	ErrUnsupportedParameter = errors.New("unsupported parameter")
)

// MissingParameterError names the required keyword that was not supplied.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingParameter, e.Name)
}

// Is reports whether target is ErrMissingParameter.
func (e *MissingParameterError) Is(target error) bool {
	return target == ErrMissingParameter
}

// UnsupportedParameterError names every keyword rejected by a group, sorted.
type UnsupportedParameterError struct {
	Names []string
}

func (e *UnsupportedParameterError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedParameter, strings.Join(e.Names, ", "))
}

// Is reports whether target is ErrUnsupportedParameter.
func (e *UnsupportedParameterError) Is(target error) bool {
	return target == ErrUnsupportedParameter
}
