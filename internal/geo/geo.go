// Package geo is the boundary to whatever can tell us where the user is.
package geo

import (
	"context"
	"errors"
	"fmt"

	"vibe-planner/internal/hangout"
)

// Code classifies a failed location request.
type Code int

const (
	Unknown Code = iota
	PermissionDenied
	PositionUnavailable
	Timeout
	Unsupported
)

func (c Code) String() string {
	switch c {
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case PositionUnavailable:
		return "POSITION_UNAVAILABLE"
	case Timeout:
		return "TIMEOUT"
	case Unsupported:
		return "UNSUPPORTED"
	}
	return "UNKNOWN"
}

// Error is a failed location request.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Code, e.Err)
	}
	return "geolocation " + e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text shown for the failure.
func (e *Error) UserMessage() string {
	switch e.Code {
	case Unsupported:
		return "Location sharing is not supported on this device."
	case PermissionDenied:
		return "Please share your location to find closer vibes."
	}
	return "Couldn't get your location."
}

// Locator resolves the user's current position.
type Locator interface {
	Locate(ctx context.Context) (hangout.Location, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (hangout.Location, error)

func (f LocatorFunc) Locate(ctx context.Context) (hangout.Location, error) {
	return f(ctx)
}

// Fixed always returns loc.
func Fixed(loc hangout.Location) Locator {
	return LocatorFunc(func(context.Context) (hangout.Location, error) { return loc, nil })
}

// Failing always fails with code.
func Failing(code Code) Locator {
	return LocatorFunc(func(context.Context) (hangout.Location, error) { return hangout.Location{}, &Error{Code: code} })
}

// AsError normalises any locator failure to *Error. Context expiry maps to
// Timeout; anything unclassified is Unknown.
func AsError(err error) *Error {
	var geoErr *Error
	if errors.As(err, &geoErr) {
		return geoErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: Timeout, Err: err}
	}
	return &Error{Code: Unknown, Err: err}
}
