package wizard

import (
	"errors"
	"fmt"

	"vibe-planner/internal/geo"
)

var (
	// ErrInvalidTransition is returned for an operation the current state
	// does not allow. The session is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBusy is returned while an external call of the session is pending.
	ErrBusy = errors.New("session is busy")
	// ErrInvalidAnswer is returned for an answer the current question does
	// not accept.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrPaymentsDisabled is returned when no payment provider is wired.
	ErrPaymentsDisabled = errors.New("payments are not enabled")
)

const (
	unexpectedMessage      = "An unexpected error occurred."
	PaymentClosedMessage   = "Payment was not completed."
	configurationMessage   = "This application is not configured correctly. An API key is required."
	missingDestinationText = "Could not find a destination in the selected plan."
	verificationMessage    = "Payment verification failed. Please contact support."
)

// GenerationError is a failed plan or travel generator call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "generation failed: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// UserMessage passes through the generator's own message when it has one.
func (e *GenerationError) UserMessage() string {
	var um interface{ UserMessage() string }
	if errors.As(e.Err, &um) {
		return um.UserMessage()
	}
	return unexpectedMessage
}

// GeolocationError is a failed "find closer" location request.
type GeolocationError struct {
	Err *geo.Error
}

func (e *GeolocationError) Error() string       { return e.Err.Error() }
func (e *GeolocationError) Unwrap() error       { return e.Err }
func (e *GeolocationError) UserMessage() string { return e.Err.UserMessage() }

// MissingDestinationError means the chosen plan has no usable Location line.
type MissingDestinationError struct{}

func (e *MissingDestinationError) Error() string       { return "selected plan has no destination" }
func (e *MissingDestinationError) UserMessage() string { return missingDestinationText }

// PaymentVerificationError is a payment the provider would not confirm.
type PaymentVerificationError struct {
	Reference string
	Err       error
}

func (e *PaymentVerificationError) Error() string {
	return fmt.Sprintf("payment %s not verified: %v", e.Reference, e.Err)
}
func (e *PaymentVerificationError) Unwrap() error       { return e.Err }
func (e *PaymentVerificationError) UserMessage() string { return verificationMessage }

// ConfigurationError is missing service credentials. A session created with
// one never leaves ERROR.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error"
	}
	return "configuration error: " + e.Err.Error()
}
func (e *ConfigurationError) Unwrap() error       { return e.Err }
func (e *ConfigurationError) UserMessage() string { return configurationMessage }

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return unexpectedMessage
}
