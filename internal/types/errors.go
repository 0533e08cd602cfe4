package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when a backend cannot be reached at init.
	ErrConnection = errors.New("connection error")

	// ErrProtocol is returned when a handshake or version check fails.
	ErrProtocol = errors.New("protocol error")

	// ErrTransport is returned for mid-session I/O failures on capture or input.
	ErrTransport = errors.New("transport error")

	// ErrConfiguration is returned for unknown backends and invalid parameters.
	ErrConfiguration = errors.New("configuration error")

	// ErrClosed is returned when a component is used after Exit.
	ErrClosed = errors.New("closed")
)

// Error carries one of the kinds above, the failing operation and the cause.
// errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	var te *Error
	if errors.As(err, &te) && te.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func ConnectionError(op string, err error) error    { return newError(ErrConnection, op, err) }
func ProtocolError(op string, err error) error      { return newError(ErrProtocol, op, err) }
func TransportError(op string, err error) error     { return newError(ErrTransport, op, err) }
func ConfigurationError(op string, err error) error { return newError(ErrConfiguration, op, err) }

// Configurationf builds a configuration error from a message.
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}
