package lanlink

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start on a server that left the Idle state.
	ErrAlreadyStarted = errors.New("lanlink: already started")

	// ErrClosed is returned when operating on a shut down server or client.
	ErrClosed = errors.New("lanlink: closed")

	// ErrNoAddress is returned by Dial for a ServerInfo without an address.
	ErrNoAddress = errors.New("lanlink: server does not advertise an address")

	// ErrMalformedMessage wraps every decode failure.
	ErrMalformedMessage = errors.New("lanlink: malformed message")

	// ErrUnsupportedVersion is returned for envelopes newer than this package.
	ErrUnsupportedVersion = errors.New("lanlink: unsupported protocol version")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("lanlink: invalid config")
)

// OpError names the setup step that failed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("lanlink: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	return &OpError{Op: op, Err: err}
}
