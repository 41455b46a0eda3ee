package connection

import (
	"errors"
)

// Standard errors.
var (
	// ErrAlreadyRegistered is returned when a descriptor is registered twice,
	// which indicates a caller bug.
	ErrAlreadyRegistered = errors.New("connection: descriptor already registered")

	// ErrClosed is returned when writing to a connection that cannot accept
	// further output.
	ErrClosed = errors.New("connection: closed")

	// ErrInvalidArgument is returned for invalid parameters, e.g. ports.
	ErrInvalidArgument = errors.New("connection: invalid argument")

	// ErrAcceptThrottled is wrapped by the error returned from
	// Registry.AcceptTCP, when a peer exceeds the listener's accept rate.
	ErrAcceptThrottled = errors.New("connection: accept throttled")

	// ErrUnsupported is returned by descriptor operations on platforms
	// without an implementation.
	ErrUnsupported = errors.New("connection: unsupported platform")
)

// Op identifies the setup step that failed, see OpError.
type Op string

const (
	OpResolve Op = "resolve"
	OpSocket  Op = "socket"
	OpBind    Op = "bind"
	OpConnect Op = "connect"
	OpListen  Op = "listen"
	OpAccept  Op = "accept"
)

// OpError is returned by the connection establishment methods, and wraps the
// underlying cause.
type OpError struct {
	Err  error
	Op   Op
	Host string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	s := "connection: " + string(e.Op)
	if e.Host != "" {
		s += " " + e.Host
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *OpError) Unwrap() error {
	return e.Err
}
