// Package poller implements a single goroutine readiness driver, for
// connections managed by a [connection.Registry].
//
// A [Driver] monitors each registered descriptor for the readiness implied
// by its handlers (see [connection.Connection.Interest]), invoking the read
// handler when the descriptor is readable, or has hung up, and the write
// handler when it is writable, or has a pending error. After each pass, dead
// connections are reaped. Periodic work, such as idle sweeps, may be
// scheduled via [Driver.Every].
//
// # Platform Support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll, with an eventfd for wake-ups
//   - macOS: kqueue, with a self-pipe for wake-ups
//
// Other platforms return [ErrUnsupported] from [New].
//
// # Thread Safety
//
// Like the connection package, a Driver is not safe for concurrent use,
// with the exception of [Driver.Wake]. All handlers and timers are run on
// the goroutine that called [Driver.Run].
package poller

import (
	"errors"
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Standard errors.
var (
	ErrFDAlreadyRegistered = errors.New("poller: fd already registered")
	ErrFDNotRegistered     = errors.New("poller: fd not registered")
	ErrClosed              = errors.New("poller: driver closed")
	ErrRunning             = errors.New("poller: driver is already running")
	ErrUnsupported         = errors.New("poller: unsupported platform")
	ErrInvalidArgument     = errors.New("poller: invalid argument")
)

// backend is the platform-specific readiness mechanism.
type backend interface {
	register(fd int, events IOEvents) error
	modify(fd int, events IOEvents) error
	unregister(fd int) error
	// wait blocks for up to timeoutMs (-1 meaning indefinitely), calling fn
	// for each ready descriptor. Interrupted waits return 0, nil.
	wait(timeoutMs int, fn func(fd int, events IOEvents)) (int, error)
	close() error
}
