package connection

import (
	"net/netip"
	"strconv"
)

// fdIO is the descriptor I/O used by a Registry, see defaultFDIO in the
// platform-specific files.
type fdIO interface {
	// prepare sets close-on-exec and non-blocking mode.
	prepare(fd int) error
	read(fd int, p []byte) (int, error)
	write(fd int, p []byte) (int, error)
	shutdownWrite(fd int) error
	// close shuts down both directions then closes fd.
	close(fd int) error
	// sockError returns the pending socket error (SO_ERROR), if any.
	sockError(fd int) error
	// peerName returns the formatted peer address, or "" if unavailable.
	peerName(fd int) string
}

// formatAddr formats an address as "[addr]:port".
func formatAddr(ap netip.AddrPort) string {
	return "[" + ap.Addr().Unmap().String() + "]:" + strconv.Itoa(int(ap.Port()))
}
