//go:build linux || darwin

package poller

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// writeWake signals the wake-up descriptor. An eventfd requires an 8 byte
// counter increment, which is also valid for a pipe.
func writeWake(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(fd, buf[:]); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// drainWake consumes all pending wake-ups.
func drainWake(fd int) {
	var buf [64]byte
	for {
		if n, err := unix.Read(fd, buf[:]); n <= 0 || err != nil {
			return
		}
	}
}
