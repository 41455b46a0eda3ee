package connection

import (
	"strings"
)

// Flags models the lifecycle and role bits of a Connection.
type Flags uint32

const (
	// FlagUplink marks the connection to the IRC network.
	FlagUplink Flags = 1 << iota
	// FlagConnecting is set on outbound connections until the connect completes.
	FlagConnecting
	// FlagListening is set on listener connections.
	FlagListening
	// FlagConnected is set on connections created by Registry.AcceptTCP.
	FlagConnected
	// FlagDead indicates a fatal error, the connection is awaiting teardown.
	FlagDead
	// FlagNoNewline is set if the last line read exceeded the caller's
	// limit without finding a terminator.
	FlagNoNewline
	// FlagSendEOF indicates a graceful half-close has been requested.
	FlagSendEOF
	// FlagSendDead indicates the write half of the socket has been shut down.
	FlagSendDead
)

const statusFlags = FlagConnecting | FlagListening | FlagDead | FlagNoNewline | FlagSendEOF | FlagSendDead

// Any returns true if any of the bits in v are set.
func (x Flags) Any(v Flags) bool { return x&v != 0 }

// String returns the space separated status words, e.g. "listening dead".
// Role-only flags (uplink, connected) are not included.
func (x Flags) String() string {
	if x&statusFlags == 0 {
		return ""
	}
	var b strings.Builder
	word := func(s string) {
		if b.Len() != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	if x&FlagConnecting != 0 {
		word("connecting")
	}
	if x&FlagListening != 0 {
		word("listening")
	}
	if x&FlagDead != 0 {
		word("dead")
	}
	if x&FlagNoNewline != 0 {
		word("nonewline")
	}
	if x&FlagSendDead != 0 {
		word("send_dead")
	} else if x&FlagSendEOF != 0 {
		word("send_eof")
	}
	return b.String()
}
