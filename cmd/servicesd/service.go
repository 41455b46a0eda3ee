package main

import (
	"strings"

	"github.com/joeycumines/go-servicesd/connection"
	"github.com/joeycumines/logiface"
)

// lineService is a minimal line protocol, used as the recvq handler.
type lineService struct {
	logger  *logiface.Logger[logiface.Event]
	maxLine int
	// strict enables replies to unknown commands (disabled for the uplink)
	strict bool
}

// handle consumes at most one line per call, and relies on Pump calling it
// again for as long as it makes progress.
func (x *lineService) handle(c *connection.Connection) {
	if c.Flags().Any(connection.FlagSendEOF | connection.FlagSendDead) {
		// closing, anything else the peer sends is discarded
		c.DrainRaw(c.RecvQLength())
		return
	}

	line := c.DrainLine(x.maxLine)
	if line == nil {
		return
	}

	if c.Flags().Any(connection.FlagNoNewline) {
		x.logger.Notice().
			Int("fd", c.FD()).
			Str("name", c.Name()).
			Int("max", x.maxLine).
			Log("servicesd: line too long")
		c.EnqueueString("ERROR :Line too long\r\n")
		c.RequestEOF()
		return
	}

	command, params := parseLine(line)
	switch command {
	case "":
	case "PING":
		if params == "" {
			c.EnqueueString("PONG\r\n")
		} else {
			c.EnqueueString("PONG " + params + "\r\n")
		}
	case "QUIT":
		c.EnqueueString("ERROR :Closing link\r\n")
		c.RequestEOF()
	default:
		if x.strict {
			c.EnqueueString("ERROR :Unknown command " + command + "\r\n")
		}
	}
}

// parseLine splits an IRC style line into its upper-cased command and
// parameters, discarding the terminator and any source prefix.
func parseLine(b []byte) (command, params string) {
	s := strings.TrimRight(string(b), "\r\n")
	if strings.HasPrefix(s, ":") {
		_, s, _ = strings.Cut(s, " ")
	}
	command, params, _ = strings.Cut(strings.TrimLeft(s, " "), " ")
	return strings.ToUpper(command), strings.TrimLeft(params, " ")
}
