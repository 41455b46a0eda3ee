package connection

// Enqueue appends p to the send queue, arming write readiness if the queue
// was empty. It is a no-op if the connection is dead, or has requested EOF.
// If a send queue limit is configured, and the queue cannot keep up, the
// connection is marked FlagDead instead.
func (c *Connection) Enqueue(p []byte) {
	if c.closed || c.flags.Any(FlagDead|FlagSendEOF|FlagSendDead) {
		c.reg.logger.Debug().
			Int("fd", c.fd).
			Log("connection: attempted to send to a dead connection")
		return
	}

	if len(p) == 0 {
		return
	}

	if c.sendqLimit != 0 && c.sendq.chunkCount()*c.sendq.size+len(p) > c.sendqLimit {
		c.reg.logger.Info().
			Int("fd", c.fd).
			Str("name", c.name).
			Int("limit", c.sendqLimit).
			Log("connection: sendq limit exceeded")
		c.markDead()
		return
	}

	if !c.IsPending() {
		c.SetWriteHandler((*Connection).Flush)
	}

	c.sendq.write(p)
}

// EnqueueString is a convenience wrapper around Enqueue.
func (c *Connection) EnqueueString(s string) { c.Enqueue([]byte(s)) }

// Write implements io.Writer, via Enqueue. It returns ErrClosed if the
// connection cannot accept output, including when p caused it to exceed
// the send queue limit.
func (c *Connection) Write(p []byte) (int, error) {
	if c.closed || c.flags.Any(FlagDead|FlagSendEOF|FlagSendDead) {
		return 0, ErrClosed
	}
	c.Enqueue(p)
	if c.flags&FlagDead != 0 {
		return 0, ErrClosed
	}
	return len(p), nil
}

// Flush writes as much of the send queue as the socket will accept. It is
// the write handler while output is pending. A fatal write error marks the
// connection FlagDead. Once drained, the write half is shut down if EOF was
// requested, and write readiness is disarmed.
func (c *Connection) Flush() {
	if c.closed || c.flags&FlagDead != 0 {
		return
	}

	for {
		b := c.sendq.peek()
		if b == nil {
			break
		}
		n, err := c.reg.io.write(c.fd, b)
		if err != nil {
			if !isTransient(err) {
				c.reg.logger.Debug().
					Int("fd", c.fd).
					Str("name", c.name).
					Err(err).
					Log("connection: write error")
				c.markDead()
			}
			return
		}
		if n < 0 {
			n = 0
		}
		c.sendq.consume(n)
		if n < len(b) {
			return
		}
	}

	if c.flags&(FlagSendEOF|FlagSendDead) == FlagSendEOF {
		// the read side stays open, teardown happens once the peer closes
		_ = c.reg.io.shutdownWrite(c.fd)
		c.flags |= FlagSendDead
	}

	c.SetWriteHandler(nil)
}

// RequestEOF requests a graceful half-close, performed by Flush once
// everything queued before the call has been written.
func (c *Connection) RequestEOF() {
	if c.closed || c.flags.Any(FlagDead|FlagSendEOF|FlagSendDead) {
		c.reg.logger.Debug().
			Int("fd", c.fd).
			Log("connection: attempted to send to a dead connection")
		return
	}
	if !c.IsPending() {
		c.SetWriteHandler((*Connection).Flush)
	}
	c.flags |= FlagSendEOF
}

// IsPending returns true if output is queued, or an EOF has been requested
// but not yet performed.
func (c *Connection) IsPending() bool {
	switch {
	case c.flags&FlagSendDead != 0:
		return false
	case c.flags&FlagSendEOF != 0:
		return true
	default:
		return c.sendq.length != 0
	}
}

// SendQLength returns the number of queued outbound bytes.
func (c *Connection) SendQLength() int { return c.sendq.length }

// SendQLimit returns the send queue limit, 0 meaning unlimited.
func (c *Connection) SendQLimit() int { return c.sendqLimit }

// SetSendQLimit configures the send queue limit, in bytes. The limit is
// compared against the allocated chunk capacity plus the length of each
// Enqueue, 0 (the default) disables it.
func (c *Connection) SetSendQLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	c.sendqLimit = limit
}
