package connection

// Pump reads once from the socket into the receive queue, then calls the
// recvq handler until it stops consuming data, or the queue is empty. It is
// the read handler of data connections.
//
// The connection is closed on end-of-stream, on a fatal read error, or if it
// was already marked dead or half-closed. A recvq handler that keeps
// changing the queue length without draining it is cut off once it has been
// called more times than there were bytes queued, and the connection marked
// dead.
func (c *Connection) Pump() {
	if c.closed {
		return
	}

	if c.flags.Any(FlagDead | FlagSendDead) {
		c.reg.Close(c)
		return
	}

	n, err := c.recvq.readFrom(func(p []byte) (int, error) { return c.reg.io.read(c.fd, p) })
	if err != nil && isTransientRead(err) {
		return
	}
	if n == 0 || err != nil {
		if err == nil {
			c.reg.logger.Debug().
				Int("fd", c.fd).
				Log("connection: peer closed the connection")
		} else {
			c.reg.logger.Debug().
				Int("fd", c.fd).
				Err(err).
				Log("connection: lost connection")
		}
		c.reg.Close(c)
		return
	}

	c.lastRecv = c.reg.now()

	if c.handlers.Recv == nil {
		return
	}

	l := c.recvq.length
	for calls := l + 1; ; calls-- {
		if calls == 0 {
			c.reg.logger.Notice().
				Int("fd", c.fd).
				Str("name", c.name).
				Log("connection: recvq handler did not settle")
			c.markDead()
			return
		}
		h := c.handlers.Recv
		if h == nil {
			return
		}
		h(c)
		if c.closed || c.flags&FlagDead != 0 {
			return
		}
		prev := l
		l = c.recvq.length
		if prev == l || l == 0 {
			return
		}
	}
}

// DrainRaw removes and returns up to max bytes from the receive queue, or
// nil if it is empty.
func (c *Connection) DrainRaw(max int) []byte {
	return c.recvq.take(max)
}

// DrainLine removes and returns the first line, including its terminating
// newline, if one is found within the first max queued bytes. Otherwise, if
// at least max bytes are queued, FlagNoNewline is set and max bytes are
// returned. Returns nil if more data is required.
func (c *Connection) DrainLine(max int) []byte {
	if max <= 0 || c.recvq.length == 0 {
		return nil
	}
	if i := c.recvq.indexByte('\n', max); i >= 0 {
		c.flags &^= FlagNoNewline
		return c.recvq.take(i + 1)
	}
	if c.recvq.length < max {
		return nil
	}
	c.flags |= FlagNoNewline
	return c.recvq.take(max)
}

// RecvQLength returns the number of queued, unconsumed inbound bytes.
func (c *Connection) RecvQLength() int { return c.recvq.length }
