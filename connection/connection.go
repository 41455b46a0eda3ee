package connection

import (
	"net/netip"
	"time"

	"github.com/joeycumines/go-catrate"
)

type (
	// Handler is the callback type for all connection events.
	Handler func(c *Connection)

	// Handlers groups the callbacks of a Connection, see Connection.Handlers.
	Handlers struct {
		// Read is called when the descriptor is readable. For listeners it is
		// the accept routine, for data connections it is usually
		// Connection.Pump.
		Read Handler
		// Write is called when the descriptor is writable. It is armed
		// automatically as Connection.Flush, while output is queued.
		Write Handler
		// Close is called at most once, as the connection is torn down.
		Close Handler
		// Recv is called by Connection.Pump, until it stops consuming data.
		Recv Handler
	}

	// Interest is the readiness a Connection currently wants to be driven by.
	Interest uint8

	// Poller is implemented by the readiness driver.
	Poller interface {
		// Watch starts monitoring a newly registered connection.
		Watch(c *Connection) error
		// Rearm updates monitoring to match Connection.Interest.
		Rearm(c *Connection) error
		// Unwatch stops monitoring, it is called before the descriptor is
		// closed.
		Unwatch(c *Connection) error
	}

	// Connection is a non-blocking socket endpoint, with its queues, flags
	// and callbacks. Instances are created via a Registry, and must not be
	// used after Registry.Close returns.
	Connection struct {
		// Userdata is reserved for the protocol layer, e.g. per-connection
		// parser state, to be released by the close handler.
		Userdata any

		firstRecv     time.Time
		lastRecv      time.Time
		reg           *Registry
		acceptLimiter *catrate.Limiter
		handlers      Handlers
		name          string
		hostname      string
		sendq         bufferQueue
		recvq         bufferQueue
		id            uint64
		listener      uint64 // id of the accepting listener, or 0
		fd            int
		sendqLimit    int
		flags         Flags
		watched       bool
		closed        bool
	}
)

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// emptyHandler replaces read/write handlers in Registry.CloseSoon.
func emptyHandler(*Connection) {}

// ID returns a value unique among all connections created by the registry.
func (c *Connection) ID() uint64 { return c.id }

// FD returns the socket descriptor.
func (c *Connection) FD() int { return c.fd }

// Name returns the display name, e.g. "[127.0.0.1]:6667 <- [10.0.0.1]:51234".
func (c *Connection) Name() string { return c.name }

// Hostname returns the peer address, or "" if it could not be determined.
func (c *Connection) Hostname() string { return c.hostname }

// Flags returns the current flags.
func (c *Connection) Flags() Flags { return c.flags }

// SetUplink sets or clears FlagUplink, which affects logging only.
func (c *Connection) SetUplink(uplink bool) {
	if uplink {
		c.flags |= FlagUplink
	} else {
		c.flags &^= FlagUplink
	}
}

// Registry returns the owning registry.
func (c *Connection) Registry() *Registry { return c.reg }

// Closed returns true once Registry.Close has torn the connection down.
func (c *Connection) Closed() bool { return c.closed }

// FirstRecv returns the time the connection was registered.
func (c *Connection) FirstRecv() time.Time { return c.firstRecv }

// LastRecv returns the time of the last successful read, or registration.
func (c *Connection) LastRecv() time.Time { return c.lastRecv }

// Touch sets the last activity time to now.
func (c *Connection) Touch() { c.lastRecv = c.reg.now() }

// Listener returns the listener that accepted this connection, if it is
// still registered and the association has not been cleared.
func (c *Connection) Listener() *Connection {
	if c.listener == 0 {
		return nil
	}
	return c.reg.byID(c.listener)
}

// LocalAddr returns the local address of the socket.
func (c *Connection) LocalAddr() (netip.AddrPort, error) {
	if c.closed {
		return netip.AddrPort{}, ErrClosed
	}
	return sysSockName(c.fd)
}

// SetAcceptLimiter configures per-peer-address throttling of connections
// accepted via this listener. A nil limiter disables throttling.
func (c *Connection) SetAcceptLimiter(limiter *catrate.Limiter) { c.acceptLimiter = limiter }

// Handlers returns a copy of the current callbacks.
func (c *Connection) Handlers() Handlers { return c.handlers }

// SetHandlers replaces all callbacks as a unit, updating readiness interest.
func (c *Connection) SetHandlers(h Handlers) {
	c.handlers = h
	c.rearm()
}

// SetReadHandler replaces the read handler, arming or disarming read
// readiness.
func (c *Connection) SetReadHandler(h Handler) {
	c.handlers.Read = h
	c.rearm()
}

// SetWriteHandler replaces the write handler, arming or disarming write
// readiness.
func (c *Connection) SetWriteHandler(h Handler) {
	c.handlers.Write = h
	c.rearm()
}

// SetCloseHandler replaces the close handler.
func (c *Connection) SetCloseHandler(h Handler) { c.handlers.Close = h }

// SetRecvQHandler replaces the handler called by Pump.
func (c *Connection) SetRecvQHandler(h Handler) { c.handlers.Recv = h }

// Interest returns the readiness the driver should monitor for. Dead or
// closed connections want nothing.
func (c *Connection) Interest() Interest {
	if c.closed || c.flags&FlagDead != 0 {
		return 0
	}
	var v Interest
	if c.handlers.Read != nil {
		v |= InterestRead
	}
	if c.handlers.Write != nil {
		v |= InterestWrite
	}
	return v
}

// Close is an alias for Registry.Close.
func (c *Connection) Close() { c.reg.Close(c) }

// CloseSoon is an alias for Registry.CloseSoon.
func (c *Connection) CloseSoon() { c.reg.CloseSoon(c) }

// FinishConnect completes an outbound connection, on its first write
// readiness. It returns the pending socket error, marking the connection
// dead, or clears FlagConnecting.
func (c *Connection) FinishConnect() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.reg.io.sockError(c.fd); err != nil {
		c.markDead()
		return &OpError{Op: OpConnect, Host: c.name, Err: err}
	}
	c.flags &^= FlagConnecting
	return nil
}

func (c *Connection) markDead() {
	if c.flags&FlagDead != 0 {
		return
	}
	c.flags |= FlagDead
	c.rearm()
}

func (c *Connection) rearm() {
	if c.closed || !c.watched || c.reg.poller == nil {
		return
	}
	if err := c.reg.poller.Rearm(c); err != nil {
		c.reg.logger.Err().
			Err(err).
			Int("fd", c.fd).
			Str("name", c.name).
			Log("connection: failed to update readiness interest")
	}
}
