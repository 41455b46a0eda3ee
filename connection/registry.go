package connection

import (
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Registry tracks all live connections, it is the only process-wide mutable
// structure in this package. Like every other type here, it is not safe for
// concurrent use, and is expected to be driven by a single goroutine.
type Registry struct {
	logger    *logiface.Logger[logiface.Event]
	poller    Poller
	now       func() time.Time
	resolver  *net.Resolver
	io        fdIO
	byFD      map[int]*Connection
	ids       map[uint64]*Connection
	errLimit  *catrate.Limiter
	conns     []*Connection // creation order
	nextID    uint64
	chunkSize int
	backlog   int
	highestFD int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	cfg, err := resolveRegistryOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Registry{
		logger:    cfg.logger,
		poller:    cfg.poller,
		now:       cfg.now,
		resolver:  cfg.resolver,
		io:        cfg.io,
		byFD:      make(map[int]*Connection),
		ids:       make(map[uint64]*Connection),
		errLimit:  catrate.NewLimiter(map[time.Duration]int{time.Second: 5, time.Minute: 30}),
		chunkSize: cfg.chunkSize,
		backlog:   cfg.backlog,
		highestFD: -1,
	}, nil
}

// Create registers an already open socket, setting it close-on-exec and
// non-blocking. At least one of read and write must be non-nil.
func (x *Registry) Create(name string, fd int, flags Flags, read, write Handler) (*Connection, error) {
	if fd < 0 || name == "" || (read == nil && write == nil) {
		return nil, ErrInvalidArgument
	}

	if c := x.byFD[fd]; c != nil {
		x.logger.Debug().
			Int("fd", fd).
			Str("name", c.name).
			Log("connection: descriptor is already registered")
		return nil, ErrAlreadyRegistered
	}

	x.logger.Debug().
		Int("fd", fd).
		Str("name", name).
		Log("connection: adding connection")

	if err := x.io.prepare(fd); err != nil {
		return nil, err
	}

	now := x.now()
	x.nextID++
	c := &Connection{
		reg:       x,
		id:        x.nextID,
		fd:        fd,
		name:      name,
		hostname:  x.io.peerName(fd),
		flags:     flags,
		firstRecv: now,
		lastRecv:  now,
		handlers:  Handlers{Read: read, Write: write},
		sendq:     bufferQueue{size: x.chunkSize},
		recvq:     bufferQueue{size: x.chunkSize},
	}

	if x.poller != nil {
		if err := x.poller.Watch(c); err != nil {
			return nil, err
		}
		c.watched = true
	}

	x.byFD[fd] = c
	x.ids[c.id] = c
	x.conns = append(x.conns, c)
	x.noteFD(fd)

	return c, nil
}

// Find returns the live connection for fd, or nil.
func (x *Registry) Find(fd int) *Connection { return x.byFD[fd] }

func (x *Registry) byID(id uint64) *Connection { return x.ids[id] }

// Count returns the number of live connections.
func (x *Registry) Count() int { return len(x.conns) }

// HighestFD returns the highest descriptor seen since the registry was
// created, or -1. It never decreases.
func (x *Registry) HighestFD() int { return x.highestFD }

// noteFD updates the highest descriptor watermark, it is called for every
// socket created.
func (x *Registry) noteFD(fd int) {
	if fd > x.highestFD {
		x.highestFD = fd
	}
}

// Each calls fn for every live connection, in creation order. Connections
// created by fn are not visited, and those closed by fn are skipped.
func (x *Registry) Each(fn func(c *Connection)) {
	for _, c := range x.snapshot() {
		if !c.closed {
			fn(c)
		}
	}
}

func (x *Registry) snapshot() []*Connection {
	return slices.Clone(x.conns)
}

// Close tears the connection down immediately, regardless of queued data.
// The close handler is invoked at most once, then the descriptor is closed,
// and the connection removed from the registry. It is safe to call from any
// handler of c, and the connection must not be used afterward.
func (x *Registry) Close(c *Connection) {
	if c == nil {
		x.logger.Debug().Log("connection: no connection to close")
		return
	}
	if c.closed {
		return
	}
	if c.reg != x || x.byFD[c.fd] != c {
		x.logger.Err().
			Int("fd", c.fd).
			Log("connection: close: descriptor is not registered")
		return
	}

	if err := x.io.sockError(c.fd); err != nil {
		b := x.logger.Debug()
		if c.flags&FlagUplink != 0 {
			b = x.logger.Err()
		}
		b.Int("fd", c.fd).
			Str("name", c.name).
			Err(err).
			Log("connection: closed due to error")
	}

	c.closed = true

	if h := c.handlers.Close; h != nil {
		c.handlers.Close = nil
		h(c)
	}

	if c.watched {
		c.watched = false
		if err := x.poller.Unwatch(c); err != nil {
			x.logger.Debug().
				Int("fd", c.fd).
				Err(err).
				Log("connection: failed to unwatch descriptor")
		}
	}

	delete(x.byFD, c.fd)
	delete(x.ids, c.id)
	if i := slices.Index(x.conns, c); i >= 0 {
		x.conns = slices.Delete(x.conns, i, i+1)
	}

	c.sendq.release()
	c.recvq.release()
	c.handlers = Handlers{}
	c.listener = 0

	_ = x.io.close(c.fd)

	x.logger.Debug().
		Int("fd", c.fd).
		Str("name", c.name).
		Log("connection: closed")
}

// CloseSoon stops driving the connection without freeing it: it invokes and
// clears the close handler, stubs the read and write handlers, clears the
// recvq handler and listener association, then marks it FlagDead. The
// descriptor is released by the next Close, see also Reap. Repeated calls
// have no further side effects.
func (x *Registry) CloseSoon(c *Connection) {
	if c == nil || c.closed {
		return
	}

	if h := c.handlers.Close; h != nil {
		c.handlers.Close = nil
		h(c)
		if c.closed {
			return
		}
	}

	c.handlers = Handlers{
		Read:  emptyHandler,
		Write: emptyHandler,
	}
	c.listener = 0
	c.markDead()
}

// CloseSoonChildren calls CloseSoon for every connection accepted by the
// listener, then for the listener itself.
func (x *Registry) CloseSoonChildren(listener *Connection) {
	x.closeChildren(listener, x.CloseSoon)
}

// CloseChildren is the immediate variant of CloseSoonChildren.
func (x *Registry) CloseChildren(listener *Connection) {
	x.closeChildren(listener, x.Close)
}

func (x *Registry) closeChildren(listener *Connection, fn func(c *Connection)) {
	if listener == nil || listener.closed {
		return
	}
	if listener.flags&FlagListening != 0 {
		for _, c := range x.snapshot() {
			if !c.closed && c.listener == listener.id {
				fn(c)
			}
		}
	}
	fn(listener)
}

// CloseAll closes every registered connection.
func (x *Registry) CloseAll() {
	for _, c := range x.snapshot() {
		x.Close(c)
	}
}

// Reap closes every connection marked FlagDead, returning the number closed.
// Readiness drivers call it after each dispatch pass.
func (x *Registry) Reap() (n int) {
	for _, c := range x.snapshot() {
		if !c.closed && c.flags&FlagDead != 0 {
			x.Close(c)
			n++
		}
	}
	return
}

// SweepIdle closes the children of listener whose last activity is older
// than timeout. Children that still have output pending are given more time
// instead, by refreshing their activity time. A nil listener sweeps every
// connection that is not a listener or the uplink. Returns the number of
// connections closed.
func (x *Registry) SweepIdle(listener *Connection, timeout time.Duration) (n int) {
	if timeout <= 0 {
		return
	}
	deadline := x.now().Add(-timeout)
	for _, c := range x.snapshot() {
		if c.closed {
			continue
		}
		if listener != nil {
			if c.listener != listener.id {
				continue
			}
		} else if c.flags.Any(FlagListening | FlagUplink) {
			continue
		}
		if !c.lastRecv.Before(deadline) {
			continue
		}
		if c.IsPending() {
			c.Touch()
			continue
		}
		x.logger.Debug().
			Int("fd", c.fd).
			Str("name", c.name).
			Log("connection: closing idle connection")
		x.Close(c)
		n++
	}
	return
}

// Stats calls fn with a one line summary of each connection, e.g.
// "fd 7 desc '[::1]:6667 <- [::1]:41234' listener 5 status dead send_eof".
func (x *Registry) Stats(fn func(line string)) {
	for _, c := range x.snapshot() {
		fn(c.statsLine())
	}
}

func (c *Connection) statsLine() string {
	var b strings.Builder
	b.WriteString("fd ")
	b.WriteString(strconv.Itoa(c.fd))
	b.WriteString(" desc '")
	b.WriteString(c.name)
	b.WriteByte('\'')
	if c.flags&FlagUplink != 0 {
		b.WriteString(" (uplink)")
	}
	if l := c.Listener(); l != nil {
		b.WriteString(" listener ")
		b.WriteString(strconv.Itoa(l.fd))
	}
	if s := c.flags.String(); s != "" {
		b.WriteString(" status ")
		b.WriteString(s)
	}
	return b.String()
}
