package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-servicesd/connection"
	"github.com/joeycumines/logiface"
)

// Reaper is implemented by [connection.Registry].
type Reaper interface {
	Reap() int
}

// Driver is the readiness driver, it implements [connection.Poller].
type Driver struct {
	logger      *logiface.Logger[logiface.Event]
	backend     backend
	now         func() time.Time
	conns       map[int]*connection.Connection
	timers      timerHeap
	maxTimeout  time.Duration
	wakeR       int
	wakeW       int
	wakePending atomic.Uint32
	running     bool
	closed      bool
}

var _ connection.Poller = (*Driver)(nil)

// New creates a driver, allocating the platform poller and wake-up
// descriptors. The driver must be closed, after use.
func New(opts ...Option) (*Driver, error) {
	cfg, err := resolveDriverOptions(opts)
	if err != nil {
		return nil, err
	}

	b := cfg.backend
	if b == nil {
		if b, err = newBackend(); err != nil {
			return nil, err
		}
	}

	wakeR, wakeW, err := createWakeFd()
	if err != nil {
		_ = b.close()
		return nil, err
	}

	if err := b.register(wakeR, EventRead); err != nil {
		closeWakeFd(wakeR, wakeW)
		_ = b.close()
		return nil, err
	}

	return &Driver{
		logger:     cfg.logger,
		backend:    b,
		now:        cfg.now,
		conns:      make(map[int]*connection.Connection),
		maxTimeout: cfg.maxTimeout,
		wakeR:      wakeR,
		wakeW:      wakeW,
	}, nil
}

// Watch starts monitoring a newly registered connection.
func (d *Driver) Watch(c *connection.Connection) error {
	if d.closed {
		return ErrClosed
	}
	fd := c.FD()
	if _, ok := d.conns[fd]; ok || fd == d.wakeR {
		return ErrFDAlreadyRegistered
	}
	if err := d.backend.register(fd, interestEvents(c.Interest())); err != nil {
		return err
	}
	d.conns[fd] = c
	return nil
}

// Rearm updates monitoring to match the connection's current interest.
func (d *Driver) Rearm(c *connection.Connection) error {
	if d.closed {
		return ErrClosed
	}
	if d.conns[c.FD()] != c {
		return ErrFDNotRegistered
	}
	return d.backend.modify(c.FD(), interestEvents(c.Interest()))
}

// Unwatch stops monitoring a connection, prior to it being closed.
func (d *Driver) Unwatch(c *connection.Connection) error {
	if d.conns[c.FD()] != c {
		return ErrFDNotRegistered
	}
	delete(d.conns, c.FD())
	if d.closed {
		return nil
	}
	return d.backend.unregister(c.FD())
}

// Len returns the number of watched connections.
func (d *Driver) Len() int { return len(d.conns) }

// Wake interrupts a blocked poll. It is safe to call from any goroutine,
// and is cheap if a wake-up is already pending.
func (d *Driver) Wake() error {
	if !d.wakePending.CompareAndSwap(0, 1) {
		return nil
	}
	return writeWake(d.wakeW)
}

// Run drives registered connections until ctx is canceled, returning nil in
// that case, or the poll error. Each pass waits for readiness, dispatches
// handlers, runs due timers, then reaps dead connections via reaper (which
// may be nil). Run does not close connections on exit, see
// connection.Registry.CloseAll.
func (d *Driver) Run(ctx context.Context, reaper Reaper) error {
	if d.closed {
		return ErrClosed
	}
	if d.running {
		return ErrRunning
	}
	d.running = true
	defer func() { d.running = false }()

	stop := context.AfterFunc(ctx, func() { _ = d.Wake() })
	defer stop()

	for ctx.Err() == nil {
		if err := d.Poll(d.calculateTimeout()); err != nil {
			return err
		}
		d.runTimers()
		if reaper != nil {
			reaper.Reap()
		}
	}

	return nil
}

// Poll performs a single wait, of up to timeoutMs (-1 meaning indefinitely),
// dispatching handlers for every ready connection.
func (d *Driver) Poll(timeoutMs int) error {
	if d.closed {
		return ErrClosed
	}
	_, err := d.backend.wait(timeoutMs, d.dispatch)
	return err
}

func (d *Driver) dispatch(fd int, events IOEvents) {
	if fd == d.wakeR {
		drainWake(d.wakeR)
		d.wakePending.Store(0)
		return
	}

	c := d.conns[fd]
	if c == nil || c.Closed() || c.Flags().Any(connection.FlagDead) {
		return
	}

	interest := c.Interest()

	if interest&connection.InterestRead != 0 && events&(EventRead|EventHangup|EventError) != 0 {
		d.call(c, c.Handlers().Read)
		// the read handler may have closed or replaced the connection
		if d.conns[fd] != c || c.Closed() {
			return
		}
		interest = c.Interest()
	}

	if interest&connection.InterestWrite != 0 && events&(EventWrite|EventError|EventHangup) != 0 {
		d.call(c, c.Handlers().Write)
	}
}

// call invokes a handler, recovering from panics by abandoning the
// connection via CloseSoon.
func (d *Driver) call(c *connection.Connection, h connection.Handler) {
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Err().
				Int("fd", c.FD()).
				Str("name", c.Name()).
				Any("panic", r).
				Log("poller: handler panicked")
			c.CloseSoon()
		}
	}()

	h(c)
}

// Close releases the platform poller and wake-up descriptors. Watched
// connections are not closed.
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	closeWakeFd(d.wakeR, d.wakeW)
	return d.backend.close()
}

func interestEvents(v connection.Interest) IOEvents {
	var events IOEvents
	if v&connection.InterestRead != 0 {
		events |= EventRead
	}
	if v&connection.InterestWrite != 0 {
		events |= EventWrite
	}
	return events
}
