//go:build linux || darwin

package poller

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/joeycumines/go-servicesd/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fixture struct {
	driver *Driver
	reg    *connection.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	d, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	reg, err := connection.NewRegistry(connection.WithPoller(d))
	require.NoError(t, err)
	t.Cleanup(reg.CloseAll)
	return &fixture{driver: d, reg: reg}
}

// socketpair returns a registered connection, and the peer descriptor.
func (x *fixture) socketpair(t *testing.T, read, write connection.Handler) (*connection.Connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	require.NoError(t, unix.SetNonblock(fds[1], true))
	c, err := x.reg.Create("pair", fds[0], 0, read, write)
	require.NoError(t, err)
	return c, fds[1]
}

// pollUntil polls until cond returns true, failing the test on timeout.
func (x *fixture) pollUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "timed out")
		require.NoError(t, x.driver.Poll(50))
		x.reg.Reap()
	}
}

func TestDriver_echo(t *testing.T) {
	x := newFixture(t)
	c, peer := x.socketpair(t, (*connection.Connection).Pump, nil)
	assert.Equal(t, 1, x.driver.Len())

	c.SetRecvQHandler(func(c *connection.Connection) {
		if line := c.DrainLine(512); line != nil {
			c.Enqueue(line)
		}
	})

	_, err := unix.Write(peer, []byte("PING :1\r\nPING :2\r\n"))
	require.NoError(t, err)

	var got []byte
	x.pollUntil(t, func() bool {
		buf := make([]byte, 64)
		n, _ := unix.Read(peer, buf)
		if n > 0 {
			got = append(got, buf[:n]...)
		}
		return len(got) == 18
	})
	assert.Equal(t, "PING :1\r\nPING :2\r\n", string(got))
	assert.False(t, c.IsPending())
	assert.Nil(t, c.Handlers().Write)
}

func TestDriver_peerCloseReaps(t *testing.T) {
	x := newFixture(t)
	var closed bool
	c, peer := x.socketpair(t, (*connection.Connection).Pump, nil)
	c.SetCloseHandler(func(*connection.Connection) { closed = true })

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	x.pollUntil(t, func() bool { return closed })
	assert.True(t, c.Closed())
	assert.Equal(t, 0, x.driver.Len())
	assert.Equal(t, 0, x.reg.Count())
}

func TestDriver_panicClosesSoon(t *testing.T) {
	x := newFixture(t)
	c, peer := x.socketpair(t, func(*connection.Connection) { panic("boom") }, nil)
	var closes int
	c.SetCloseHandler(func(*connection.Connection) { closes++ })

	_, err := unix.Write(peer, []byte("x"))
	require.NoError(t, err)

	x.pollUntil(t, func() bool { return c.Closed() })
	assert.Equal(t, 1, closes)
}

func TestDriver_readBeforeWrite(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("kqueue reports read and write readiness as separate events")
	}
	x := newFixture(t)
	var order []string
	c, peer := x.socketpair(t,
		func(c *connection.Connection) {
			order = append(order, "read")
			c.Close()
		},
		func(*connection.Connection) { order = append(order, "write") },
	)
	_ = c

	_, err := unix.Write(peer, []byte("x"))
	require.NoError(t, err)
	x.pollUntil(t, func() bool { return len(order) != 0 })
	assert.Equal(t, []string{"read"}, order)
}

func TestDriver_interest(t *testing.T) {
	x := newFixture(t)
	var writes int
	c, _ := x.socketpair(t, (*connection.Connection).Pump, nil)

	// not writable-armed, so polling does nothing
	require.NoError(t, x.driver.Poll(0))

	c.SetWriteHandler(func(c *connection.Connection) {
		writes++
		c.SetWriteHandler(nil)
	})
	x.pollUntil(t, func() bool { return writes != 0 })
	require.NoError(t, x.driver.Poll(0))
	assert.Equal(t, 1, writes)
}

func TestDriver_Watch_errors(t *testing.T) {
	x := newFixture(t)
	c, _ := x.socketpair(t, (*connection.Connection).Pump, nil)
	assert.ErrorIs(t, x.driver.Watch(c), ErrFDAlreadyRegistered)

	other := newFixture(t)
	assert.ErrorIs(t, other.driver.Rearm(c), ErrFDNotRegistered)
	assert.ErrorIs(t, other.driver.Unwatch(c), ErrFDNotRegistered)

	require.NoError(t, other.driver.Close())
	assert.ErrorIs(t, other.driver.Watch(c), ErrClosed)
	assert.ErrorIs(t, other.driver.Poll(0), ErrClosed)
	assert.ErrorIs(t, other.driver.Run(context.Background(), nil), ErrClosed)
	assert.NoError(t, other.driver.Close())
}

func TestDriver_Run_cancel(t *testing.T) {
	x := newFixture(t, WithMaxPollTimeout(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	var ticks int
	x.driver.Every(time.Millisecond, func() {
		ticks++
		if ticks == 3 {
			// canceled from another goroutine, to exercise the wake-up
			go cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- x.driver.Run(ctx, x.reg) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.GreaterOrEqual(t, ticks, 3)
}

func TestDriver_Run_reaps(t *testing.T) {
	x := newFixture(t)
	c, _ := x.socketpair(t, (*connection.Connection).Pump, nil)
	c.CloseSoon()

	ctx, cancel := context.WithCancel(context.Background())
	x.driver.After(0, cancel)
	require.NoError(t, x.driver.Run(ctx, x.reg))
	assert.True(t, c.Closed())
	assert.Equal(t, 0, x.reg.Count())
}

func TestNew_invalidOptions(t *testing.T) {
	_, err := New(WithClock(nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(WithMaxPollTimeout(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
