//go:build linux || darwin

package connection

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeSocket is the scripted state of one descriptor.
type fakeSocket struct {
	written    bytes.Buffer
	reads      [][]byte // each entry is returned by one read, nil means EOF
	readErr    error    // returned once reads is exhausted, defaults to EAGAIN
	writeErr   error    // returned by every write, if set
	writeLimit int      // max bytes per write, 0 means unlimited
	capacity   int      // remaining bytes before EAGAIN, -1 means unlimited
	sockErr    error
	peer       string
	writeCalls int
	shutWR     bool
	closed     bool
}

type fakeIO struct {
	sockets    map[int]*fakeSocket
	prepareErr error
}

func newFakeIO() *fakeIO {
	return &fakeIO{sockets: make(map[int]*fakeSocket)}
}

func (x *fakeIO) socket(fd int) *fakeSocket {
	s := x.sockets[fd]
	if s == nil {
		s = &fakeSocket{capacity: -1}
		x.sockets[fd] = s
	}
	return s
}

func (x *fakeIO) prepare(fd int) error {
	if x.prepareErr != nil {
		return x.prepareErr
	}
	x.socket(fd)
	return nil
}

func (x *fakeIO) read(fd int, p []byte) (int, error) {
	s := x.socket(fd)
	if len(s.reads) == 0 {
		if s.readErr != nil {
			return -1, s.readErr
		}
		return -1, unix.EAGAIN
	}
	b := s.reads[0]
	if b == nil {
		s.reads = s.reads[1:]
		return 0, nil
	}
	n := copy(p, b)
	if n == len(b) {
		s.reads = s.reads[1:]
	} else {
		s.reads[0] = b[n:]
	}
	return n, nil
}

func (x *fakeIO) write(fd int, p []byte) (int, error) {
	s := x.socket(fd)
	s.writeCalls++
	if s.writeErr != nil {
		return -1, s.writeErr
	}
	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	if s.capacity >= 0 {
		if s.capacity == 0 {
			return -1, unix.EAGAIN
		}
		if n > s.capacity {
			n = s.capacity
		}
		s.capacity -= n
	}
	s.written.Write(p[:n])
	return n, nil
}

func (x *fakeIO) shutdownWrite(fd int) error {
	x.socket(fd).shutWR = true
	return nil
}

func (x *fakeIO) close(fd int) error {
	x.socket(fd).closed = true
	return nil
}

func (x *fakeIO) sockError(fd int) error { return x.socket(fd).sockErr }

func (x *fakeIO) peerName(fd int) string { return x.socket(fd).peer }

// fakePoller records the interest of each watched connection.
type fakePoller struct {
	interest map[int]Interest
	watched  map[int]bool
	rearms   int
}

func newFakePoller() *fakePoller {
	return &fakePoller{interest: make(map[int]Interest), watched: make(map[int]bool)}
}

func (x *fakePoller) Watch(c *Connection) error {
	x.watched[c.FD()] = true
	x.interest[c.FD()] = c.Interest()
	return nil
}

func (x *fakePoller) Rearm(c *Connection) error {
	x.rearms++
	x.interest[c.FD()] = c.Interest()
	return nil
}

func (x *fakePoller) Unwatch(c *Connection) error {
	delete(x.watched, c.FD())
	delete(x.interest, c.FD())
	return nil
}

type fakeClock struct{ now time.Time }

func (x *fakeClock) Now() time.Time { return x.now }

func (x *fakeClock) Add(d time.Duration) { x.now = x.now.Add(d) }

type fakeEnv struct {
	reg    *Registry
	io     *fakeIO
	poller *fakePoller
	clock  *fakeClock
}

func newFakeEnv(t *testing.T, opts ...Option) *fakeEnv {
	t.Helper()
	env := &fakeEnv{
		io:     newFakeIO(),
		poller: newFakePoller(),
		clock:  &fakeClock{now: time.Unix(1700000000, 0)},
	}
	reg, err := NewRegistry(append([]Option{
		withFDIO(env.io),
		WithPoller(env.poller),
		WithClock(env.clock.Now),
	}, opts...)...)
	require.NoError(t, err)
	env.reg = reg
	return env
}

// data registers a data connection using the generic queue handlers.
func (x *fakeEnv) data(t *testing.T, fd int) *Connection {
	t.Helper()
	c, err := x.reg.Create("test", fd, 0, (*Connection).Pump, nil)
	require.NoError(t, err)
	return c
}
