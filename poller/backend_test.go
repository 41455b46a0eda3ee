//go:build linux || darwin

package poller

import (
	"context"
	"errors"
	"testing"

	"github.com/joeycumines/go-servicesd/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readyEvent struct {
	fd     int
	events IOEvents
}

type fakeBackend struct {
	registered  map[int]IOEvents
	ready       []readyEvent
	registerErr error
	waitErr     error
	closed      bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{registered: make(map[int]IOEvents)}
}

func (x *fakeBackend) register(fd int, events IOEvents) error {
	if x.registerErr != nil {
		return x.registerErr
	}
	x.registered[fd] = events
	return nil
}

func (x *fakeBackend) modify(fd int, events IOEvents) error {
	if _, ok := x.registered[fd]; !ok {
		return ErrFDNotRegistered
	}
	x.registered[fd] = events
	return nil
}

func (x *fakeBackend) unregister(fd int) error {
	delete(x.registered, fd)
	return nil
}

func (x *fakeBackend) wait(_ int, fn func(fd int, events IOEvents)) (int, error) {
	if x.waitErr != nil {
		return 0, x.waitErr
	}
	ready := x.ready
	x.ready = nil
	for _, ev := range ready {
		fn(ev.fd, ev.events)
	}
	return len(ready), nil
}

func (x *fakeBackend) close() error {
	x.closed = true
	return nil
}

func TestNew_registerError(t *testing.T) {
	b := newFakeBackend()
	b.registerErr = errors.New("some error")
	d, err := New(withBackend(b))
	assert.Nil(t, d)
	assert.Equal(t, b.registerErr, err)
	assert.True(t, b.closed)
}

func TestDriver_Run_waitError(t *testing.T) {
	b := newFakeBackend()
	x := newFixture(t, withBackend(b))
	b.waitErr = errors.New("some error")
	assert.Equal(t, b.waitErr, x.driver.Run(context.Background(), x.reg))
	// not left running
	assert.Equal(t, b.waitErr, x.driver.Run(context.Background(), nil))
}

func TestDriver_dispatch_events(t *testing.T) {
	b := newFakeBackend()
	x := newFixture(t, withBackend(b))

	var calls []string
	c, _ := x.socketpair(t,
		func(*connection.Connection) { calls = append(calls, "read") },
		nil,
	)
	assert.Equal(t, EventRead, b.registered[c.FD()])

	b.ready = []readyEvent{{c.FD(), EventHangup}}
	require.NoError(t, x.driver.Poll(0))
	assert.Equal(t, []string{"read"}, calls)

	// write readiness without write interest is ignored
	b.ready = []readyEvent{{c.FD(), EventWrite}}
	require.NoError(t, x.driver.Poll(0))
	assert.Equal(t, []string{"read"}, calls)

	c.SetWriteHandler(func(*connection.Connection) { calls = append(calls, "write") })
	assert.Equal(t, EventRead|EventWrite, b.registered[c.FD()])

	b.ready = []readyEvent{{c.FD(), EventError}}
	require.NoError(t, x.driver.Poll(0))
	assert.Equal(t, []string{"read", "read", "write"}, calls)

	// dead connections are not dispatched, and want nothing
	c.CloseSoon()
	assert.Equal(t, IOEvents(0), b.registered[c.FD()])
	b.ready = []readyEvent{{c.FD(), EventRead | EventWrite}}
	require.NoError(t, x.driver.Poll(0))
	assert.Len(t, calls, 3)

	// unknown descriptors are ignored
	b.ready = []readyEvent{{c.FD() + 1000, EventRead}}
	require.NoError(t, x.driver.Poll(0))

	fd := c.FD()
	assert.Equal(t, 1, x.reg.Reap())
	_, ok := b.registered[fd]
	assert.False(t, ok)
	assert.Equal(t, 0, x.driver.Len())
}
