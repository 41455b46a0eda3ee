//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// kqueueBackend manages I/O event registration using kqueue (Darwin).
type kqueueBackend struct {
	eventBuf [256]unix.Kevent_t
	events   map[int]IOEvents
	kq       int
}

func newBackend() (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueBackend{kq: kq, events: make(map[int]IOEvents)}, nil
}

func (p *kqueueBackend) register(fd int, events IOEvents) error {
	if kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			return err
		}
	}
	p.events[fd] = events
	return nil
}

func (p *kqueueBackend) modify(fd int, events IOEvents) error {
	oldEvents := p.events[fd]
	p.events[fd] = events

	if oldEvents&^events != 0 {
		delKevents := eventsToKevents(fd, oldEvents&^events, unix.EV_DELETE)
		if len(delKevents) > 0 {
			_, _ = unix.Kevent(p.kq, delKevents, nil, nil) // Ignore errors
		}
	}

	if events&^oldEvents != 0 {
		addKevents := eventsToKevents(fd, events&^oldEvents, unix.EV_ADD|unix.EV_ENABLE)
		if len(addKevents) > 0 {
			if _, err := unix.Kevent(p.kq, addKevents, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueueBackend) unregister(fd int) error {
	events := p.events[fd]
	delete(p.events, fd)
	if kevents := eventsToKevents(fd, events, unix.EV_DELETE); len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil) // Ignore errors on delete
	}
	return nil
}

func (p *kqueueBackend) wait(timeoutMs int, fn func(fd int, events IOEvents)) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		fn(int(p.eventBuf[i].Ident), keventToEvents(&p.eventBuf[i]))
	}
	return n, nil
}

func (p *kqueueBackend) close() error {
	return unix.Close(p.kq)
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	return events
}

// createWakeFd creates a self-pipe for wake-up notifications (Darwin).
// Returns the read end and the write end of the pipe.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return 0, 0, err
		}
	}
	return fds[0], fds[1], nil
}

func closeWakeFd(r, w int) {
	_ = unix.Close(r)
	_ = unix.Close(w)
}
