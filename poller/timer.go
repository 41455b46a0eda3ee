package poller

import (
	"container/heap"
	"time"
)

// timer represents a scheduled task
type timer struct {
	when     time.Time
	fn       func()
	interval time.Duration // periodic if > 0
	index    int
	stopped  bool
}

// timerHeap is a min-heap of timers
type timerHeap []*timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*h = old[:n-1]
	return x
}

// After schedules fn to be called once, after delay. The returned function
// cancels the timer, if it has not yet fired.
func (d *Driver) After(delay time.Duration, fn func()) (stop func()) {
	return d.schedule(delay, 0, fn)
}

// Every schedules fn to be called repeatedly, at the given interval, which
// must be positive. The returned function cancels the timer.
func (d *Driver) Every(interval time.Duration, fn func()) (stop func()) {
	if interval <= 0 {
		panic(ErrInvalidArgument)
	}
	return d.schedule(interval, interval, fn)
}

func (d *Driver) schedule(delay, interval time.Duration, fn func()) func() {
	if delay < 0 {
		delay = 0
	}
	t := &timer{
		when:     d.now().Add(delay),
		fn:       fn,
		interval: interval,
	}
	heap.Push(&d.timers, t)
	return func() {
		if t.stopped {
			return
		}
		t.stopped = true
		if t.index >= 0 {
			heap.Remove(&d.timers, t.index)
		}
	}
}

// calculateTimeout returns the poll timeout in milliseconds.
func (d *Driver) calculateTimeout() int {
	maxDelay := d.maxTimeout

	// Cap by next timer
	if len(d.timers) > 0 {
		delay := d.timers[0].when.Sub(d.now())
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	// Ceiling rounding: if 0 < delta < 1ms, round up to 1ms
	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}

	return int(maxDelay.Milliseconds())
}

// runTimers executes all expired timers, rescheduling periodic ones.
func (d *Driver) runTimers() {
	now := d.now()
	for len(d.timers) > 0 {
		if d.timers[0].when.After(now) {
			break
		}
		t := heap.Pop(&d.timers).(*timer)
		if t.interval > 0 {
			t.when = t.when.Add(t.interval)
			if !t.when.After(now) {
				t.when = now.Add(t.interval)
			}
			heap.Push(&d.timers, t)
		} else {
			t.stopped = true
		}
		d.safeExecute(t.fn)
	}
}

// safeExecute executes a function with panic recovery.
func (d *Driver) safeExecute(fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Err().
				Any("panic", r).
				Log("poller: timer panicked")
		}
	}()

	fn()
}
