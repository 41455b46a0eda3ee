package connection

import (
	"github.com/eapache/queue"
)

// bufferQueue is an ordered sequence of chunks, used for both the sendq and
// the recvq. Once anything has been written, it retains at least one
// (possibly empty) chunk, until it is released.
type bufferQueue struct {
	chunks *queue.Queue // of *chunk
	size   int          // chunk capacity
	length int          // total queued bytes
}

func (x *bufferQueue) chunkCount() int {
	if x.chunks == nil {
		return 0
	}
	return x.chunks.Length()
}

func (x *bufferQueue) head() *chunk { return x.chunks.Peek().(*chunk) }

func (x *bufferQueue) tail() *chunk { return x.chunks.Get(-1).(*chunk) }

// tailWithSpace returns the tail chunk if it has room, otherwise a newly
// allocated (and linked) chunk.
func (x *bufferQueue) tailWithSpace() *chunk {
	if x.chunks == nil {
		x.chunks = queue.New()
	}
	if x.chunks.Length() != 0 {
		if c := x.tail(); len(c.space()) != 0 {
			return c
		}
	}
	c := newChunk(x.size)
	x.chunks.Add(c)
	return c
}

// write appends all of p, spilling into new chunks as needed.
func (x *bufferQueue) write(p []byte) {
	for len(p) != 0 {
		c := x.tailWithSpace()
		n := copy(c.space(), p)
		c.end += n
		x.length += n
		p = p[n:]
	}
}

// readFrom performs a single read into the free space of the tail chunk,
// allocating one only if the tail is full.
func (x *bufferQueue) readFrom(read func(p []byte) (int, error)) (int, error) {
	c := x.tailWithSpace()
	n, err := read(c.space())
	if n > 0 {
		c.end += n
		x.length += n
	} else {
		n = 0
	}
	return n, err
}

// dropHead frees the head chunk, unless it is the last one, which is reset.
func (x *bufferQueue) dropHead() {
	if x.chunks.Length() > 1 {
		x.chunks.Remove()
	} else {
		x.head().reset()
	}
}

// peek returns the queued bytes of the first non-empty chunk, or nil.
// The returned slice is only valid until the queue is next modified.
func (x *bufferQueue) peek() []byte {
	for x.length != 0 {
		c := x.head()
		if c.len() != 0 {
			return c.bytes()
		}
		x.dropHead()
	}
	return nil
}

// consume discards up to n bytes from the head of the queue.
func (x *bufferQueue) consume(n int) {
	for n > 0 && x.length != 0 {
		c := x.head()
		k := c.len()
		if k > n {
			k = n
		}
		c.start += k
		x.length -= k
		n -= k
		if c.len() == 0 {
			x.dropHead()
		}
	}
}

// take removes and returns up to n bytes from the head of the queue.
func (x *bufferQueue) take(n int) []byte {
	if n > x.length {
		n = x.length
	}
	if n <= 0 {
		return nil
	}
	b := make([]byte, 0, n)
	for len(b) < n {
		c := x.head()
		k := c.len()
		if k > n-len(b) {
			k = n - len(b)
		}
		b = append(b, c.buf[c.start:c.start+k]...)
		c.start += k
		x.length -= k
		if c.len() == 0 {
			x.dropHead()
		}
	}
	return b
}

// indexByte returns the offset of the first v within the first limit queued
// bytes, or -1.
func (x *bufferQueue) indexByte(v byte, limit int) int {
	if x.length == 0 || limit <= 0 {
		return -1
	}
	var offset int
	for i, count := 0, x.chunks.Length(); i < count && offset < limit; i++ {
		b := x.chunks.Get(i).(*chunk).bytes()
		if len(b) > limit-offset {
			b = b[:limit-offset]
		}
		for j, c := range b {
			if c == v {
				return offset + j
			}
		}
		offset += len(b)
	}
	return -1
}

// release frees every chunk.
func (x *bufferQueue) release() {
	x.chunks = nil
	x.length = 0
}
