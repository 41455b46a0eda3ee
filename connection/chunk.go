package connection

// DefaultChunkSize is the capacity of each queue chunk, unless configured via
// WithChunkSize.
const DefaultChunkSize = 4096

// chunk is a fixed capacity buffer, the unit of both queues.
// Bytes in buf[start:end] are queued, start == end means empty.
type chunk struct {
	buf   []byte
	start int
	end   int
}

func newChunk(size int) *chunk {
	return &chunk{buf: make([]byte, size)}
}

func (x *chunk) len() int { return x.end - x.start }

func (x *chunk) bytes() []byte { return x.buf[x.start:x.end] }

// space returns the writable tail of the chunk.
func (x *chunk) space() []byte { return x.buf[x.end:] }

func (x *chunk) reset() { x.start, x.end = 0, 0 }
