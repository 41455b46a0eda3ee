package connection

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferQueue_writeSpillsAcrossChunks(t *testing.T) {
	q := bufferQueue{size: 4}
	q.write([]byte("abcdefghij"))
	assert.Equal(t, 10, q.length)
	assert.Equal(t, 3, q.chunkCount())
	assert.Equal(t, []byte("abcd"), q.peek())
	assert.Equal(t, []byte("ij"), q.tail().bytes())

	// fills the remaining space of the tail before allocating
	q.write([]byte("kl"))
	assert.Equal(t, 3, q.chunkCount())
	q.write([]byte("m"))
	assert.Equal(t, 4, q.chunkCount())
}

func TestBufferQueue_consumeKeepsLastChunk(t *testing.T) {
	q := bufferQueue{size: 4}
	q.write([]byte("abcdef"))
	q.consume(5)
	assert.Equal(t, 1, q.length)
	assert.Equal(t, 1, q.chunkCount())
	assert.Equal(t, []byte("f"), q.peek())

	q.consume(1)
	assert.Equal(t, 0, q.length)
	require.Equal(t, 1, q.chunkCount())
	c := q.head()
	assert.Equal(t, 0, c.start)
	assert.Equal(t, 0, c.end)
	assert.Nil(t, q.peek())
}

func TestBufferQueue_take(t *testing.T) {
	q := bufferQueue{size: 3}
	q.write([]byte("hello world"))

	assert.Equal(t, []byte("hel"), q.take(3))
	assert.Equal(t, []byte("lo w"), q.take(4))
	assert.Equal(t, 4, q.length)
	assert.Equal(t, []byte("orld"), q.take(100))
	assert.Nil(t, q.take(1))
	assert.Equal(t, 1, q.chunkCount())
}

func TestBufferQueue_readFrom(t *testing.T) {
	q := bufferQueue{size: 4}
	src := bytes.NewReader([]byte("abcdefg"))

	n, err := q.readFrom(src.Read)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, q.chunkCount())

	// tail is full, so a chunk is allocated
	n, err = q.readFrom(src.Read)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, q.chunkCount())

	// a partial tail is read into, rather than allocating
	n, _ = q.readFrom(func(p []byte) (int, error) {
		assert.Len(t, p, 1)
		return copy(p, "h"), nil
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, q.chunkCount())

	n, _ = q.readFrom(func([]byte) (int, error) { return -1, nil })
	assert.Equal(t, 0, n)
	assert.Equal(t, 8, q.length)
}

func TestBufferQueue_indexByte(t *testing.T) {
	q := bufferQueue{size: 4}
	q.write([]byte("ab\r\ncd\nef"))
	assert.Equal(t, 3, q.indexByte('\n', 100))
	assert.Equal(t, -1, q.indexByte('\n', 3))
	assert.Equal(t, 3, q.indexByte('\n', 4))
	q.consume(4)
	assert.Equal(t, 2, q.indexByte('\n', 5))
	assert.Equal(t, -1, q.indexByte('x', 100))
	assert.Equal(t, -1, q.indexByte('\n', 0))
}

func TestBufferQueue_release(t *testing.T) {
	q := bufferQueue{size: 4}
	q.write([]byte("abcdef"))
	q.release()
	assert.Equal(t, 0, q.chunkCount())
	assert.Equal(t, 0, q.length)
	assert.Nil(t, q.peek())
	assert.Nil(t, q.take(1))
}
