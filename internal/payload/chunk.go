// Package payload parses firmware and OS images into the byte slices the
// DnX state machine hands to the transport on each request ACK.
package payload

import "fmt"

// ChunkIterator is a stateful cursor over a byte buffer, yielding
// fixed-size slices until the buffer is exhausted. The zero value is not
// usable; build one with NewChunkIterator.
type ChunkIterator struct {
	data      []byte
	chunkSize int
	pos       int
}

// NewChunkIterator returns an iterator over data that yields chunkSize
// bytes at a time. chunkSize must be positive.
func NewChunkIterator(data []byte, chunkSize int) (*ChunkIterator, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("payload: chunk size must be positive, got %d", chunkSize)
	}
	return &ChunkIterator{data: data, chunkSize: chunkSize}, nil
}

// Next returns the next chunk and true, or nil and false once the source is
// exhausted. The final chunk may be shorter than chunkSize but is never
// zero-length for a non-empty source.
func (c *ChunkIterator) Next() ([]byte, bool) {
	if c.pos >= len(c.data) {
		return nil, false
	}
	end := c.pos + c.chunkSize
	if end > len(c.data) {
		end = len(c.data)
	}
	chunk := c.data[c.pos:end]
	c.pos = end
	return chunk, true
}

// Done reports whether the iterator has yielded all chunks.
func (c *ChunkIterator) Done() bool { return c.pos >= len(c.data) }

// Remaining returns the number of bytes not yet yielded.
func (c *ChunkIterator) Remaining() int { return len(c.data) - c.pos }

// Reset rewinds the iterator to the start of its source, used when a
// session needs to replay a payload after a device re-enumerates.
func (c *ChunkIterator) Reset() { c.pos = 0 }
