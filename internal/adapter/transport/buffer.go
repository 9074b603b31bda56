package transport

import (
	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/pkg/pool"
)

// MaxInitialSocketBytes bounds how much of a peer's pre-attach chatter the
// prober will buffer on a parked socket before giving up on it (spec.md
// §3, invariant 3).
const MaxInitialSocketBytes = 16 * 1024

var chunkPool = pool.NewLitePool(func() *chunkBuf {
	return &chunkBuf{}
})

// chunkBuf is a pooled, resettable carrier for one drain read so repeated
// probe ticks on a chatty peer don't force a fresh allocation every time.
type chunkBuf struct {
	data []byte
}

func (c *chunkBuf) Reset() {
	c.data = c.data[:0]
}

// initialDataBuffer is the ordered, bounded capture described in spec.md
// §3/§4.2: chunks accumulate while a socket is parked and are handed,
// in order, to whichever stream consumes the socket.
type initialDataBuffer struct {
	chunks [][]byte
	total  int
}

// append adds a chunk, copying it out of any pooled backing array so the
// buffer owns its own bytes. Returns an error if the new total would
// exceed MaxInitialSocketBytes; on error the buffer is left unchanged.
func (b *initialDataBuffer) append(endpoint string, chunk []byte) error {
	if b.total+len(chunk) > MaxInitialSocketBytes {
		return &domain.BufferExceededError{Endpoint: endpoint, Total: b.total + len(chunk), Limit: MaxInitialSocketBytes}
	}
	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	b.chunks = append(b.chunks, owned)
	b.total += len(owned)
	return nil
}

func (b *initialDataBuffer) len() int {
	if b == nil {
		return 0
	}
	return b.total
}

// chunksOrNil returns the captured chunks, or nil if nothing was captured —
// matching the "absent" state spec.md §3 calls for when no bytes arrived.
func (b *initialDataBuffer) chunksOrNil() [][]byte {
	if b == nil || len(b.chunks) == 0 {
		return nil
	}
	return b.chunks
}
