package transport

import (
	"sync"

	"github.com/relaywire/subchannel/internal/core/ports"
)

// prefixBufferStream is "replay N ordered chunks, then delegate to the
// live socket, then close the socket on dispose" (spec.md §9) — nothing
// more general than that. Writes never touch the buffer.
type prefixBufferStream struct {
	socket    ports.Socket
	onClose   func()
	closeOnce sync.Once
	chunks    [][]byte
	chunkIdx  int
	chunkOff  int
}

func newPrefixBufferStream(socket ports.Socket, chunks [][]byte, onClose func()) *prefixBufferStream {
	return &prefixBufferStream{
		socket:  socket,
		chunks:  chunks,
		onClose: onClose,
	}
}

func (s *prefixBufferStream) Read(p []byte) (int, error) {
	if n := s.readBuffered(p); n > 0 {
		return n, nil
	}
	return s.socket.Read(p)
}

// readBuffered copies from the remaining captured chunks, advancing
// position across chunk boundaries, without ever touching the socket.
func (s *prefixBufferStream) readBuffered(p []byte) int {
	total := 0
	for total < len(p) && s.chunkIdx < len(s.chunks) {
		chunk := s.chunks[s.chunkIdx]
		n := copy(p[total:], chunk[s.chunkOff:])
		total += n
		s.chunkOff += n
		if s.chunkOff >= len(chunk) {
			s.chunkIdx++
			s.chunkOff = 0
		}
	}
	return total
}

func (s *prefixBufferStream) Write(p []byte) (int, error) {
	return s.socket.Write(p)
}

func (s *prefixBufferStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.socket.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}
