package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
)

// prober is the one-shot, self-rescheduling health check described in
// spec.md §4.2. It is armed exactly while a socket is parked, and it is
// the only reader of a parked socket other than GetStream, which disarms
// it before taking the socket.
type prober struct {
	timer    *time.Timer
	mu       sync.Mutex
	interval time.Duration
	onFire   func()
	armed    bool
}

func newProber(interval time.Duration, onFire func()) *prober {
	return &prober{interval: interval, onFire: onFire}
}

// arm schedules a single fire after interval. Never a repeating timer —
// overlapping ticks would be a correctness bug, not a style choice.
func (p *prober) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.armed = true
	p.timer = time.AfterFunc(p.interval, p.onFire)
}

// disarm stops any pending fire. Safe to call when not armed.
func (p *prober) disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.armed = false
}

func (p *prober) isArmed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// IsSocketInBadState implements spec.md §4.3: a zero-timeout read-poll that
// distinguishes healthy-idle, readable-with-data, and closed, without ever
// blocking or consuming bytes it doesn't own.
func IsSocketInBadState(socket ports.Socket, logger *slog.Logger) bool {
	readable, err := socket.Poll()
	if err != nil {
		if logger != nil {
			logger.Debug("socket poll failed, treating as bad", "error", err)
		}
		return true
	}
	if !readable {
		return false
	}

	available, err := socket.Available()
	if err != nil {
		if logger != nil {
			logger.Debug("socket available-check failed, treating as bad", "error", err)
		}
		return true
	}
	if available > 0 {
		return !socket.Connected()
	}
	// Readable with nothing pending: the peer sent FIN with no unread bytes.
	return true
}

// drainResult is what one probe tick learned about the parked socket.
type drainResult struct {
	err         error
	closeSocket bool
}

// drain performs spec.md §4.2 step 2: repeatedly check badness, and so long
// as bytes are waiting, read them non-blockingly and append them to buf.
// Called under the shared lock; every read here is guaranteed non-blocking
// because it only ever reads exactly what Available() just reported.
func drain(socket ports.Socket, endpoint string, buf *initialDataBuffer, logger *slog.Logger) drainResult {
	var closeSocket bool

	for {
		closeSocket = IsSocketInBadState(socket, logger)

		available, err := socket.Available()
		if err != nil {
			return drainResult{closeSocket: true, err: domain.NewProbeError(endpoint, "available", err)}
		}
		if available <= 0 {
			break
		}

		chunk := chunkPool.Get()
		chunk.data = growChunk(chunk.data, available)

		n, err := socket.Read(chunk.data)
		if err != nil && n == 0 {
			chunkPool.Put(chunk)
			return drainResult{closeSocket: true, err: domain.NewProbeError(endpoint, "read", err)}
		}

		appendErr := buf.append(endpoint, chunk.data[:n])
		chunkPool.Put(chunk)
		if appendErr != nil {
			return drainResult{closeSocket: true, err: appendErr}
		}

		if n < available {
			// Read less than advertised; nothing more to drain this tick.
			break
		}
	}

	return drainResult{closeSocket: closeSocket}
}

func growChunk(data []byte, n int) []byte {
	if cap(data) >= n {
		return data[:n]
	}
	return make([]byte, n)
}
