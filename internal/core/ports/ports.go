package ports

import (
	"context"
	"io"
	"sync"

	"github.com/relaywire/subchannel/internal/core/domain"
)

// Subchannel is the external collaborator that owns the address list, the
// shared lock, connectivity-state publication and an opaque identifier for
// logs. The transport never owns any of these itself (spec.md §6).
type Subchannel interface {
	// Lock is the mutex the transport shares with its parent subchannel, so
	// a Ready transition and the observability of the parked socket are a
	// single atomic step from the load balancer's point of view.
	Lock() sync.Locker

	// GetAddresses returns the current candidate address snapshot. May
	// change between calls; TryConnect snapshots it once per attempt.
	GetAddresses() []domain.Address

	// UpdateConnectivityState publishes a transition. reason is a short
	// human string ("Disconnected", "Lost connection to socket", ...).
	UpdateConnectivityState(state domain.ConnectivityState, reason string, cause error)

	// ID is an opaque identifier used only for logs.
	ID() string
}

// Dialer creates and connects a TCP socket to endpoint, honouring
// cancellation. It's the transport's sole injection point for tests
// (spec.md §4.3/§9 "Injectable connect"); the default implementation
// performs a real net.Dial with Nagle disabled.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Socket, error)
}

type DialerFunc func(ctx context.Context, endpoint string) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Socket, error) {
	return f(ctx, endpoint)
}

// Socket is the minimal surface the transport needs from a connected TCP
// socket: stream I/O, liveness polling and a close. net.TCPConn does not
// provide Available/Poll/Connected, so adapter/transport/socket.go wraps it;
// tests substitute a fake.
type Socket interface {
	io.ReadWriteCloser

	// Available reports how many bytes can be read without blocking; on a
	// real socket this is the FIONREAD ioctl — see adapter/transport/socket.go
	// for the net.TCPConn-backed implementation.
	Available() (int, error)

	// Poll reports whether a read-ready event is pending, without
	// consuming it, which is how IsSocketInBadState (spec.md §4.3)
	// distinguishes "nothing to read" from "peer sent data or closed".
	Poll() (bool, error)

	// Connected reports whether the socket still believes it's open.
	Connected() bool
}

// ByteStream is handed out by GetStream to the upper HTTP/2 layer: reads
// observe any captured initial-socket bytes before live socket bytes;
// writes go straight to the socket; Close releases the socket and removes
// this stream from the active-stream registry exactly once.
type ByteStream interface {
	io.ReadWriteCloser
}

// TransportStats is the diagnostic snapshot returned by Transport.Stats(),
// grounded on the teacher's GetSchedulerStats()/StatsCollector shape but
// scoped to a single subchannel instead of a fleet of endpoints.
type TransportStats struct {
	State              domain.ConnectivityState
	CurrentAddress     string
	InitialSocketBytes int
	ActiveStreams      int
	ProbeArmed         bool
	Disposed           bool
}
