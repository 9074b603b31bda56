//go:build unix

package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/relaywire/subchannel/internal/core/ports"
)

// tcpSocket adapts a *net.TCPConn to ports.Socket. Go's net package has no
// direct equivalent of a mainstream socket API's Available/Poll pair, so
// this reaches for golang.org/x/sys/unix — the same raw-syscall escape
// hatch the rest of the ecosystem uses when it needs to peek at socket
// readiness without consuming bytes (see DESIGN.md for why this can't be
// done with net alone).
type tcpSocket struct {
	conn      *net.TCPConn
	connected atomic.Bool
}

func newTCPSocket(conn *net.TCPConn) *tcpSocket {
	s := &tcpSocket{conn: conn}
	s.connected.Store(true)
	return s
}

func (s *tcpSocket) Read(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if err != nil {
		s.connected.Store(false)
	}
	return n, err
}

func (s *tcpSocket) Write(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	if err != nil {
		s.connected.Store(false)
	}
	return n, err
}

func (s *tcpSocket) Close() error {
	s.connected.Store(false)
	return s.conn.Close()
}

func (s *tcpSocket) Connected() bool {
	return s.connected.Load()
}

// Available reports how many bytes are pending via the FIONREAD ioctl —
// guaranteed not to block and guaranteed not to consume anything.
func (s *tcpSocket) Available() (int, error) {
	rawConn, err := s.conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var ioctlErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		n, ioctlErr = unix.IoctlGetInt(int(fd), unix.FIONREAD)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	if ioctlErr != nil {
		return 0, ioctlErr
	}
	return n, nil
}

// Poll reports whether a read would return immediately — either because
// bytes are pending or because the peer has closed the connection. It
// never consumes anything, using MSG_PEEK|MSG_DONTWAIT on the raw fd.
func (s *tcpSocket) Poll() (bool, error) {
	rawConn, err := s.conn.SyscallConn()
	if err != nil {
		return false, err
	}

	var peekBuf [1]byte
	var n int
	var recvErr error
	readErr := rawConn.Read(func(fd uintptr) bool {
		n, _, recvErr = unix.Recvfrom(int(fd), peekBuf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		if recvErr == unix.EAGAIN || recvErr == unix.EWOULDBLOCK {
			// Nothing pending right now; not an error, just not ready.
			recvErr = nil
			n = -1
			return true
		}
		return true
	})
	if readErr != nil {
		return false, readErr
	}
	if recvErr != nil {
		s.connected.Store(false)
		return true, recvErr
	}
	if n == -1 {
		return false, nil
	}
	// n == 0 means the peer sent FIN with nothing unread; n > 0 means data
	// is waiting. Both are "poll is true" — Available() distinguishes them.
	return true, nil
}

// dialTCP performs the cancellable connect spec.md §4.1 describes: a fresh
// socket with Nagle disabled, connected to endpoint, honouring ctx.
func dialTCP(ctx context.Context, endpoint string) (ports.Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("dial %s: not a TCP connection", endpoint)
	}

	if err := tcpConn.SetNoDelay(true); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("dial %s: set no-delay: %w", endpoint, err)
	}

	return newTCPSocket(tcpConn), nil
}

// DefaultDialer is the production ports.Dialer: a real, cancellable TCP
// connect with Nagle disabled. Tests substitute their own ports.Dialer
// instead of this one (spec.md §9 "Injectable connect").
var DefaultDialer ports.Dialer = ports.DialerFunc(dialTCP)
