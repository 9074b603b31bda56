package transport

import (
	"context"
	"io"
	"sync"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
)

// fakeSocket is an in-memory ports.Socket for deterministic tests. Reads
// are served from pending, writes accumulate in written, and Available/Poll
// reflect pending without consuming it.
type fakeSocket struct {
	mu        sync.Mutex
	pending   []byte
	written   []byte
	closed    bool
	peerClose bool
	connected bool
	closeN    int
	pollErr   error
	availErr  error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{connected: true}
}

func (s *fakeSocket) push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, data...)
}

func (s *fakeSocket) closeFromPeer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerClose = true
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		if s.peerClose || s.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeN++
	s.connected = false
	return nil
}

func (s *fakeSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.availErr != nil {
		return 0, s.availErr
	}
	return len(s.pending), nil
}

func (s *fakeSocket) Poll() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return false, s.pollErr
	}
	return len(s.pending) > 0 || s.peerClose, nil
}

// fakeDialer dials a scripted sequence of outcomes keyed by endpoint,
// consumed in call order — enough to simulate failover across an
// address list without a real network.
type fakeDialer struct {
	mu      sync.Mutex
	results map[string][]func() (ports.Socket, error)
	calls   []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(map[string][]func() (ports.Socket, error))}
}

func (d *fakeDialer) script(endpoint string, fn func() (ports.Socket, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[endpoint] = append(d.results[endpoint], fn)
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (ports.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, endpoint)

	fns := d.results[endpoint]
	if len(fns) == 0 {
		return newFakeSocket(), nil
	}
	fn := fns[0]
	d.results[endpoint] = fns[1:]
	return fn()
}

// fakeSubchannel is an in-memory ports.Subchannel recording every published
// transition, for asserting spec.md §8's state-transition-order properties.
type fakeSubchannel struct {
	mu          sync.Mutex
	id          string
	addresses   []domain.Address
	lock        sync.Mutex
	transitions []domain.ConnectivityState
}

func newFakeSubchannel(id string, addresses ...domain.Address) *fakeSubchannel {
	return &fakeSubchannel{id: id, addresses: addresses}
}

func (f *fakeSubchannel) Lock() sync.Locker { return &f.lock }

func (f *fakeSubchannel) GetAddresses() []domain.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Address, len(f.addresses))
	copy(out, f.addresses)
	return out
}

func (f *fakeSubchannel) UpdateConnectivityState(state domain.ConnectivityState, _ string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, state)
}

func (f *fakeSubchannel) ID() string { return f.id }

func (f *fakeSubchannel) snapshot() []domain.ConnectivityState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ConnectivityState, len(f.transitions))
	copy(out, f.transitions)
	return out
}
