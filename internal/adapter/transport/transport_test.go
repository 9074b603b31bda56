package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
)

func newTestTransport(sub *fakeSubchannel, dialer ports.Dialer) *Transport {
	cfg := Config{ProbeInterval: time.Hour}
	return New(sub, dialer, cfg, nil, nil)
}

// S1 — Happy path.
func TestTryConnect_HappyPath(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"}, domain.Address{Endpoint: "b:1"})
	tr := newTestTransport(sub, newFakeDialer())

	result, err := tr.TryConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectSuccess, result)
	assert.Equal(t, []domain.ConnectivityState{domain.ConnectivityConnecting, domain.ConnectivityReady}, sub.snapshot())

	stats := tr.Stats()
	assert.Equal(t, "a:1", stats.CurrentAddress)
	assert.True(t, stats.ProbeArmed)
}

// S2 — Failover.
func TestTryConnect_Failover(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"}, domain.Address{Endpoint: "b:1"})
	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) { return nil, errors.New("refused") })

	tr := newTestTransport(sub, dialer)

	result, err := tr.TryConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectSuccess, result)
	assert.Equal(t, []domain.ConnectivityState{domain.ConnectivityConnecting, domain.ConnectivityReady}, sub.snapshot())
	assert.Equal(t, "b:1", tr.Stats().CurrentAddress)
}

// S3 — All fail.
func TestTryConnect_AllAddressesFail(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"}, domain.Address{Endpoint: "b:1"})
	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) { return nil, errors.New("refused") })
	dialer.script("b:1", func() (ports.Socket, error) { return nil, errors.New("refused") })

	tr := newTestTransport(sub, dialer)

	result, err := tr.TryConnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, ConnectFailure, result)
	assert.Equal(t, []domain.ConnectivityState{domain.ConnectivityConnecting, domain.ConnectivityTransientFailure}, sub.snapshot())
}

// S4 — Timeout.
func TestTryConnect_TimeoutIsDistinguishedFromCancellation(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, context.DeadlineExceeded
	})

	cfg := Config{ProbeInterval: time.Hour, ConnectTimeout: time.Millisecond}
	tr := New(sub, dialer, cfg, nil, nil)

	result, err := tr.TryConnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, ConnectTimeout, result)

	var timeoutErr *domain.ConnectTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, []domain.ConnectivityState{domain.ConnectivityConnecting, domain.ConnectivityTransientFailure}, sub.snapshot())
}

// S4b — caller-driven cancellation (not a timeout) must report Failure.
func TestTryConnect_CallerCancellationIsNotReportedAsTimeout(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) { return nil, ctx.Err() })

	tr := newTestTransport(sub, dialer)

	result, err := tr.TryConnect(ctx)
	require.Error(t, err)
	assert.Equal(t, ConnectFailure, result)
}

// S4c — round-robin resumption (property 4).
func TestTryConnect_ResumesAtLastSuccessfulIndexAfterDisconnect(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"}, domain.Address{Endpoint: "b:1"})
	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) { return nil, errors.New("refused") })

	tr := newTestTransport(sub, dialer)

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b:1", tr.Stats().CurrentAddress)

	tr.Disconnect()

	_, err = tr.TryConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:1", "b:1"}, dialer.calls, "second TryConnect must begin at index 1 (b), not wrap to 0 (a)")
}

// S5 — Pre-buffered bytes.
func TestGetStream_ReplaysPrebufferedBytesAndConsumesParkedSocket(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	tr := newTestTransport(sub, newFakeDialer())

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)

	tr.lock.Lock()
	socket := tr.initialSocket.(*fakeSocket)
	tr.lock.Unlock()
	socket.push([]byte("12345678"))

	tr.onProbeFire()
	assert.Equal(t, 8, tr.Stats().InitialSocketBytes)
	assert.Equal(t, []domain.ConnectivityState{domain.ConnectivityConnecting, domain.ConnectivityReady}, sub.snapshot(),
		"a healthy drain must not publish a transition")

	stream, err := tr.GetStream(context.Background(), domain.Address{Endpoint: "a:1"})
	require.NoError(t, err)

	out := make([]byte, 8)
	n, err := stream.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(out[:n]))

	assert.False(t, tr.Stats().ProbeArmed)
	assert.Equal(t, "a:1", tr.Stats().CurrentAddress, "currentAddress stays present while the stream is active")
}

// S6 — Peer close while idle.
func TestProbe_PeerCloseWhileParkedPublishesIdle(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	tr := newTestTransport(sub, newFakeDialer())

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)

	tr.lock.Lock()
	socket := tr.initialSocket.(*fakeSocket)
	tr.lock.Unlock()
	socket.closeFromPeer()

	tr.onProbeFire()

	assert.Equal(t, []domain.ConnectivityState{domain.ConnectivityConnecting, domain.ConnectivityReady, domain.ConnectivityIdle}, sub.snapshot())
	assert.True(t, socket.closed)
	assert.Empty(t, tr.Stats().CurrentAddress)
}

// Property 6 — idle on last stream.
func TestDisconnect_PublishedWhenLastStreamDisposed(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	tr := newTestTransport(sub, newFakeDialer())

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)

	stream, err := tr.GetStream(context.Background(), domain.Address{Endpoint: "a:1"})
	require.NoError(t, err)

	before := len(sub.snapshot())
	require.NoError(t, stream.Close())

	after := sub.snapshot()
	assert.Len(t, after, before+1)
	assert.Equal(t, domain.ConnectivityIdle, after[len(after)-1])
}

// Property 7 — dispose idempotence.
func TestDispose_IsTerminalAndIdempotent(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	tr := newTestTransport(sub, newFakeDialer())

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)

	before := len(sub.snapshot())
	tr.Dispose()
	tr.Dispose()

	after := sub.snapshot()
	assert.Equal(t, before, len(after), "Dispose itself publishes no transition")

	tr.Disconnect()
	assert.Equal(t, before, len(sub.snapshot()), "Disconnect after Dispose must be a no-op")

	_, err = tr.GetStream(context.Background(), domain.Address{Endpoint: "a:1"})
	assert.Error(t, err)

	result, err := tr.TryConnect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, ConnectFailure, result)
}

// Property 2 — parked-socket exclusivity: GetStream consuming the parked
// socket must disarm the prober so no subsequent tick re-reads it.
func TestGetStream_ConsumingParkedSocketDisarmsProbe(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"})
	tr := newTestTransport(sub, newFakeDialer())

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)
	assert.True(t, tr.Stats().ProbeArmed)

	_, err = tr.GetStream(context.Background(), domain.Address{Endpoint: "a:1"})
	require.NoError(t, err)
	assert.False(t, tr.Stats().ProbeArmed)
}

// GetStream against a different address than the parked socket must
// discard the parked socket and dial fresh, per spec.md §4.1 step 1.
func TestGetStream_MismatchedAddressDiscardsParkedSocket(t *testing.T) {
	t.Parallel()

	sub := newFakeSubchannel("sc-1", domain.Address{Endpoint: "a:1"}, domain.Address{Endpoint: "b:1"})
	dialer := newFakeDialer()
	tr := newTestTransport(sub, dialer)

	_, err := tr.TryConnect(context.Background())
	require.NoError(t, err)

	parked := len(dialer.calls)
	stream, err := tr.GetStream(context.Background(), domain.Address{Endpoint: "b:1"})
	require.NoError(t, err)
	require.NotNil(t, stream)

	assert.Equal(t, parked+1, len(dialer.calls), "mismatched address must trigger a fresh dial")
}
