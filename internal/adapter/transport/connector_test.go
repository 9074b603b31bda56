package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
)

func TestConnectOverAddresses_SucceedsOnFirstAddress(t *testing.T) {
	t.Parallel()

	addrs := []domain.Address{{Endpoint: "a:1"}, {Endpoint: "b:1"}}
	dialer := newFakeDialer()

	attempt, err := connectOverAddresses(context.Background(), dialer, addrs, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "a:1", attempt.address.Endpoint)
	assert.Equal(t, 0, attempt.index)
}

func TestConnectOverAddresses_FailsOverToSecondAddress(t *testing.T) {
	t.Parallel()

	addrs := []domain.Address{{Endpoint: "a:1"}, {Endpoint: "b:1"}}
	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) { return nil, errors.New("refused") })

	attempt, err := connectOverAddresses(context.Background(), dialer, addrs, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "b:1", attempt.address.Endpoint)
	assert.Equal(t, 1, attempt.index)
}

func TestConnectOverAddresses_ResumesAtLastIndex(t *testing.T) {
	t.Parallel()

	addrs := []domain.Address{{Endpoint: "a:1"}, {Endpoint: "b:1"}, {Endpoint: "c:1"}}
	dialer := newFakeDialer()

	attempt, err := connectOverAddresses(context.Background(), dialer, addrs, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "b:1", attempt.address.Endpoint)
	assert.Equal(t, []string{"b:1"}, dialer.calls)
}

func TestConnectOverAddresses_AllFailReturnsFirstError(t *testing.T) {
	t.Parallel()

	addrs := []domain.Address{{Endpoint: "a:1"}, {Endpoint: "b:1"}}
	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) { return nil, errors.New("first") })
	dialer.script("b:1", func() (ports.Socket, error) { return nil, errors.New("second") })

	_, err := connectOverAddresses(context.Background(), dialer, addrs, 0, nil)
	require.Error(t, err)

	var dialErr *domain.DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, "a:1", dialErr.Endpoint)
	assert.Equal(t, []string{"a:1", "b:1"}, dialer.calls)
}

func TestConnectOverAddresses_StopsLoopOnCancellation(t *testing.T) {
	t.Parallel()

	addrs := []domain.Address{{Endpoint: "a:1"}, {Endpoint: "b:1"}}
	ctx, cancel := context.WithCancel(context.Background())

	dialer := newFakeDialer()
	dialer.script("a:1", func() (ports.Socket, error) {
		cancel()
		return nil, errors.New("refused")
	})

	_, err := connectOverAddresses(ctx, dialer, addrs, 0, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"a:1"}, dialer.calls, "loop must not try b:1 once the context is cancelled")
}
