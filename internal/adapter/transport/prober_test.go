package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSocketInBadState_NoPendingDataIsHealthy(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	assert.False(t, IsSocketInBadState(socket, nil))
}

func TestIsSocketInBadState_PendingDataAndConnectedIsHealthy(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.push([]byte("hi"))
	assert.False(t, IsSocketInBadState(socket, nil))
}

func TestIsSocketInBadState_PendingDataButNotConnectedIsBad(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.push([]byte("hi"))
	socket.connected = false
	assert.True(t, IsSocketInBadState(socket, nil))
}

func TestIsSocketInBadState_PeerClosedCleanlyIsBad(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.closeFromPeer()
	assert.True(t, IsSocketInBadState(socket, nil))
}

func TestIsSocketInBadState_PollErrorIsBad(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.pollErr = errors.New("fd closed")
	assert.True(t, IsSocketInBadState(socket, nil))
}

func TestDrain_CapturesPendingBytesWithNoTransition(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.push([]byte("12345678"))

	var buf initialDataBuffer
	result := drain(socket, "h1:1", &buf, nil)

	assert.False(t, result.closeSocket)
	assert.Equal(t, 8, buf.len())
	assert.Equal(t, [][]byte{[]byte("12345678")}, buf.chunksOrNil())
}

func TestDrain_PeerCloseWithNothingPendingSignalsClose(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.closeFromPeer()

	var buf initialDataBuffer
	result := drain(socket, "h1:1", &buf, nil)

	assert.True(t, result.closeSocket)
	assert.Equal(t, 0, buf.len())
}

func TestDrain_OverflowMarksCloseAndStopsReading(t *testing.T) {
	t.Parallel()

	socket := newFakeSocket()
	socket.push(make([]byte, MaxInitialSocketBytes+1))

	var buf initialDataBuffer
	result := drain(socket, "h1:1", &buf, nil)

	require.Error(t, result.err)
	assert.True(t, result.closeSocket)
	assert.LessOrEqual(t, buf.len(), MaxInitialSocketBytes)
}

func TestProber_ArmSchedulesExactlyOneFire(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 4)
	p := newProber(time.Millisecond, func() { fired <- struct{}{} })

	p.arm()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("prober never fired")
	}

	select {
	case <-fired:
		t.Fatal("expected only a single fire from one arm() call")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestProber_DisarmPreventsFire(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 1)
	p := newProber(time.Hour, func() { fired <- struct{}{} })

	p.arm()
	assert.True(t, p.isArmed())
	p.disarm()
	assert.False(t, p.isArmed())
}
