// Package transport owns the TCP connection to one backend endpoint on
// behalf of a subchannel: connecting across a ranked address list,
// probing an idle socket for liveness, and handing byte-stream handles
// to the upper HTTP/2 layer exactly once.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
	"github.com/relaywire/subchannel/pkg/eventbus"
)

// ConnectResult is the caller-visible discriminator TryConnect returns.
type ConnectResult int

const (
	ConnectSuccess ConnectResult = iota
	ConnectFailure
	ConnectTimeout
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectSuccess:
		return "Success"
	case ConnectFailure:
		return "Failure"
	case ConnectTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Config tunes the transport. ConnectTimeout of zero means TryConnect is
// bounded only by the caller's context. ConnectRateLimit of zero disables
// the dial-rate limiter entirely.
type Config struct {
	ProbeInterval    time.Duration
	ConnectTimeout   time.Duration
	ConnectRateLimit rate.Limit
	ConnectRateBurst int
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval: 5 * time.Second,
	}
}

// Transport is the façade described in spec.md §4.1: TryConnect, GetStream,
// Disconnect, Dispose, plus a Stats snapshot for observability. All four
// operations synchronise on the parent subchannel's lock.
type Transport struct {
	sub    ports.Subchannel
	dialer ports.Dialer
	logger *slog.Logger
	cfg    Config
	events *eventbus.EventBus[domain.ConnectivityEvent]

	lock sync.Locker

	limiter *rate.Limiter
	prober  *prober
	reg     *streamRegistry

	currentAddress       *domain.Address
	lastEndpointIndex    int
	initialSocket        ports.Socket
	initialSocketAddress domain.Address
	initialSocketData    *initialDataBuffer

	lastPublished domain.ConnectivityState
	disposed      atomic.Bool
}

// New constructs a Transport bound to sub. dialer is the injectable connect
// function (spec.md §9 "Injectable connect"); pass nil to use DefaultDialer.
func New(sub ports.Subchannel, dialer ports.Dialer, cfg Config, logger *slog.Logger, events *eventbus.EventBus[domain.ConnectivityEvent]) *Transport {
	if dialer == nil {
		dialer = DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transport{
		sub:           sub,
		dialer:        dialer,
		cfg:           cfg,
		logger:        logger,
		events:        events,
		lock:          sub.Lock(),
		reg:           newStreamRegistry(),
		lastPublished: domain.ConnectivityIdle,
	}
	t.prober = newProber(cfg.ProbeInterval, t.onProbeFire)

	if cfg.ConnectRateLimit > 0 {
		burst := cfg.ConnectRateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(cfg.ConnectRateLimit, burst)
	}

	return t
}

// TryConnect implements spec.md §4.1's connect algorithm: snapshot the
// address list, publish Connecting, walk addresses round-robin from the
// last successful index, park the winning socket, and arm the prober.
func (t *Transport) TryConnect(ctx context.Context) (ConnectResult, error) {
	if t.disposed.Load() {
		return ConnectFailure, errors.New("transport disposed")
	}

	addresses := t.sub.GetAddresses()
	if len(addresses) == 0 {
		return ConnectFailure, errors.New("no addresses configured")
	}

	t.publish(domain.ConnectivityConnecting, "Connecting", nil)

	t.lock.Lock()
	startIndex := t.lastEndpointIndex
	t.lock.Unlock()

	callCtx := ctx
	if t.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	attempt, err := connectOverAddresses(callCtx, t.dialer, addresses, startIndex, t.limiter)
	if err == nil {
		t.lock.Lock()
		t.currentAddress = &attempt.address
		t.lastEndpointIndex = attempt.index
		t.initialSocket = attempt.socket
		t.initialSocketAddress = attempt.address
		t.initialSocketData = nil
		t.lock.Unlock()

		t.prober.arm()
		t.publish(domain.ConnectivityReady, "Connected", nil)
		return ConnectSuccess, nil
	}

	// The failure was caused by our own timeout envelope, not the caller's
	// token, iff callCtx expired while ctx itself is still live.
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		timeoutErr := domain.NewConnectTimeoutError(addressesString(addresses), err)
		t.publish(domain.ConnectivityTransientFailure, "Unavailable", timeoutErr)
		return ConnectTimeout, timeoutErr
	}

	t.publish(domain.ConnectivityTransientFailure, "Unavailable", err)
	return ConnectFailure, err
}

// GetStream implements spec.md §4.1's GetStream: reuse the parked socket
// if it matches address and is still healthy, else dial a fresh one.
func (t *Transport) GetStream(ctx context.Context, address domain.Address) (ports.ByteStream, error) {
	if t.disposed.Load() {
		return nil, errors.New("transport disposed")
	}

	socket, chunks := t.takeParkedSocketLocked(address)

	if socket != nil && IsSocketInBadState(socket, t.logger) {
		_ = socket.Close()
		socket = nil
		chunks = nil
	}

	if socket == nil {
		dialed, err := t.dialer.Dial(ctx, address.Endpoint)
		if err != nil {
			return nil, domain.NewDialError(address.Endpoint, 0, err)
		}
		socket = dialed
	}

	id := t.reg.add(address, socket)

	t.lock.Lock()
	if t.currentAddress == nil {
		addr := address
		t.currentAddress = &addr
	}
	t.lock.Unlock()

	stream := newPrefixBufferStream(socket, chunks, func() {
		t.onStreamDisposed(id)
	})

	return stream, nil
}

// takeParkedSocketLocked atomically consumes the parked initial socket if
// it exists and matches address, disarming the prober in the process
// (spec.md §4.1 GetStream step 1).
func (t *Transport) takeParkedSocketLocked(address domain.Address) (ports.Socket, [][]byte) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.initialSocket == nil {
		return nil, nil
	}

	socket := t.initialSocket
	parkedAddress := t.initialSocketAddress
	data := t.initialSocketData

	t.initialSocket = nil
	t.initialSocketAddress = domain.Address{}
	t.initialSocketData = nil
	t.prober.disarm()

	if !parkedAddress.Equal(address) {
		_ = socket.Close()
		return nil, nil
	}

	return socket, data.chunksOrNil()
}

// onStreamDisposed is the dispose hook wired into every stream GetStream
// hands out (spec.md §4.4). Exceptions here are logged and swallowed —
// a dispose must never propagate.
func (t *Transport) onStreamDisposed(id uint64) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("stream dispose panicked", "recovered", r)
		}
	}()

	becameEmpty := t.reg.remove(id)
	if becameEmpty {
		t.Disconnect()
	}
}

// Disconnect implements spec.md §4.1 Disconnect: release the parked
// socket and publish Idle. Active streams are untouched — the upper
// layer owns their lifetime.
func (t *Transport) Disconnect() {
	if t.disposed.Load() {
		return
	}

	t.lock.Lock()
	t.releaseParkedSocketLocked()
	// currentAddress is present iff initialSocket is present or activeStreams
	// is non-empty (spec.md §3 invariant 1); with the parked socket just
	// released, it only survives if streams are still outstanding.
	if t.reg.size() == 0 {
		t.currentAddress = nil
	}
	t.prober.disarm()
	t.lock.Unlock()

	t.publish(domain.ConnectivityIdle, "Disconnected", nil)
}

// Dispose implements spec.md §4.1 Dispose: terminal, idempotent, no
// further connectivity-state transitions afterward.
func (t *Transport) Dispose() {
	if !t.disposed.CompareAndSwap(false, true) {
		return
	}

	t.logger.Info("disposing transport", "subchannel", t.sub.ID())

	t.lock.Lock()
	t.releaseParkedSocketLocked()
	t.lock.Unlock()

	t.prober.disarm()
}

// releaseParkedSocketLocked is the "same unsynchronised helper" spec.md
// §4.1 has Disconnect and Dispose share. Caller must hold t.lock.
func (t *Transport) releaseParkedSocketLocked() {
	if t.initialSocket == nil {
		return
	}
	_ = t.initialSocket.Close()
	t.initialSocket = nil
	t.initialSocketAddress = domain.Address{}
	t.initialSocketData = nil
}

// onProbeFire is the prober's callback, implementing spec.md §4.2.
func (t *Transport) onProbeFire() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("probe handler crashed", "recovered", r)
		}
		t.rearmIfLive()
	}()

	t.lock.Lock()
	socket := t.initialSocket
	address := t.initialSocketAddress
	if socket == nil {
		t.lock.Unlock()
		return
	}
	if t.initialSocketData == nil {
		t.initialSocketData = &initialDataBuffer{}
	}

	result := drain(socket, address.Endpoint, t.initialSocketData, t.logger)
	// "bad && nothing to read" is the disconnect trigger, evaluated after
	// the drain loop fully exits (spec.md §9 open question resolution).
	closeSocket := result.closeSocket
	probed := domain.ProbeResult{CheckedAt: time.Now(), BufferedBytes: t.initialSocketData.len(), Closed: closeSocket}
	t.lock.Unlock()

	t.logger.Debug("probe tick", "endpoint", address.Endpoint, "checked_at", probed.CheckedAt, "buffered_bytes", probed.BufferedBytes, "closed", probed.Closed)

	if !closeSocket {
		return
	}

	t.lock.Lock()
	stillParked := t.initialSocket == socket
	if stillParked {
		t.releaseParkedSocketLocked()
		if t.reg.size() == 0 {
			t.currentAddress = nil
		}
	}
	t.lock.Unlock()

	if stillParked {
		t.publish(domain.ConnectivityIdle, "Lost connection to socket", result.err)
	}
}

func (t *Transport) rearmIfLive() {
	if t.disposed.Load() {
		return
	}
	t.lock.Lock()
	stillParked := t.initialSocket != nil
	t.lock.Unlock()
	if stillParked {
		t.prober.arm()
	}
}

// publish forwards a connectivity transition to the parent subchannel and
// fans it out over the eventbus for observers (TUI, tests) independent of
// the subchannel's own sink. A transition that CanTransitionTo rejects is
// dropped rather than forwarded — spec.md §5's ordering guarantee is
// enforced here, at the one place every state change funnels through.
func (t *Transport) publish(state domain.ConnectivityState, reason string, cause error) {
	if t.disposed.Load() {
		return
	}

	t.lock.Lock()
	from := t.lastPublished
	if from == state {
		t.lock.Unlock()
		return
	}
	if !from.CanTransitionTo(state) {
		t.lock.Unlock()
		t.logger.Warn("dropping illegal connectivity transition", "from", from, "to", state, "reason", reason)
		return
	}
	t.lastPublished = state
	t.lock.Unlock()

	t.sub.UpdateConnectivityState(state, reason, cause)

	if t.events != nil {
		t.events.Publish(domain.ConnectivityEvent{
			SubchannelID: t.sub.ID(),
			From:         from,
			To:           state,
			Reason:       reason,
			Cause:        cause,
		})
	}
}

// Stats returns a point-in-time diagnostic snapshot.
func (t *Transport) Stats() ports.TransportStats {
	t.lock.Lock()
	defer t.lock.Unlock()

	stats := ports.TransportStats{
		InitialSocketBytes: t.initialSocketData.len(),
		ActiveStreams:      t.reg.size(),
		ProbeArmed:         t.prober.isArmed(),
		Disposed:           t.disposed.Load(),
		State:              domain.ConnectivityIdle,
	}
	if t.currentAddress != nil {
		stats.CurrentAddress = t.currentAddress.Endpoint
	}
	switch {
	case stats.Disposed:
		stats.State = domain.ConnectivityShutdown
	case t.initialSocket != nil || stats.ActiveStreams > 0:
		stats.State = domain.ConnectivityReady
	}
	return stats
}

func addressesString(addresses []domain.Address) string {
	if len(addresses) == 1 {
		return addresses[0].Endpoint
	}
	return fmt.Sprintf("%d addresses", len(addresses))
}
