package transport

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
)

// connectAttempt is the outcome of trying one address in the round-robin
// walk TryConnect performs (spec.md §4.1 step 3).
type connectAttempt struct {
	socket  ports.Socket
	address domain.Address
	index   int
}

// connectOverAddresses walks addresses starting at lastIndex, wrapping
// around exactly once, dialing each in turn until one succeeds or the
// context is cancelled. It records only the first error, per spec.md's
// "record the first error only" rule — later addresses are still tried.
//
// limiter is optional; when non-nil each dial waits for a token first,
// capping how fast the subchannel burns through a failing address list.
func connectOverAddresses(ctx context.Context, dialer ports.Dialer, addresses []domain.Address, lastIndex int, limiter *rate.Limiter) (connectAttempt, error) {
	if len(addresses) == 0 {
		return connectAttempt{}, errors.New("no addresses to connect to")
	}

	var firstErr error

	for i := 0; i < len(addresses); i++ {
		idx := (i + lastIndex) % len(addresses)
		addr := addresses[idx]

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}

		socket, err := dialer.Dial(ctx, addr.Endpoint)
		if err == nil {
			return connectAttempt{socket: socket, address: addr, index: idx}, nil
		}

		if firstErr == nil {
			firstErr = domain.NewDialError(addr.Endpoint, i, err)
		}

		if ctx.Err() != nil {
			break
		}
	}

	return connectAttempt{}, firstErr
}
