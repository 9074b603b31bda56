// Package demo provides a minimal ports.Subchannel implementation standing
// in for the load balancer that would normally own a subchannel's address
// list and connectivity state. It plays the role the teacher's own demo
// server plays around its core packages: enough to drive the transport
// end-to-end without pulling in a real gRPC load balancer.
package demo

import (
	"sync"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/logger"
)

// Subchannel is a standalone ports.Subchannel: an id, a static address
// list and the connectivity state the transport publishes into it.
type Subchannel struct {
	mu        sync.Mutex
	id        string
	addresses []domain.Address
	state     domain.ConnectivityState
	log       *logger.StyledLogger
}

// NewSubchannel builds a demo subchannel over a fixed endpoint list.
func NewSubchannel(id string, endpoints []string, log *logger.StyledLogger) *Subchannel {
	addresses := make([]domain.Address, len(endpoints))
	for i, ep := range endpoints {
		addresses[i] = domain.Address{Endpoint: ep}
	}
	return &Subchannel{
		id:        id,
		addresses: addresses,
		state:     domain.ConnectivityIdle,
		log:       log,
	}
}

func (s *Subchannel) Lock() sync.Locker { return &s.mu }

func (s *Subchannel) GetAddresses() []domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Address, len(s.addresses))
	copy(out, s.addresses)
	return out
}

func (s *Subchannel) UpdateConnectivityState(state domain.ConnectivityState, reason string, cause error) {
	s.mu.Lock()
	from := s.state
	s.state = state
	s.mu.Unlock()

	if s.log != nil {
		s.log.InfoConnectivityChange(s.id, from, state, reason)
		if cause != nil {
			s.log.WarnWithAddress("subchannel "+s.id+" transition cause:", cause.Error())
		}
	}
}

func (s *Subchannel) ID() string { return s.id }

// State returns the last published connectivity state, for callers that
// aren't subscribed to the eventbus (e.g. a one-shot CLI summary).
func (s *Subchannel) State() domain.ConnectivityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
