package transport

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/core/ports"
)

// streamEntry is one (address, socket, stream) tuple from spec.md §3's
// activeStreams set. Go streams don't have the reference equality the
// original design matches on (spec.md §9, "Open question: stream-dispose
// identity"), so each entry carries an explicit integer id assigned at
// creation and matched on dispose.
type streamEntry struct {
	socket  ports.Socket
	address domain.Address
	id      uint64
}

// streamRegistry tracks outstanding streams handed out by GetStream and
// reports when the last one closes, which is the trigger for an idle
// transition (spec.md §4.4). Backed by xsync's lock-free map since streams
// can be disposed concurrently from arbitrary goroutines.
type streamRegistry struct {
	entries *xsync.Map[uint64, *streamEntry]
	nextID  atomic.Uint64
	count   atomic.Int64
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{entries: xsync.NewMap[uint64, *streamEntry]()}
}

// add registers a new stream and returns its id, used later to remove it.
func (r *streamRegistry) add(address domain.Address, socket ports.Socket) uint64 {
	id := r.nextID.Add(1)
	r.entries.Store(id, &streamEntry{id: id, address: address, socket: socket})
	r.count.Add(1)
	return id
}

// remove deletes the entry for id and reports whether the registry became
// empty as a result — the signal that drives the idle transition.
func (r *streamRegistry) remove(id uint64) (becameEmpty bool) {
	if _, existed := r.entries.Load(id); !existed {
		return false
	}
	r.entries.Delete(id)
	remaining := r.count.Add(-1)
	return remaining == 0
}

func (r *streamRegistry) size() int {
	return int(r.count.Load())
}
