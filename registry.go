package match

import (
	"fmt"
	"sync/atomic"

	"github.com/quantex/matching-engine/protocol"
)

// orderIDs is the process-wide order ID source. It sits outside the
// per-symbol hot path, so a shared atomic is enough.
var orderIDs atomic.Uint64

// nextOrderID returns a unique, monotonically increasing order ID.
func nextOrderID() uint64 {
	return orderIDs.Add(1)
}

// registry is the single source of truth for order state within one symbol.
// It is mutated exclusively by the symbol's executor goroutine, so it needs
// no locking of its own.
//
// Closed orders are retained for a bounded window so late cancels and status
// queries get a precise AlreadyTerminal answer instead of NotFound, then
// evicted oldest first.
type registry struct {
	orders    map[uint64]*Order
	retention []uint64 // FIFO of closed order IDs pending eviction
	retainMax int
	head      int // index of the oldest retained entry
}

func newRegistry(retainMax int) *registry {
	return &registry{
		orders:    make(map[uint64]*Order),
		retainMax: retainMax,
	}
}

// insert registers a newly accepted order.
func (r *registry) insert(order *Order) {
	r.orders[order.ID] = order
}

// lookup returns the order for id, or nil.
func (r *registry) lookup(id uint64) *Order {
	return r.orders[id]
}

// transition moves an order's status forward. A transition out of a closed
// order is a programming error, reported as an invariant violation rather
// than a user error.
func (r *registry) transition(order *Order, status OrderStatus) error {
	if order.closed {
		return &InvariantError{
			Symbol: order.Symbol,
			Detail: fmt.Sprintf("transition of closed order %d to %s", order.ID, status),
		}
	}
	order.Status = status
	return nil
}

// close ends an order's life. No further transition is permitted; the record
// stays queryable until the retention window pushes it out.
func (r *registry) close(order *Order, status OrderStatus) error {
	if err := r.transition(order, status); err != nil {
		return err
	}
	order.closed = true
	if err := verifyStatus(order); err != nil {
		return err
	}
	r.retain(order.ID)
	return nil
}

func (r *registry) retain(id uint64) {
	r.retention = append(r.retention, id)
	for len(r.retention)-r.head > r.retainMax {
		evict := r.retention[r.head]
		delete(r.orders, evict)
		r.head++
	}
	// Compact once the dead prefix dominates.
	if r.head > r.retainMax {
		r.retention = append(r.retention[:0], r.retention[r.head:]...)
		r.head = 0
	}
}

// size returns the number of live plus retained orders.
func (r *registry) size() int {
	return len(r.orders)
}

// verifyStatus asserts the status/remaining invariant for a single order.
func verifyStatus(order *Order) error {
	switch order.Status {
	case protocol.StatusFilled:
		if !order.Remaining.IsZero() {
			return &InvariantError{
				Symbol: order.Symbol,
				Detail: fmt.Sprintf("filled order %d has remaining %s", order.ID, order.Remaining.String()),
			}
		}
	case protocol.StatusRejected, protocol.StatusKilled:
		if !order.Filled.IsZero() {
			return &InvariantError{
				Symbol: order.Symbol,
				Detail: fmt.Sprintf("%s order %d has fills", order.Status, order.ID),
			}
		}
	}
	return nil
}
