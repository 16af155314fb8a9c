package match

import (
	"github.com/huandu/skiplist"
	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
)

// priceLevel is a FIFO of orders resting at one exact price.
// totalSize is the sum of member orders' remaining quantities, maintained
// incrementally on every mutation.
type priceLevel struct {
	price     udecimal.Decimal
	totalSize udecimal.Decimal
	count     int64
	head      *Order
	tail      *Order
}

// sideQueue holds one side of a book: a skiplist of price levels ordered
// best-first, an O(1) price index, and an O(1) order membership index.
type sideQueue struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[udecimal.Decimal]*skiplist.Element
	orders      map[uint64]*Order
}

// newBidQueue creates the buy side, sorted by price descending.
func newBidQueue() *sideQueue {
	return &sideQueue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(udecimal.Decimal)
			d2, _ := rhs.(udecimal.Decimal)

			if d1.LessThan(d2) {
				return 1
			} else if d1.GreaterThan(d2) {
				return -1
			}

			return 0
		})),
		priceList: make(map[udecimal.Decimal]*skiplist.Element),
		orders:    make(map[uint64]*Order),
	}
}

// newAskQueue creates the sell side, sorted by price ascending.
func newAskQueue() *sideQueue {
	return &sideQueue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(udecimal.Decimal)
			d2, _ := rhs.(udecimal.Decimal)

			if d1.GreaterThan(d2) {
				return 1
			} else if d1.LessThan(d2) {
				return -1
			}

			return 0
		})),
		priceList: make(map[udecimal.Decimal]*skiplist.Element),
		orders:    make(map[uint64]*Order),
	}
}

// order finds a resting order by its ID.
func (q *sideQueue) order(id uint64) *Order {
	return q.orders[id]
}

// insertOrder rests an order at the tail of its price level, creating the
// level when absent. FIFO position within a level follows insertion order,
// which the caller guarantees equals sequence order.
func (q *sideQueue) insertOrder(order *Order) {
	el, ok := q.priceList[order.Price]
	if ok {
		level, _ := el.Value.(*priceLevel)
		order.prev = level.tail
		order.next = nil
		if level.tail != nil {
			level.tail.next = order
		}
		level.tail = order
		if level.head == nil {
			level.head = order
		}

		level.totalSize = level.totalSize.Add(order.Remaining)
		level.count++
		q.orders[order.ID] = order
		q.totalOrders++
	} else {
		level := &priceLevel{
			price:     order.Price,
			head:      order,
			tail:      order,
			totalSize: order.Remaining,
			count:     1,
		}
		order.next = nil
		order.prev = nil

		q.orders[order.ID] = order

		el := q.depthList.Set(order.Price, level)
		q.priceList[order.Price] = el

		q.totalOrders++
		q.depths++
	}
}

// removeOrder unlinks an order from its level in O(1) and drops the level
// when it empties.
func (q *sideQueue) removeOrder(id uint64) bool {
	order, ok := q.orders[id]
	if !ok {
		return false
	}

	skipElement, ok := q.priceList[order.Price]
	if !ok {
		return false
	}
	level, _ := skipElement.Value.(*priceLevel)

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		level.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		level.tail = order.prev
	}

	// Clear pointers so recycled orders never alias the list.
	order.next = nil
	order.prev = nil

	level.totalSize = level.totalSize.Sub(order.Remaining)
	level.count--
	delete(q.orders, id)
	q.totalOrders--

	if level.count == 0 {
		q.depthList.RemoveElement(skipElement)
		delete(q.priceList, order.Price)
		q.depths--
	}
	return true
}

// fillOrder applies a partial fill to a resting order in place, preserving
// its FIFO position and keeping the level aggregate in lockstep with the
// order's remaining quantity. qty must be less than the order's remaining;
// full consumption goes through removeOrder instead.
func (q *sideQueue) fillOrder(order *Order, qty udecimal.Decimal) {
	order.Remaining = order.Remaining.Sub(qty)
	order.Filled = order.Filled.Add(qty)

	if skipElement, ok := q.priceList[order.Price]; ok {
		level, _ := skipElement.Value.(*priceLevel)
		level.totalSize = level.totalSize.Sub(qty)
	}
}

// peekHead returns the first order of the best level without removing it.
func (q *sideQueue) peekHead() *Order {
	el := q.depthList.Front()
	if el == nil {
		return nil
	}

	level, _ := el.Value.(*priceLevel)
	return level.head
}

// bestPrice returns the best level's price and aggregate size.
// ok is false when the side is empty.
func (q *sideQueue) bestPrice() (price, size udecimal.Decimal, ok bool) {
	el := q.depthList.Front()
	if el == nil {
		return udecimal.Zero, udecimal.Zero, false
	}

	level, _ := el.Value.(*priceLevel)
	return level.price, level.totalSize, true
}

// crossesLimit reports whether a resting price on this side satisfies an
// incoming order's limit from the other side. Market orders pass limitless.
func (q *sideQueue) crossesLimit(restingPrice, limit udecimal.Decimal, isMarket bool) bool {
	if isMarket {
		return true
	}
	if q.side == Sell {
		// Incoming buy crosses while the ask price <= its limit.
		return restingPrice.LessThanOrEqual(limit)
	}
	// Incoming sell crosses while the bid price >= its limit.
	return restingPrice.GreaterThanOrEqual(limit)
}

// crossableSize sums the quantity available across levels an incoming order
// with the given limit could legally cross, stopping early once target is
// reached. Used by the FOK pre-check; never mutates.
func (q *sideQueue) crossableSize(limit udecimal.Decimal, isMarket bool, target udecimal.Decimal) udecimal.Decimal {
	sum := udecimal.Zero

	for el := q.depthList.Front(); el != nil; el = el.Next() {
		level, _ := el.Value.(*priceLevel)
		if !q.crossesLimit(level.price, limit, isMarket) {
			break
		}
		sum = sum.Add(level.totalSize)
		if sum.GreaterThanOrEqual(target) {
			break
		}
	}

	return sum
}

// walk visits levels best-first while fn returns true. Read-only: mutation
// stays with the matching loop so partial consumption of a level is explicit.
func (q *sideQueue) walk(fn func(level *priceLevel) bool) {
	for el := q.depthList.Front(); el != nil; el = el.Next() {
		level, _ := el.Value.(*priceLevel)
		if !fn(level) {
			return
		}
	}
}

// orderCount returns the total number of resting orders on this side.
func (q *sideQueue) orderCount() int64 {
	return q.totalOrders
}

// depthCount returns the number of price levels on this side.
func (q *sideQueue) depthCount() int64 {
	return q.depths
}

// depth returns up to limit levels, best first.
func (q *sideQueue) depth(limit uint32) []*protocol.DepthItem {
	capHint := int64(limit)
	if q.depths < capHint {
		capHint = q.depths
	}
	result := make([]*protocol.DepthItem, 0, capHint)

	el := q.depthList.Front()

	var i uint32
	for i < limit && el != nil {
		level, _ := el.Value.(*priceLevel)
		result = append(result, &protocol.DepthItem{
			Price: level.price.String(),
			Size:  level.totalSize.String(),
			Count: level.count,
		})

		el = el.Next()
		i++
	}

	return result
}

// verifyLevels recomputes each level's aggregate from its members and
// reports the first mismatch. O(n); intended for tests and halt diagnostics.
func (q *sideQueue) verifyLevels() bool {
	ok := true
	q.walk(func(level *priceLevel) bool {
		sum := udecimal.Zero
		var n int64
		for o := level.head; o != nil; o = o.next {
			sum = sum.Add(o.Remaining)
			n++
		}
		if !sum.Equal(level.totalSize) || n != level.count {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// toSnapshot serializes the side into orders in priority order (best level
// first, FIFO within a level).
func (q *sideQueue) toSnapshot() []Order {
	snapshots := make([]Order, 0, q.totalOrders)

	for el := q.depthList.Front(); el != nil; el = el.Next() {
		level := el.Value.(*priceLevel)

		for order := level.head; order != nil; order = order.next {
			cpy := *order
			cpy.next = nil
			cpy.prev = nil
			snapshots = append(snapshots, cpy)
		}
	}

	return snapshots
}
