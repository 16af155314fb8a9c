package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideQueueOrdering(t *testing.T) {
	t.Run("bids are sorted best first, descending", func(t *testing.T) {
		q := newBidQueue()
		q.insertOrder(newTestOrder(Buy, Limit, 80, 1))
		q.insertOrder(newTestOrder(Buy, Limit, 100, 1))
		q.insertOrder(newTestOrder(Buy, Limit, 90, 1))

		items := q.depth(10)
		require.Len(t, items, 3)
		assert.Equal(t, "100", items[0].Price)
		assert.Equal(t, "90", items[1].Price)
		assert.Equal(t, "80", items[2].Price)

		price, _, ok := q.bestPrice()
		require.True(t, ok)
		assert.True(t, price.Equal(d(100)))
	})

	t.Run("asks are sorted best first, ascending", func(t *testing.T) {
		q := newAskQueue()
		q.insertOrder(newTestOrder(Sell, Limit, 120, 1))
		q.insertOrder(newTestOrder(Sell, Limit, 100, 1))
		q.insertOrder(newTestOrder(Sell, Limit, 110, 1))

		items := q.depth(10)
		require.Len(t, items, 3)
		assert.Equal(t, "100", items[0].Price)
		assert.Equal(t, "110", items[1].Price)
		assert.Equal(t, "120", items[2].Price)
	})

	t.Run("depth respects the level limit", func(t *testing.T) {
		q := newAskQueue()
		for p := int64(100); p < 110; p++ {
			q.insertOrder(newTestOrder(Sell, Limit, p, 1))
		}

		items := q.depth(3)
		require.Len(t, items, 3)
		assert.Equal(t, "100", items[0].Price)
		assert.Equal(t, "102", items[2].Price)
		assert.Equal(t, int64(10), q.depthCount())
	})
}

func TestSideQueueFIFO(t *testing.T) {
	q := newBidQueue()

	first := newTestOrder(Buy, Limit, 100, 1)
	second := newTestOrder(Buy, Limit, 100, 2)
	third := newTestOrder(Buy, Limit, 100, 3)
	q.insertOrder(first)
	q.insertOrder(second)
	q.insertOrder(third)

	assert.Equal(t, int64(1), q.depthCount())
	assert.Equal(t, int64(3), q.orderCount())

	head := q.peekHead()
	require.NotNil(t, head)
	assert.Equal(t, first.ID, head.ID)

	assert.Equal(t, second, q.order(second.ID))
	assert.Nil(t, q.order(99999999))

	// Removing the middle order keeps head and tail linked.
	require.True(t, q.removeOrder(second.ID))
	assert.Equal(t, first.ID, q.peekHead().ID)
	assert.Equal(t, third.ID, q.peekHead().next.ID)
	assert.Nil(t, q.peekHead().next.next)

	require.True(t, q.removeOrder(first.ID))
	assert.Equal(t, third.ID, q.peekHead().ID)

	require.True(t, q.removeOrder(third.ID))
	assert.Nil(t, q.peekHead())
	assert.Equal(t, int64(0), q.depthCount())
	assert.Equal(t, int64(0), q.orderCount())
}

func TestSideQueueLevelAggregates(t *testing.T) {
	q := newAskQueue()

	a := newTestOrder(Sell, Limit, 100, 5)
	b := newTestOrder(Sell, Limit, 100, 3)
	q.insertOrder(a)
	q.insertOrder(b)

	_, size, ok := q.bestPrice()
	require.True(t, ok)
	assert.True(t, size.Equal(d(8)))

	q.fillOrder(a, d(2))
	assert.True(t, a.Remaining.Equal(d(3)))
	assert.True(t, a.Filled.Equal(d(2)))

	_, size, _ = q.bestPrice()
	assert.True(t, size.Equal(d(6)))
	assert.True(t, q.verifyLevels())

	require.True(t, q.removeOrder(a.ID))
	_, size, _ = q.bestPrice()
	assert.True(t, size.Equal(d(3)))
	assert.True(t, q.verifyLevels())
}

func TestSideQueueRemoveUnknownOrder(t *testing.T) {
	q := newBidQueue()
	assert.False(t, q.removeOrder(42))
}

func TestCrossesLimit(t *testing.T) {
	asks := newAskQueue()
	bids := newBidQueue()

	// Incoming buy against the ask side.
	assert.True(t, asks.crossesLimit(d(100), d(100), false))
	assert.True(t, asks.crossesLimit(d(99), d(100), false))
	assert.False(t, asks.crossesLimit(d(101), d(100), false))

	// Incoming sell against the bid side.
	assert.True(t, bids.crossesLimit(d(100), d(100), false))
	assert.True(t, bids.crossesLimit(d(101), d(100), false))
	assert.False(t, bids.crossesLimit(d(99), d(100), false))

	// Market orders cross anything.
	assert.True(t, asks.crossesLimit(d(999999), d(0), true))
	assert.True(t, bids.crossesLimit(d(1), d(0), true))
}

func TestCrossableSize(t *testing.T) {
	q := newAskQueue()
	q.insertOrder(newTestOrder(Sell, Limit, 100, 5))
	q.insertOrder(newTestOrder(Sell, Limit, 101, 5))
	q.insertOrder(newTestOrder(Sell, Limit, 102, 5))

	t.Run("stops at the limit price", func(t *testing.T) {
		sum := q.crossableSize(d(101), false, d(100))
		assert.True(t, sum.Equal(d(10)))
	})

	t.Run("stops early once the target is reached", func(t *testing.T) {
		sum := q.crossableSize(d(102), false, d(7))
		// The second level pushes the sum past the target; the third is
		// never visited.
		assert.True(t, sum.Equal(d(10)))
	})

	t.Run("market sees the whole side", func(t *testing.T) {
		sum := q.crossableSize(d(0), true, d(100))
		assert.True(t, sum.Equal(d(15)))
	})

	t.Run("empty side sums to zero", func(t *testing.T) {
		empty := newAskQueue()
		assert.True(t, empty.crossableSize(d(100), false, d(1)).IsZero())
	})
}

func TestSideQueueSnapshotOrder(t *testing.T) {
	q := newBidQueue()

	bestFirst := newTestOrder(Buy, Limit, 100, 1)
	bestSecond := newTestOrder(Buy, Limit, 100, 2)
	worse := newTestOrder(Buy, Limit, 90, 3)
	q.insertOrder(worse)
	q.insertOrder(bestFirst)
	q.insertOrder(bestSecond)

	snap := q.toSnapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, bestFirst.ID, snap[0].ID)
	assert.Equal(t, bestSecond.ID, snap[1].ID)
	assert.Equal(t, worse.ID, snap[2].ID)

	// Snapshot copies carry no list linkage.
	assert.Nil(t, snap[0].next)
	assert.Nil(t, snap[1].prev)
}
