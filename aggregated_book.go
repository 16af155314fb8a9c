package match

import (
	"fmt"
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
)

// AggregatedBook is a subscriber-side replica of one symbol's depth: price
// levels and their aggregate sizes only, no individual orders. It is seeded
// from a depth snapshot and kept current by replaying the event stream, the
// resync path a gapped subscriber follows.
//
// Both sides are keyed so forward iteration is best-first.
type AggregatedBook struct {
	mu      sync.RWMutex
	symbol  string
	lastSeq uint64
	bid     *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]
	ask     *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]
}

// NewAggregatedBook creates an empty replica for a symbol.
func NewAggregatedBook(symbol string) *AggregatedBook {
	return &AggregatedBook{
		symbol: symbol,
		bid: treemap.NewWithKeyCompare[udecimal.Decimal, udecimal.Decimal](func(a, b udecimal.Decimal) bool {
			return a.GreaterThan(b) // best bid first
		}),
		ask: treemap.NewWithKeyCompare[udecimal.Decimal, udecimal.Decimal](func(a, b udecimal.Decimal) bool {
			return a.LessThan(b) // best ask first
		}),
	}
}

// LastSequence returns the last applied sequence, used for synchronization
// and deduplication during rebuild.
func (ab *AggregatedBook) LastSequence() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.lastSeq
}

// Seed resets the replica from a depth snapshot. Deltas at or below the
// snapshot's sequence are already reflected and will be ignored by Replay.
func (ab *AggregatedBook) Seed(depth *protocol.GetDepthResponse) error {
	if depth == nil || depth.Symbol != ab.symbol {
		return ErrInvalidParam
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.bid.Clear()
	ab.ask.Clear()

	load := func(items []*protocol.DepthItem, tm *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]) error {
		for _, item := range items {
			price, err := udecimal.Parse(item.Price)
			if err != nil {
				return fmt.Errorf("bad depth price %q: %w", item.Price, err)
			}
			size, err := udecimal.Parse(item.Size)
			if err != nil {
				return fmt.Errorf("bad depth size %q: %w", item.Size, err)
			}
			tm.Set(price, size)
		}
		return nil
	}

	if err := load(depth.Bids, ab.bid); err != nil {
		return err
	}
	if err := load(depth.Asks, ab.ask); err != nil {
		return err
	}

	ab.lastSeq = depth.Sequence
	return nil
}

// Replay applies one book event. Events at or below the last applied
// sequence are skipped (deduplication after a snapshot seed); applied
// reports whether the event advanced the replica. Kill and reject events
// carry no depth change but still advance the sequence.
func (ab *AggregatedBook) Replay(ev *BookEvent) (applied bool, err error) {
	if ev == nil || ev.Symbol != ab.symbol {
		return false, ErrInvalidParam
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ev.Sequence <= ab.lastSeq {
		return false, nil
	}

	change := CalculateDepthChange(ev)
	if !change.SizeDiff.IsZero() {
		ab.applyChange(change)
	}

	ab.lastSeq = ev.Sequence
	return true, nil
}

func (ab *AggregatedBook) applyChange(change DepthChange) {
	tm := ab.ask
	if change.Side == Buy {
		tm = ab.bid
	}

	size, ok := tm.Get(change.Price)
	if !ok {
		size = udecimal.Zero
	}
	size = size.Add(change.SizeDiff)

	if size.GreaterThan(udecimal.Zero) {
		tm.Set(change.Price, size)
	} else {
		tm.Del(change.Price)
	}
}

// Level returns the aggregate size at a price level, or false when the
// level does not exist.
func (ab *AggregatedBook) Level(side Side, price udecimal.Decimal) (udecimal.Decimal, bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	tm := ab.ask
	if side == Buy {
		tm = ab.bid
	}
	return tm.Get(price)
}

// BestBid returns the replica's best bid level.
func (ab *AggregatedBook) BestBid() (price, size udecimal.Decimal, ok bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return front(ab.bid)
}

// BestAsk returns the replica's best ask level.
func (ab *AggregatedBook) BestAsk() (price, size udecimal.Decimal, ok bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return front(ab.ask)
}

func front(tm *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]) (price, size udecimal.Decimal, ok bool) {
	it := tm.Iterator()
	if !it.Valid() {
		return udecimal.Zero, udecimal.Zero, false
	}
	return it.Key(), it.Value(), true
}

// Depth returns up to limit levels per side, best first. A zero limit
// returns every level.
func (ab *AggregatedBook) Depth(limit uint32) *protocol.GetDepthResponse {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	if limit == 0 {
		limit = ^uint32(0)
	}

	collect := func(tm *treemap.TreeMap[udecimal.Decimal, udecimal.Decimal]) []*protocol.DepthItem {
		capHint := tm.Len()
		if int(limit) < capHint {
			capHint = int(limit)
		}
		items := make([]*protocol.DepthItem, 0, capHint)
		var i uint32
		for it := tm.Iterator(); it.Valid() && i < limit; it.Next() {
			items = append(items, &protocol.DepthItem{
				Price: it.Key().String(),
				Size:  it.Value().String(),
			})
			i++
		}
		return items
	}

	return &protocol.GetDepthResponse{
		Symbol:   ab.symbol,
		Sequence: ab.lastSeq,
		Bids:     collect(ab.bid),
		Asks:     collect(ab.ask),
	}
}
