package match

import (
	"context"
	"testing"
	"time"

	"github.com/quantex/matching-engine/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestPublisher(t *testing.T, opts ...PublisherOption) *Publisher {
	t.Helper()

	pub := NewPublisher(opts...)
	pub.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pub.Shutdown(ctx)
	})

	return pub
}

// collectMessages drains n messages from a subscription or fails the test.
func collectMessages(t *testing.T, sub *Subscription, n int) []*MarketDataMessage {
	t.Helper()

	msgs := make([]*MarketDataMessage, 0, n)
	timeout := time.After(1 * time.Second)
	for len(msgs) < n {
		select {
		case msg := <-sub.Events():
			msgs = append(msgs, msg)
		case <-timeout:
			t.Fatalf("got %d of %d expected messages", len(msgs), n)
		}
	}
	return msgs
}

func TestPublisherStreams(t *testing.T) {
	ctx := context.Background()
	pub := startTestPublisher(t)
	engine := newTestEngine(t, pub, "BTC-USDT")

	sub := pub.Subscribe("BTC-USDT")
	defer sub.Close()

	_, err := engine.SubmitOrder(ctx, limitReq("BTC-USDT", Buy, 100, 10))
	require.NoError(t, err)

	// An open event yields a depth update and a BBO change.
	msgs := collectMessages(t, sub, 2)
	assert.Equal(t, TopicDepth, msgs[0].Topic)
	require.NotNil(t, msgs[0].Depth)
	assert.Equal(t, Buy, msgs[0].Depth.Side)
	assert.Equal(t, "100", msgs[0].Depth.Price)
	assert.Equal(t, "10", msgs[0].Depth.Size)
	assert.False(t, msgs[0].Depth.Removed)

	assert.Equal(t, TopicBBO, msgs[1].Topic)
	require.NotNil(t, msgs[1].BBO)
	assert.Equal(t, "100", msgs[1].BBO.BidPrice)
	assert.Equal(t, "10", msgs[1].BBO.BidSize)
	assert.Empty(t, msgs[1].BBO.AskPrice)

	_, err = engine.SubmitOrder(ctx, limitReq("BTC-USDT", Sell, 100, 4))
	require.NoError(t, err)

	// A match shrinks the bid level, moves the BBO, and prints the trade.
	msgs = collectMessages(t, sub, 3)
	assert.Equal(t, TopicDepth, msgs[0].Topic)
	require.NotNil(t, msgs[0].Depth)
	assert.Equal(t, Buy, msgs[0].Depth.Side)
	assert.Equal(t, "6", msgs[0].Depth.Size)

	assert.Equal(t, TopicBBO, msgs[1].Topic)
	assert.Equal(t, "6", msgs[1].BBO.BidSize)

	assert.Equal(t, TopicTrades, msgs[2].Topic)
	require.NotNil(t, msgs[2].Trade)
	assert.True(t, msgs[2].Trade.Price.Equal(d(100)))
	assert.True(t, msgs[2].Trade.Quantity.Equal(d(4)))
	assert.Equal(t, Sell, msgs[2].Trade.TakerSide)

	// Messages stay in event order.
	var last uint64
	for _, msg := range msgs {
		assert.GreaterOrEqual(t, msg.Sequence, last)
		last = msg.Sequence
	}
}

func TestPublisherTopicFilter(t *testing.T) {
	ctx := context.Background()
	pub := startTestPublisher(t)
	engine := newTestEngine(t, pub, "BTC-USDT")

	trades := pub.Subscribe("BTC-USDT", TopicTrades)
	defer trades.Close()

	_, err := engine.SubmitOrder(ctx, limitReq("BTC-USDT", Buy, 100, 5))
	require.NoError(t, err)
	_, err = engine.SubmitOrder(ctx, limitReq("BTC-USDT", Sell, 100, 5))
	require.NoError(t, err)

	msgs := collectMessages(t, trades, 1)
	assert.Equal(t, TopicTrades, msgs[0].Topic)
	require.NotNil(t, msgs[0].Trade)

	// No depth or BBO traffic leaks through.
	select {
	case msg := <-trades.Events():
		t.Fatalf("unexpected %s message", msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberGapsAndResyncs(t *testing.T) {
	ctx := context.Background()
	pub := startTestPublisher(t, WithSubscriberBuffer(1))
	engine := newTestEngine(t, pub, "BTC-USDT")

	sub := pub.Subscribe("BTC-USDT", TopicDepth)
	defer sub.Close()

	// Nobody reads sub; flooding it must mark the gap, never block.
	for i := int64(0); i < 20; i++ {
		_, err := engine.SubmitOrder(ctx, limitReq("BTC-USDT", Buy, 100-i, 1))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return sub.Gapped()
	}, 1*time.Second, 10*time.Millisecond)

	// The matching path is unaffected.
	stats, err := engine.Stats(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), stats.OrdersProcessed)

	// Resync path: seed a fresh replica from an authoritative snapshot and
	// verify it converges with the publisher's own replica.
	depth, err := engine.GetDepth(ctx, "BTC-USDT", 100)
	require.NoError(t, err)

	fresh := NewAggregatedBook("BTC-USDT")
	require.NoError(t, fresh.Seed(depth))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(fresh.Depth(100).Bids, pub.Replica("BTC-USDT").Depth(100).Bids)
	}, 1*time.Second, 10*time.Millisecond)
}

func TestRecentTrades(t *testing.T) {
	ctx := context.Background()
	pub := startTestPublisher(t)
	engine := newTestEngine(t, pub, "BTC-USDT")

	_, err := engine.SubmitOrder(ctx, limitReq("BTC-USDT", Buy, 100, 10))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = engine.SubmitOrder(ctx, limitReq("BTC-USDT", Sell, 100, 1))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(pub.RecentTrades("BTC-USDT", 0)) == 3
	}, 1*time.Second, 10*time.Millisecond)

	all := pub.RecentTrades("BTC-USDT", 0)
	require.Len(t, all, 3)
	assert.Less(t, all[0].Sequence, all[2].Sequence)

	// Limit returns the newest trades.
	last2 := pub.RecentTrades("BTC-USDT", 2)
	require.Len(t, last2, 2)
	assert.Equal(t, all[1].ID, last2[0].ID)
	assert.Equal(t, all[2].ID, last2[1].ID)

	assert.Empty(t, pub.RecentTrades("ETH-USDT", 0))
}

func TestReplicaTracksBook(t *testing.T) {
	ctx := context.Background()
	pub := startTestPublisher(t)
	engine := newTestEngine(t, pub, "BTC-USDT")

	_, err := engine.SubmitOrder(ctx, limitReq("BTC-USDT", Buy, 100, 5))
	require.NoError(t, err)
	_, err = engine.SubmitOrder(ctx, limitReq("BTC-USDT", Buy, 99, 2))
	require.NoError(t, err)
	_, err = engine.SubmitOrder(ctx, limitReq("BTC-USDT", Sell, 101, 4))
	require.NoError(t, err)
	_, err = engine.SubmitOrder(ctx, limitReq("BTC-USDT", Sell, 100, 3))
	require.NoError(t, err)

	depth, err := engine.GetDepth(ctx, "BTC-USDT", 100)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got := pub.Replica("BTC-USDT").Depth(100)
		return assert.ObjectsAreEqual(stripCounts(depth.Bids), got.Bids) &&
			assert.ObjectsAreEqual(stripCounts(depth.Asks), got.Asks)
	}, 1*time.Second, 10*time.Millisecond)

	price, size, ok := pub.Replica("BTC-USDT").BestBid()
	require.True(t, ok)
	assert.True(t, price.Equal(d(100)))
	assert.True(t, size.Equal(d(2)))
}

// stripCounts drops per-level order counts, which replicas do not track.
func stripCounts(items []*protocol.DepthItem) []*protocol.DepthItem {
	out := make([]*protocol.DepthItem, 0, len(items))
	for _, item := range items {
		out = append(out, &protocol.DepthItem{Price: item.Price, Size: item.Size})
	}
	return out
}

func TestDeliverAfterCloseDoesNotPanic(t *testing.T) {
	pub := startTestPublisher(t)

	sub := pub.Subscribe(testSymbol)
	sub.Close()

	// A fan-out that raced the Close drops the message instead of writing
	// to the closed channel.
	assert.NotPanics(t, func() {
		sub.deliver(&MarketDataMessage{Topic: TopicDepth, Symbol: testSymbol})
	})
	assert.False(t, sub.Gapped())
}

func TestCloseDuringFanout(t *testing.T) {
	pub := startTestPublisher(t)

	subs := make([]*Subscription, 0, 8)
	for i := 0; i < 8; i++ {
		subs = append(subs, pub.Subscribe(testSymbol, TopicDepth))
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for _, sub := range subs {
			sub.Close()
		}
	}()

	for i := uint64(1); i <= 200; i++ {
		pub.Publish(testEvent(i, protocol.EventTypeOpen, Buy, int64(i), 1))
	}
	<-closed

	// The fan-out consumer survived every racing Close.
	assert.Eventually(t, func() bool {
		return pub.Replica(testSymbol).LastSequence() == 200
	}, 1*time.Second, 10*time.Millisecond)

	pub.mu.RLock()
	defer pub.mu.RUnlock()
	assert.Empty(t, pub.subs[testSymbol])
}

func TestSubscriptionClose(t *testing.T) {
	pub := startTestPublisher(t)

	sub := pub.Subscribe("BTC-USDT")
	assert.False(t, sub.ID().IsNil())

	sub.Close()
	sub.Close() // idempotent

	_, open := <-sub.Events()
	assert.False(t, open)

	pub.mu.RLock()
	defer pub.mu.RUnlock()
	assert.Empty(t, pub.subs["BTC-USDT"])
}
