package match

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
	"github.com/rs/xid"
)

// Topic selects which market data stream a subscription receives.
type Topic string

const (
	TopicDepth  Topic = "depth"  // incremental depth updates
	TopicBBO    Topic = "bbo"    // best bid/offer change notifications
	TopicTrades Topic = "trades" // trade prints
)

const (
	defaultEventRing        = 65536
	defaultSubscriberBuffer = 256
	defaultTradeHistory     = 1000
)

// DepthUpdate is one incremental change to a price level's aggregate size.
type DepthUpdate struct {
	Symbol   string `json:"symbol"`
	Sequence uint64 `json:"sequence"`
	Side     Side   `json:"side"`
	Price    string `json:"price"`
	Size     string `json:"size"` // new aggregate at the level, "0" when removed
	Removed  bool   `json:"removed"`
}

// MarketDataMessage is the envelope delivered to subscribers. Exactly one
// of Depth, BBO, Trade is set, matching Topic.
type MarketDataMessage struct {
	Topic    Topic                    `json:"topic"`
	Symbol   string                   `json:"symbol"`
	Sequence uint64                   `json:"sequence"`
	Depth    *DepthUpdate             `json:"depth,omitempty"`
	BBO      *protocol.GetBBOResponse `json:"bbo,omitempty"`
	Trade    *Trade                   `json:"trade,omitempty"`
}

// Subscription is one subscriber's bounded view onto a symbol's streams.
// When the buffer overflows, events are dropped and the subscription is
// marked gapped; the subscriber must then fetch a fresh snapshot via
// GetDepth (or the publisher's replica) and resubscribe.
type Subscription struct {
	id     xid.ID
	symbol string
	topics map[Topic]struct{}
	gapped atomic.Bool
	pub    *Publisher

	// mu orders deliver against Close so the channel is never written
	// after it is closed.
	mu     sync.Mutex
	ch     chan *MarketDataMessage
	closed bool

	closeOnce sync.Once
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() xid.ID {
	return s.id
}

// Events returns the ordered message stream. The channel is closed by Close.
func (s *Subscription) Events() <-chan *MarketDataMessage {
	return s.ch
}

// Gapped reports whether messages were dropped because the subscriber fell
// behind. A gapped stream cannot be trusted for incremental depth; resync
// from a snapshot.
func (s *Subscription) Gapped() bool {
	return s.gapped.Load()
}

// Close unregisters the subscription and closes its channel. Safe to call
// concurrently with an in-flight fan-out and more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.pub.unsubscribe(s)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *Subscription) wants(topic Topic) bool {
	_, ok := s.topics[topic]
	return ok
}

// deliver never blocks: a closed subscription drops the message, and a full
// buffer drops it and marks the gap.
func (s *Subscription) deliver(msg *MarketDataMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- msg:
	default:
		s.gapped.Store(true)
	}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithEventRing sets the handoff ring capacity (power of 2).
func WithEventRing(n int64) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.ringSize = n
		}
	}
}

// WithSubscriberBuffer sets each subscription's buffered channel size.
func WithSubscriberBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.subBuffer = n
		}
	}
}

// WithTradeHistory sets how many recent trades are retained per symbol.
func WithTradeHistory(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.historyMax = n
		}
	}
}

// Publisher transforms the matching engine's ordered event stream into
// depth updates, BBO change notifications, and trade prints, and fans them
// out to subscribers without ever creating backpressure into the matching
// path: the executors hand events off through an MPSC ring, and slow
// subscribers lose messages instead of slowing anyone down.
//
// It also maintains a per-symbol AggregatedBook replica, which is what a
// gapped subscriber resyncs from, and a bounded recent-trade history.
type Publisher struct {
	ringSize   int64
	subBuffer  int
	historyMax int

	ring *RingBuffer[*BookEvent]

	mu       sync.RWMutex
	subs     map[string][]*Subscription
	replicas map[string]*AggregatedBook
	lastBBO  map[string]bboPair
	trades   map[string][]*Trade
}

type bboPair struct {
	bidPrice, bidSize string
	askPrice, askSize string
}

// NewPublisher creates a market data publisher. Call Start before wiring it
// into an engine.
func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		ringSize:   defaultEventRing,
		subBuffer:  defaultSubscriberBuffer,
		historyMax: defaultTradeHistory,
		subs:       make(map[string][]*Subscription),
		replicas:   make(map[string]*AggregatedBook),
		lastBBO:    make(map[string]bboPair),
		trades:     make(map[string][]*Trade),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.ring = NewRingBuffer[*BookEvent](p.ringSize, p)
	return p
}

// Start launches the fan-out consumer.
func (p *Publisher) Start() {
	p.ring.Start()
}

// Shutdown drains the ring and stops the consumer.
func (p *Publisher) Shutdown(ctx context.Context) error {
	return p.ring.Shutdown(ctx)
}

// Publish implements EventSink. Events are cloned before the handoff since
// the book recycles them once Publish returns.
func (p *Publisher) Publish(events ...*BookEvent) {
	for _, ev := range events {
		p.ring.Publish(ev.Clone())
	}
}

// Subscribe registers a subscriber for a symbol's streams. With no topics
// given, all topics are delivered.
func (p *Publisher) Subscribe(symbol string, topics ...Topic) *Subscription {
	wanted := make(map[Topic]struct{}, len(topics))
	if len(topics) == 0 {
		topics = []Topic{TopicDepth, TopicBBO, TopicTrades}
	}
	for _, t := range topics {
		wanted[t] = struct{}{}
	}

	sub := &Subscription{
		id:     xid.New(),
		symbol: symbol,
		topics: wanted,
		ch:     make(chan *MarketDataMessage, p.subBuffer),
		pub:    p,
	}

	p.mu.Lock()
	p.subs[symbol] = append(p.subs[symbol], sub)
	p.mu.Unlock()

	return sub
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subs[sub.symbol]
	for i, s := range subs {
		if s.id == sub.id {
			p.subs[sub.symbol] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Replica returns the publisher's aggregated view of a symbol's depth,
// creating it on first use.
func (p *Publisher) Replica(symbol string) *AggregatedBook {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replicaLocked(symbol)
}

func (p *Publisher) replicaLocked(symbol string) *AggregatedBook {
	replica, ok := p.replicas[symbol]
	if !ok {
		replica = NewAggregatedBook(symbol)
		p.replicas[symbol] = replica
	}
	return replica
}

// RecentTrades returns up to limit most recent trades for a symbol, newest
// last.
func (p *Publisher) RecentTrades(symbol string, limit int) []*Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()

	history := p.trades[symbol]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}

	out := make([]*Trade, limit)
	copy(out, history[len(history)-limit:])
	return out
}

// OnEvent consumes one event from the ring: apply it to the replica, derive
// the outbound messages, and fan them out in program order.
func (p *Publisher) OnEvent(ev *BookEvent) {
	p.mu.Lock()
	replica := p.replicaLocked(ev.Symbol)

	applied, err := replica.Replay(ev)
	if err != nil {
		p.mu.Unlock()
		logger.Error("market data replay failed", "symbol", ev.Symbol, "sequence", ev.Sequence, "error", err.Error())
		return
	}
	if !applied {
		p.mu.Unlock()
		return
	}

	var msgs []*MarketDataMessage

	if change := CalculateDepthChange(ev); !change.SizeDiff.IsZero() {
		msgs = append(msgs, p.depthMessage(replica, ev, change))
	}

	if bboMsg := p.bboMessage(replica, ev); bboMsg != nil {
		msgs = append(msgs, bboMsg)
	}

	if ev.Type == protocol.EventTypeMatch && ev.Trade != nil {
		trade := ev.Trade
		history := append(p.trades[ev.Symbol], trade)
		if len(history) > p.historyMax {
			history = history[len(history)-p.historyMax:]
		}
		p.trades[ev.Symbol] = history

		msgs = append(msgs, &MarketDataMessage{
			Topic:    TopicTrades,
			Symbol:   ev.Symbol,
			Sequence: ev.Sequence,
			Trade:    trade,
		})
	}

	// Copy the subscriber list: delivery happens outside the lock, and a
	// concurrent unsubscribe mutates the backing array.
	subs := make([]*Subscription, len(p.subs[ev.Symbol]))
	copy(subs, p.subs[ev.Symbol])
	p.mu.Unlock()

	for _, msg := range msgs {
		for _, sub := range subs {
			if sub.wants(msg.Topic) {
				sub.deliver(msg)
			}
		}
	}
}

func (p *Publisher) depthMessage(replica *AggregatedBook, ev *BookEvent, change DepthChange) *MarketDataMessage {
	update := &DepthUpdate{
		Symbol:   ev.Symbol,
		Sequence: ev.Sequence,
		Side:     change.Side,
		Price:    change.Price.String(),
	}

	if size, ok := replica.Level(change.Side, change.Price); ok {
		update.Size = size.String()
	} else {
		update.Size = udecimal.Zero.String()
		update.Removed = true
	}

	return &MarketDataMessage{
		Topic:    TopicDepth,
		Symbol:   ev.Symbol,
		Sequence: ev.Sequence,
		Depth:    update,
	}
}

// bboMessage returns a BBO notification when the event changed the top of
// the book, nil otherwise.
func (p *Publisher) bboMessage(replica *AggregatedBook, ev *BookEvent) *MarketDataMessage {
	current := bboPair{}
	resp := &protocol.GetBBOResponse{
		Symbol:   ev.Symbol,
		Sequence: ev.Sequence,
	}

	if price, size, ok := replica.BestBid(); ok {
		current.bidPrice, current.bidSize = price.String(), size.String()
		resp.BidPrice, resp.BidSize = current.bidPrice, current.bidSize
	}
	if price, size, ok := replica.BestAsk(); ok {
		current.askPrice, current.askSize = price.String(), size.String()
		resp.AskPrice, resp.AskSize = current.askPrice, current.askSize
	}

	if last := p.lastBBO[ev.Symbol]; last == current {
		return nil
	}
	p.lastBBO[ev.Symbol] = current

	return &MarketDataMessage{
		Topic:    TopicBBO,
		Symbol:   ev.Symbol,
		Sequence: ev.Sequence,
		BBO:      resp,
	}
}
