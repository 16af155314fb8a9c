package match

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
)

const (
	defaultCommandBuffer   = 32768
	defaultRetentionWindow = 65536
)

type commandType int

const (
	cmdPlaceOrder commandType = iota
	cmdCancelOrder
	cmdGetDepth
	cmdGetBBO
	cmdGetOrder
	cmdGetStats
	cmdSnapshot
)

// command is the unified carrier for everything entering the symbol's
// executor. A single channel keeps processing strictly serialized, which is
// what makes price-time priority deterministic.
type command struct {
	kind       commandType
	order      *Order // place
	orderID    uint64 // cancel / status lookup
	limit      uint32 // depth
	resp       chan any
	enqueuedAt time.Time
}

// cancelResult is sent back on a cancel command's response channel.
type cancelResult struct {
	err error
}

// OrderBookOption configures an OrderBook.
type OrderBookOption func(*OrderBook)

// WithCommandBuffer sets the capacity of the inbound command channel.
// A full channel rejects new commands immediately rather than queueing
// unboundedly, bounding worst-case latency.
func WithCommandBuffer(n int) OrderBookOption {
	return func(book *OrderBook) {
		if n > 0 {
			book.cmdBuffer = n
		}
	}
}

// WithRetentionWindow sets how many closed orders the registry keeps around
// to answer late cancel and status queries before evicting them.
func WithRetentionWindow(n int) OrderBookOption {
	return func(book *OrderBook) {
		if n > 0 {
			book.retention = n
		}
	}
}

// OrderBook owns one symbol's book state. All commands are processed one at
// a time by the Start loop; nothing else may touch the queues or registry.
type OrderBook struct {
	symbol           string
	seq              sequencer
	reg              *registry
	bidQueue         *sideQueue
	askQueue         *sideQueue
	cmdChan          chan command
	cmdBuffer        int
	retention        int
	done             chan struct{}
	shutdownComplete chan struct{}
	isShutdown       atomic.Bool
	halted           atomic.Bool
	sink             EventSink

	ordersProcessed uint64
	tradesExecuted  uint64

	// invariantErr records the first registry invariant failure seen while
	// matching; verifyBook promotes it to a halt at the command boundary.
	invariantErr error
}

// fail records an invariant failure detected mid-command.
func (book *OrderBook) fail(err error) {
	if err != nil && book.invariantErr == nil {
		book.invariantErr = err
	}
}

// NewOrderBook creates a new order book for one symbol. Events flow to sink
// in the exact order the mutations occurred.
func NewOrderBook(symbol string, sink EventSink, opts ...OrderBookOption) *OrderBook {
	book := &OrderBook{
		symbol:           symbol,
		cmdBuffer:        defaultCommandBuffer,
		retention:        defaultRetentionWindow,
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		sink:             sink,
	}

	for _, opt := range opts {
		opt(book)
	}

	book.reg = newRegistry(book.retention)
	book.bidQueue = newBidQueue()
	book.askQueue = newAskQueue()
	book.cmdChan = make(chan command, book.cmdBuffer)

	return book
}

// Symbol returns the symbol this book trades.
func (book *OrderBook) Symbol() string {
	return book.symbol
}

// Halted reports whether the book stopped after an invariant violation.
func (book *OrderBook) Halted() bool {
	return book.halted.Load()
}

// submit admits an order command. It never blocks: a full channel is
// explicit backpressure surfaced as ErrThrottled.
func (book *OrderBook) submit(order *Order) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}
	if book.halted.Load() {
		return ErrHalted
	}

	select {
	case book.cmdChan <- command{kind: cmdPlaceOrder, order: order, enqueuedAt: time.Now()}:
		return nil
	default:
		return ErrThrottled
	}
}

// cancel submits a cancellation and waits for the executor's verdict, so a
// cancel racing a fill resolves deterministically by acceptance order.
func (book *OrderBook) cancel(ctx context.Context, orderID uint64) error {
	if book.isShutdown.Load() {
		return ErrShutdown
	}
	if book.halted.Load() {
		return ErrHalted
	}

	respChan := make(chan any, 1)

	select {
	case book.cmdChan <- command{kind: cmdCancelOrder, orderID: orderID, resp: respChan}:
	default:
		return ErrThrottled
	}

	select {
	case res := <-respChan:
		return cancelVerdict(res)
	case <-book.shutdownComplete:
		// The executor exited; take a verdict that raced the exit, if any.
		select {
		case res := <-respChan:
			return cancelVerdict(res)
		default:
			return book.exitErr()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelVerdict(res any) error {
	if result, ok := res.(cancelResult); ok {
		return result.err
	}
	return nil
}

// exitErr reports why the executor is gone.
func (book *OrderBook) exitErr() error {
	if book.halted.Load() {
		return ErrHalted
	}
	return ErrShutdown
}

// query routes a read through the executor loop so the response reflects a
// command-consistent point-in-time state.
func (book *OrderBook) query(ctx context.Context, cmd command) (any, error) {
	if book.halted.Load() {
		return nil, ErrHalted
	}

	cmd.resp = make(chan any, 1)

	select {
	case book.cmdChan <- cmd:
	case <-book.done:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-cmd.resp:
		return queryResult(res)
	case <-book.shutdownComplete:
		// The executor exited; take a reply that raced the exit, if any.
		select {
		case res := <-cmd.resp:
			return queryResult(res)
		default:
			return nil, book.exitErr()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// queryResult separates data replies from the error markers drain and halt
// use to answer reads they will never serve.
func queryResult(res any) (any, error) {
	if err, ok := res.(error); ok {
		return nil, err
	}
	return res, nil
}

// Depth returns the current depth of the book up to limit levels per side.
// A zero limit returns the full book.
func (book *OrderBook) Depth(ctx context.Context, limit uint32) (*protocol.GetDepthResponse, error) {
	if limit == 0 {
		limit = ^uint32(0)
	}

	res, err := book.query(ctx, command{kind: cmdGetDepth, limit: limit})
	if err != nil {
		return nil, err
	}
	depth, _ := res.(*protocol.GetDepthResponse)
	return depth, nil
}

// BBO returns the best bid and offer.
func (book *OrderBook) BBO(ctx context.Context) (*protocol.GetBBOResponse, error) {
	res, err := book.query(ctx, command{kind: cmdGetBBO})
	if err != nil {
		return nil, err
	}
	bbo, _ := res.(*protocol.GetBBOResponse)
	return bbo, nil
}

// Order returns a copy of the order's current state, or ErrNotFound.
func (book *OrderBook) Order(ctx context.Context, orderID uint64) (*Order, error) {
	res, err := book.query(ctx, command{kind: cmdGetOrder, orderID: orderID})
	if err != nil {
		return nil, err
	}
	order, ok := res.(*Order)
	if !ok {
		return nil, ErrNotFound
	}
	return order, nil
}

// Stats returns usage statistics for the book.
func (book *OrderBook) Stats(ctx context.Context) (*protocol.BookStats, error) {
	res, err := book.query(ctx, command{kind: cmdGetStats})
	if err != nil {
		return nil, err
	}
	stats, _ := res.(*protocol.BookStats)
	return stats, nil
}

// TakeSnapshot captures a consistent snapshot of the book through the loop.
func (book *OrderBook) TakeSnapshot(ctx context.Context) (*OrderBookSnapshot, error) {
	res, err := book.query(ctx, command{kind: cmdSnapshot})
	if err != nil {
		return nil, err
	}
	snap, _ := res.(*OrderBookSnapshot)
	return snap, nil
}

// Restore rebuilds the book from a snapshot. Must be called before Start.
func (book *OrderBook) Restore(snap *OrderBookSnapshot) {
	book.seq.restore(snap.Sequence)
	book.ordersProcessed = snap.OrdersProcessed
	book.tradesExecuted = snap.TradesExecuted

	book.reg = newRegistry(book.retention)
	book.bidQueue = newBidQueue()
	book.askQueue = newAskQueue()

	restore := func(orders []Order, q *sideQueue) {
		for i := range orders {
			o := orders[i]
			o.next = nil
			o.prev = nil
			cpy := o
			book.reg.insert(&cpy)
			q.insertOrder(&cpy)
		}
	}

	restore(snap.Bids, book.bidQueue)
	restore(snap.Asks, book.askQueue)
}

// Start runs the executor loop. It returns nil after a drained shutdown, or
// the InvariantError that halted the book. No operation inside the loop
// blocks on I/O.
func (book *OrderBook) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-book.done:
			return book.drain()
		case cmd := <-book.cmdChan:
			if err := book.process(cmd); err != nil {
				book.halt(err)
				return err
			}
		}
	}
}

// Shutdown stops accepting commands and waits until pending ones drained.
func (book *OrderBook) Shutdown(ctx context.Context) error {
	if book.isShutdown.CompareAndSwap(false, true) {
		close(book.done)
	}

	select {
	case <-book.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// halt surfaces a detected corruption loudly and stops the symbol. This
// indicates a bug, not a transient fault; the book does not self-heal.
func (book *OrderBook) halt(err error) {
	book.halted.Store(true)
	logger.Error("order book halted",
		"symbol", book.symbol,
		"error", err.Error(),
		"sequence", book.seq.current(),
	)

	// Answer whatever was already queued; nothing will process it now.
	for {
		select {
		case cmd := <-book.cmdChan:
			if cmd.kind == cmdCancelOrder {
				book.reply(cmd, cancelResult{err: ErrHalted})
			} else {
				book.reply(cmd, ErrHalted)
			}
		default:
			close(book.shutdownComplete)
			return
		}
	}
}

// drain processes remaining mutating commands before returning. Pending
// reads are answered with ErrShutdown so no waiter is left hanging.
func (book *OrderBook) drain() error {
	defer close(book.shutdownComplete)

	for {
		select {
		case cmd := <-book.cmdChan:
			switch cmd.kind {
			case cmdPlaceOrder, cmdCancelOrder:
				if err := book.process(cmd); err != nil {
					book.halted.Store(true)
					return err
				}
			default:
				book.reply(cmd, ErrShutdown)
			}
		default:
			return nil
		}
	}
}

// process executes one command and, for mutating commands, re-checks the
// at-rest book invariant afterwards.
func (book *OrderBook) process(cmd command) error {
	switch cmd.kind {
	case cmdPlaceOrder:
		book.placeOrder(cmd.order)
		if !cmd.enqueuedAt.IsZero() {
			orderProcessSeconds.WithLabelValues(book.symbol).Observe(time.Since(cmd.enqueuedAt).Seconds())
		}
		return book.verifyBook()
	case cmdCancelOrder:
		err := book.cancelOrder(cmd.orderID)
		if cmd.resp != nil {
			cmd.resp <- cancelResult{err: err}
		}
		if _, ok := err.(*InvariantError); ok {
			return err
		}
		return book.verifyBook()
	case cmdGetDepth:
		book.reply(cmd, book.depth(cmd.limit))
	case cmdGetBBO:
		book.reply(cmd, book.bbo())
	case cmdGetOrder:
		order := book.reg.lookup(cmd.orderID)
		if order == nil {
			book.reply(cmd, nil)
		} else {
			cpy := *order
			cpy.next = nil
			cpy.prev = nil
			book.reply(cmd, &cpy)
		}
	case cmdGetStats:
		book.reply(cmd, &protocol.BookStats{
			Symbol:          book.symbol,
			BidDepthCount:   book.bidQueue.depthCount(),
			BidOrderCount:   book.bidQueue.orderCount(),
			AskDepthCount:   book.askQueue.depthCount(),
			AskOrderCount:   book.askQueue.orderCount(),
			OrdersProcessed: book.ordersProcessed,
			TradesExecuted:  book.tradesExecuted,
		})
	case cmdSnapshot:
		book.reply(cmd, book.createSnapshot())
	}
	return nil
}

func (book *OrderBook) reply(cmd command, v any) {
	if cmd.resp == nil {
		return
	}
	select {
	case cmd.resp <- v:
	default:
		// Nobody listening anymore, drop it.
	}
}

// placeOrder sequences an accepted order and runs it through the matcher.
func (book *OrderBook) placeOrder(order *Order) {
	order.Sequence = book.seq.next()
	book.reg.insert(order)
	book.ordersProcessed++
	ordersReceivedTotal.WithLabelValues(book.symbol, order.Side.String(), string(order.Type)).Inc()

	var events []*BookEvent

	switch order.Type {
	case Limit:
		events = book.handleLimitOrder(order)
	case IOC:
		events = book.handleIOCOrder(order)
	case FOK:
		events = book.handleFOKOrder(order)
	case Market:
		events = book.handleMarketOrder(order)
	}

	book.publish(events)
	restingOrders.WithLabelValues(book.symbol, "buy").Set(float64(book.bidQueue.orderCount()))
	restingOrders.WithLabelValues(book.symbol, "sell").Set(float64(book.askQueue.orderCount()))
}

func (book *OrderBook) publish(events []*BookEvent) {
	if len(events) == 0 {
		return
	}
	book.sink.Publish(events...)
	for _, ev := range events {
		releaseBookEvent(ev)
	}
}

// queues returns (own side, opposite side) for an order.
func (book *OrderBook) queues(side Side) (own, opposite *sideQueue) {
	if side == Buy {
		return book.bidQueue, book.askQueue
	}
	return book.askQueue, book.bidQueue
}

// matchLoop is the cross loop shared by all order types: it consumes the
// opposite side best level first, strictly FIFO within a level, executing at
// the maker's price, until the incoming order is filled, the opposite side
// is exhausted, or its best price stops satisfying the order's limit.
func (book *OrderBook) matchLoop(order *Order, opposite *sideQueue, now time.Time) []*BookEvent {
	events := make([]*BookEvent, 0, 8)
	isMarket := order.Type == Market

	for order.Remaining.GreaterThan(udecimal.Zero) {
		maker := opposite.peekHead()
		if maker == nil {
			break
		}
		if !opposite.crossesLimit(maker.Price, order.Price, isMarket) {
			break
		}

		qty := udecimal.Min(order.Remaining, maker.Remaining)
		price := maker.Price // maker price always wins

		order.Remaining = order.Remaining.Sub(qty)
		order.Filled = order.Filled.Add(qty)

		if qty.Equal(maker.Remaining) {
			// Fully consumed: unlink before mutating so the level
			// aggregate stays exact, then transition to filled.
			opposite.removeOrder(maker.ID)
			maker.Remaining = udecimal.Zero
			maker.Filled = maker.Quantity
			book.fail(book.reg.close(maker, protocol.StatusFilled))
		} else {
			opposite.fillOrder(maker, qty)
			book.fail(book.reg.transition(maker, protocol.StatusPartiallyFilled))
		}

		if order.Remaining.IsZero() {
			book.fail(book.reg.close(order, protocol.StatusFilled))
		} else {
			book.fail(book.reg.transition(order, protocol.StatusPartiallyFilled))
		}

		book.tradesExecuted++
		tradesExecutedTotal.WithLabelValues(book.symbol).Inc()
		seq := book.seq.next()

		ev := acquireBookEvent()
		ev.Sequence = seq
		ev.Type = protocol.EventTypeMatch
		ev.Symbol = book.symbol
		ev.Side = order.Side
		ev.Price = price
		ev.Size = qty
		ev.OrderID = order.ID
		ev.OrderStatus = order.Status
		ev.Trade = &Trade{
			ID:           uuid.NewString(),
			Symbol:       book.symbol,
			Price:        price,
			Quantity:     qty,
			MakerOrderID: maker.ID,
			TakerOrderID: order.ID,
			TakerSide:    order.Side,
			Sequence:     seq,
			CreatedAt:    now,
		}
		ev.CreatedAt = now
		events = append(events, ev)
	}

	return events
}

// rest inserts the order's remainder as a resting order at its limit price
// and emits the open event.
func (book *OrderBook) rest(order *Order, own *sideQueue, now time.Time, events []*BookEvent) []*BookEvent {
	own.insertOrder(order)

	ev := acquireBookEvent()
	ev.Sequence = book.seq.next()
	ev.Type = protocol.EventTypeOpen
	ev.Symbol = book.symbol
	ev.Side = order.Side
	ev.Price = order.Price
	ev.Size = order.Remaining
	ev.OrderID = order.ID
	ev.OrderStatus = order.Status
	ev.CreatedAt = now
	return append(events, ev)
}

// discard closes an unfilled remainder without resting it and, when nothing
// traded at all, emits the terminal event carrying the reason.
func (book *OrderBook) discard(order *Order, now time.Time, events []*BookEvent) []*BookEvent {
	if order.Filled.GreaterThan(udecimal.Zero) {
		// Remainder dropped, fills already on the stream.
		book.fail(book.reg.close(order, protocol.StatusPartiallyFilled))
		return events
	}

	book.fail(book.reg.close(order, protocol.StatusCanceled))
	ordersRejectedTotal.WithLabelValues(book.symbol, string(protocol.RejectReasonNoLiquidity)).Inc()

	ev := acquireBookEvent()
	ev.Sequence = book.seq.next()
	ev.Type = protocol.EventTypeReject
	ev.Symbol = book.symbol
	ev.Side = order.Side
	ev.Price = order.Price
	ev.Size = order.Remaining
	ev.OrderID = order.ID
	ev.OrderStatus = order.Status
	ev.RejectReason = protocol.RejectReasonNoLiquidity
	ev.CreatedAt = now
	return append(events, ev)
}

// handleLimitOrder matches what it can and rests the remainder.
func (book *OrderBook) handleLimitOrder(order *Order) []*BookEvent {
	own, opposite := book.queues(order.Side)
	now := time.Now().UTC()

	events := book.matchLoop(order, opposite, now)
	if order.Remaining.GreaterThan(udecimal.Zero) {
		events = book.rest(order, own, now, events)
	}
	return events
}

// handleIOCOrder matches what it can and discards the remainder; an IOC
// never rests.
func (book *OrderBook) handleIOCOrder(order *Order) []*BookEvent {
	_, opposite := book.queues(order.Side)
	now := time.Now().UTC()

	events := book.matchLoop(order, opposite, now)
	if order.Remaining.GreaterThan(udecimal.Zero) {
		events = book.discard(order, now, events)
	}
	return events
}

// handleMarketOrder crosses until filled or the opposite side is exhausted;
// there is no price to rest at, so any remainder is discarded.
func (book *OrderBook) handleMarketOrder(order *Order) []*BookEvent {
	_, opposite := book.queues(order.Side)
	now := time.Now().UTC()

	events := book.matchLoop(order, opposite, now)
	if order.Remaining.GreaterThan(udecimal.Zero) {
		events = book.discard(order, now, events)
	}
	return events
}

// handleFOKOrder first checks, without mutating anything, that the full
// quantity is available within the order's limit. If not, the order is
// killed atomically: zero trades, zero book mutation. Otherwise the cross
// loop is guaranteed to complete the fill.
func (book *OrderBook) handleFOKOrder(order *Order) []*BookEvent {
	_, opposite := book.queues(order.Side)
	now := time.Now().UTC()

	available := opposite.crossableSize(order.Price, false, order.Quantity)
	if available.LessThan(order.Quantity) {
		book.fail(book.reg.close(order, protocol.StatusKilled))
		ordersRejectedTotal.WithLabelValues(book.symbol, string(protocol.RejectReasonInsufficientLiquidity)).Inc()

		ev := acquireBookEvent()
		ev.Sequence = book.seq.next()
		ev.Type = protocol.EventTypeKill
		ev.Symbol = book.symbol
		ev.Side = order.Side
		ev.Price = order.Price
		ev.Size = order.Quantity
		ev.OrderID = order.ID
		ev.OrderStatus = order.Status
		ev.RejectReason = protocol.RejectReasonInsufficientLiquidity
		ev.CreatedAt = now
		return []*BookEvent{ev}
	}

	return book.matchLoop(order, opposite, now)
}

// cancelOrder removes a resting order. Cancels are idempotent in effect:
// repeating one yields AlreadyTerminal and performs no mutation.
func (book *OrderBook) cancelOrder(orderID uint64) error {
	order := book.reg.lookup(orderID)
	if order == nil {
		return ErrNotFound
	}
	if order.Closed() || order.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	own, _ := book.queues(order.Side)
	if !own.removeOrder(orderID) {
		// Registered, not closed, yet absent from its level: corruption.
		return &InvariantError{Symbol: book.symbol, Detail: "open order missing from its price level"}
	}
	if err := book.reg.close(order, protocol.StatusCanceled); err != nil {
		return err
	}

	now := time.Now().UTC()
	ev := acquireBookEvent()
	ev.Sequence = book.seq.next()
	ev.Type = protocol.EventTypeCancel
	ev.Symbol = book.symbol
	ev.Side = order.Side
	ev.Price = order.Price
	ev.Size = order.Remaining
	ev.OrderID = order.ID
	ev.OrderStatus = order.Status
	ev.CreatedAt = now
	book.publish([]*BookEvent{ev})

	restingOrders.WithLabelValues(book.symbol, "buy").Set(float64(book.bidQueue.orderCount()))
	restingOrders.WithLabelValues(book.symbol, "sell").Set(float64(book.askQueue.orderCount()))
	return nil
}

// verifyBook asserts the at-rest invariant: best bid strictly below best
// ask, or a side empty. The matching loop resolves any transient cross
// before returning, so seeing one here means corruption.
func (book *OrderBook) verifyBook() error {
	if book.invariantErr != nil {
		return book.invariantErr
	}
	bid, _, bidOK := book.bidQueue.bestPrice()
	ask, _, askOK := book.askQueue.bestPrice()
	if bidOK && askOK && bid.GreaterThanOrEqual(ask) {
		return &InvariantError{
			Symbol: book.symbol,
			Detail: "crossed book: best bid " + bid.String() + " >= best ask " + ask.String(),
		}
	}
	return nil
}

// depth builds a consistent depth snapshot.
func (book *OrderBook) depth(limit uint32) *protocol.GetDepthResponse {
	return &protocol.GetDepthResponse{
		Symbol:   book.symbol,
		Sequence: book.seq.current(),
		Bids:     book.bidQueue.depth(limit),
		Asks:     book.askQueue.depth(limit),
	}
}

// bbo builds the best bid/offer view. Empty sides leave their fields blank.
func (book *OrderBook) bbo() *protocol.GetBBOResponse {
	resp := &protocol.GetBBOResponse{
		Symbol:   book.symbol,
		Sequence: book.seq.current(),
	}

	if price, size, ok := book.bidQueue.bestPrice(); ok {
		resp.BidPrice = price.String()
		resp.BidSize = size.String()
	}
	if price, size, ok := book.askQueue.bestPrice(); ok {
		resp.AskPrice = price.String()
		resp.AskSize = size.String()
	}
	return resp
}

// createSnapshot captures the book inside the loop.
func (book *OrderBook) createSnapshot() *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Symbol:          book.symbol,
		Sequence:        book.seq.current(),
		OrdersProcessed: book.ordersProcessed,
		TradesExecuted:  book.tradesExecuted,
		Bids:            book.bidQueue.toSnapshot(),
		Asks:            book.askQueue.toSnapshot(),
	}
}
