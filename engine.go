package match

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
)

// SubmitOrderRequest carries a validated-at-the-edge new order. Price must
// be zero for market orders and positive for everything else.
type SubmitOrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Price    udecimal.Decimal
	Quantity udecimal.Decimal
}

// MatchingEngine manages the order books of all listed symbols. Symbols are
// fully independent; each runs its own executor goroutine.
type MatchingEngine struct {
	isShutdown atomic.Bool
	orderbooks sync.Map // symbol -> *OrderBook
	sink       EventSink
	serializer protocol.Serializer
	bookOpts   []OrderBookOption
}

// NewMatchingEngine creates a new matching engine. Events from every symbol
// flow to sink; opts apply to each book the engine creates.
func NewMatchingEngine(sink EventSink, opts ...OrderBookOption) *MatchingEngine {
	return &MatchingEngine{
		sink:       sink,
		serializer: &protocol.DefaultJSONSerializer{},
		bookOpts:   opts,
	}
}

// AddSymbol lists a symbol and starts its executor. Listing the same symbol
// twice returns the existing book.
func (engine *MatchingEngine) AddSymbol(symbol string) (*OrderBook, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if symbol == "" {
		return nil, ErrInvalidParam
	}

	newbook := NewOrderBook(symbol, engine.sink, engine.bookOpts...)
	actual, loaded := engine.orderbooks.LoadOrStore(symbol, newbook)
	book := actual.(*OrderBook)
	if loaded {
		return book, nil
	}

	go func() {
		if err := book.Start(); err != nil {
			logger.Error("symbol executor stopped", "symbol", book.Symbol(), "error", err.Error())
		}
	}()

	return book, nil
}

// OrderBook returns the book for a symbol, or nil when not listed.
func (engine *MatchingEngine) OrderBook(symbol string) *OrderBook {
	book, found := engine.orderbooks.Load(symbol)
	if !found {
		return nil
	}

	orderbook, _ := book.(*OrderBook)
	return orderbook
}

// Symbols returns the currently listed symbols.
func (engine *MatchingEngine) Symbols() []string {
	var symbols []string
	engine.orderbooks.Range(func(key, _ any) bool {
		symbols = append(symbols, key.(string))
		return true
	})
	return symbols
}

// validate enforces the pre-sequencing rules. Failures reject the order
// synchronously with a specific reason and touch no state.
func (engine *MatchingEngine) validate(req *SubmitOrderRequest) (*OrderBook, error) {
	book := engine.OrderBook(req.Symbol)
	if book == nil {
		return nil, ErrInvalidSymbol
	}
	if !req.Type.Valid() {
		return nil, ErrInvalidOrderType
	}
	if req.Side != Buy && req.Side != Sell {
		return nil, ErrInvalidParam
	}
	if !req.Quantity.GreaterThan(udecimal.Zero) {
		return nil, ErrInvalidQuantity
	}
	if req.Type.RequiresPrice() {
		if !req.Price.GreaterThan(udecimal.Zero) {
			return nil, ErrInvalidPrice
		}
	} else if !req.Price.IsZero() {
		return nil, ErrInvalidPrice
	}
	return book, nil
}

// SubmitOrder validates, assigns the order ID, and admits the command to
// the symbol's executor. The ack acknowledges acceptance; the terminal
// status arrives on the event stream.
func (engine *MatchingEngine) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*protocol.OrderAck, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}

	book, err := engine.validate(req)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:        nextOrderID(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		Status:    protocol.StatusAccepted,
		CreatedAt: time.Now().UnixNano(),
	}

	if err := book.submit(order); err != nil {
		return nil, err
	}

	return &protocol.OrderAck{
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Status:  protocol.StatusAccepted,
	}, nil
}

// CancelOrder cancels an order through its symbol's executor. It returns
// nil on the single successful cancel, ErrNotFound for unknown orders, and
// ErrAlreadyTerminal thereafter.
func (engine *MatchingEngine) CancelOrder(ctx context.Context, symbol string, orderID uint64) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}

	book := engine.OrderBook(symbol)
	if book == nil {
		return ErrInvalidSymbol
	}
	return book.cancel(ctx, orderID)
}

// GetDepth returns a consistent depth snapshot of up to limit levels per
// side; a zero limit returns the full book.
func (engine *MatchingEngine) GetDepth(ctx context.Context, symbol string, limit uint32) (*protocol.GetDepthResponse, error) {
	book := engine.OrderBook(symbol)
	if book == nil {
		return nil, ErrInvalidSymbol
	}
	return book.Depth(ctx, limit)
}

// GetBBO returns the best bid and offer for a symbol.
func (engine *MatchingEngine) GetBBO(ctx context.Context, symbol string) (*protocol.GetBBOResponse, error) {
	book := engine.OrderBook(symbol)
	if book == nil {
		return nil, ErrInvalidSymbol
	}
	return book.BBO(ctx)
}

// GetOrder returns the current state of an order.
func (engine *MatchingEngine) GetOrder(ctx context.Context, symbol string, orderID uint64) (*Order, error) {
	book := engine.OrderBook(symbol)
	if book == nil {
		return nil, ErrInvalidSymbol
	}
	return book.Order(ctx, orderID)
}

// Stats returns per-symbol book statistics.
func (engine *MatchingEngine) Stats(ctx context.Context, symbol string) (*protocol.BookStats, error) {
	book := engine.OrderBook(symbol)
	if book == nil {
		return nil, ErrInvalidSymbol
	}
	return book.Stats(ctx)
}

// EnqueueCommand is the envelope entry point for external transports: the
// payload stays serialized until it reaches the engine, then is decoded and
// dispatched like a direct call.
func (engine *MatchingEngine) EnqueueCommand(ctx context.Context, cmd *protocol.Command) (*protocol.OrderAck, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if cmd == nil || cmd.Symbol == "" {
		return nil, ErrInvalidParam
	}

	switch cmd.Type {
	case protocol.CmdPlaceOrder:
		payload := &protocol.PlaceOrderCommand{}
		if err := engine.serializer.Unmarshal(cmd.Payload, payload); err != nil {
			return nil, err
		}

		req := &SubmitOrderRequest{
			Symbol:   cmd.Symbol,
			Side:     payload.Side,
			Type:     payload.OrderType,
			Quantity: udecimal.Zero,
		}
		if payload.Quantity != "" {
			qty, err := udecimal.Parse(payload.Quantity)
			if err != nil {
				return nil, ErrInvalidQuantity
			}
			req.Quantity = qty
		}
		if payload.Price != "" {
			price, err := udecimal.Parse(payload.Price)
			if err != nil {
				return nil, ErrInvalidPrice
			}
			req.Price = price
		}
		return engine.SubmitOrder(ctx, req)

	case protocol.CmdCancelOrder:
		payload := &protocol.CancelOrderCommand{}
		if err := engine.serializer.Unmarshal(cmd.Payload, payload); err != nil {
			return nil, err
		}
		if err := engine.CancelOrder(ctx, cmd.Symbol, payload.OrderID); err != nil {
			return nil, err
		}
		return &protocol.OrderAck{
			OrderID: payload.OrderID,
			Symbol:  cmd.Symbol,
			Status:  protocol.StatusCanceled,
		}, nil

	default:
		return nil, ErrInvalidParam
	}
}

// Shutdown gracefully drains every symbol's executor in parallel.
func (engine *MatchingEngine) Shutdown(ctx context.Context) error {
	engine.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	engine.orderbooks.Range(func(_, value any) bool {
		wg.Add(1)
		go func(book *OrderBook) {
			defer wg.Done()
			if err := book.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(value.(*OrderBook))
		return true
	})

	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
