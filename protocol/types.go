package protocol

// Side represents the order side (Buy/Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// String returns the lower-case wire name of the side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeIOC    OrderType = "ioc" // Immediate Or Cancel
	OrderTypeFOK    OrderType = "fok" // Fill Or Kill
)

// Valid reports whether t is one of the four supported order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeIOC, OrderTypeFOK:
		return true
	}
	return false
}

// RequiresPrice reports whether the order type must carry a limit price.
// Market orders must not; everything else must.
func (t OrderType) RequiresPrice() bool {
	return t != OrderTypeMarket
}

// OrderStatus represents the lifecycle state of an order.
// Transitions only move forward:
// accepted -> (partially_filled)* -> {filled, canceled, rejected, killed},
// with partially_filled also a valid end state for IOC/Market remainders.
type OrderStatus string

const (
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusKilled          OrderStatus = "killed"
)

// Terminal reports whether no further transition is permitted from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusKilled:
		return true
	}
	return false
}

// EventType represents the type of a book event.
type EventType string

const (
	EventTypeOpen   EventType = "open"   // an order started resting
	EventTypeMatch  EventType = "match"  // a trade occurred
	EventTypeCancel EventType = "cancel" // a resting order left the book
	EventTypeKill   EventType = "kill"   // a FOK order was killed, no book change
	EventTypeReject EventType = "reject" // an order terminated without book change
)

// RejectReason represents the reason why an order terminated without resting.
type RejectReason string

const (
	RejectReasonNone                  RejectReason = ""
	RejectReasonNoLiquidity           RejectReason = "no_liquidity"           // Market/IOC: nothing to match
	RejectReasonInsufficientLiquidity RejectReason = "insufficient_liquidity" // FOK: cannot be fully filled
	RejectReasonInvalidSymbol         RejectReason = "invalid_symbol"
	RejectReasonInvalidQuantity       RejectReason = "invalid_quantity"
	RejectReasonInvalidPrice          RejectReason = "invalid_price"
	RejectReasonInvalidOrderType      RejectReason = "invalid_order_type"
)

// DepthItem is one price level of a depth snapshot.
type DepthItem struct {
	Price string `json:"price"` // string to prevent precision loss in JSON
	Size  string `json:"size"`
	Count int64  `json:"count"`
}

// GetDepthResponse is a consistent point-in-time view of the book.
// Sequence is the book sequence at capture time; a replica seeded from this
// snapshot ignores deltas with Sequence <= this value.
type GetDepthResponse struct {
	Symbol   string       `json:"symbol"`
	Sequence uint64       `json:"sequence"`
	Bids     []*DepthItem `json:"bids"`
	Asks     []*DepthItem `json:"asks"`
}

// GetBBOResponse carries the best bid and offer. A side that is empty has
// its fields left as empty strings.
type GetBBOResponse struct {
	Symbol   string `json:"symbol"`
	Sequence uint64 `json:"sequence"`
	BidPrice string `json:"bid_price,omitempty"`
	BidSize  string `json:"bid_size,omitempty"`
	AskPrice string `json:"ask_price,omitempty"`
	AskSize  string `json:"ask_size,omitempty"`
}

// BookStats contains statistics about one symbol's book.
type BookStats struct {
	Symbol          string `json:"symbol"`
	BidDepthCount   int64  `json:"bid_depth_count"`
	BidOrderCount   int64  `json:"bid_order_count"`
	AskDepthCount   int64  `json:"ask_depth_count"`
	AskOrderCount   int64  `json:"ask_order_count"`
	OrdersProcessed uint64 `json:"orders_processed"`
	TradesExecuted  uint64 `json:"trades_executed"`
}
