package match

import (
	"sync"
	"time"

	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

type OrderType = protocol.OrderType

const (
	Market OrderType = protocol.OrderTypeMarket
	Limit  OrderType = protocol.OrderTypeLimit
	IOC    OrderType = protocol.OrderTypeIOC
	FOK    OrderType = protocol.OrderTypeFOK
)

type OrderStatus = protocol.OrderStatus

// Order is the authoritative record of one order, owned by the symbol's
// registry. Price levels reference it only by ID; the intrusive next/prev
// pointers live inside the level FIFO and never escape the book.
type Order struct {
	ID        uint64           `json:"id"`
	Symbol    string           `json:"symbol"`
	Side      Side             `json:"side"`
	Type      OrderType        `json:"type"`
	Price     udecimal.Decimal `json:"price"` // zero for market orders
	Quantity  udecimal.Decimal `json:"quantity"`
	Remaining udecimal.Decimal `json:"remaining"`
	Filled    udecimal.Decimal `json:"filled"`
	Sequence  uint64           `json:"sequence"` // assigned once at acceptance
	Status    OrderStatus      `json:"status"`
	CreatedAt int64            `json:"created_at"` // unix nano, informational only

	// Intrusive FIFO pointers (ignored by JSON).
	next *Order
	prev *Order

	// closed marks an order that can never change again, even when its
	// status is the non-terminal partially_filled (an IOC or Market order
	// whose remainder was discarded). Managed by the registry.
	closed bool
}

// Closed reports whether the order can never change again. This is wider
// than Status.Terminal(): an IOC that partially filled keeps status
// partially_filled but is closed all the same.
func (o *Order) Closed() bool {
	return o.closed
}

// Trade is an immutable execution record. The price is always the maker's.
type Trade struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Price        udecimal.Decimal `json:"price"`
	Quantity     udecimal.Decimal `json:"quantity"`
	MakerOrderID uint64           `json:"maker_order_id"`
	TakerOrderID uint64           `json:"taker_order_id"`
	TakerSide    Side             `json:"taker_side"`
	Sequence     uint64           `json:"sequence"`
	CreatedAt    time.Time        `json:"created_at"`
}

// BookEvent is one entry of a symbol's ordered event stream. Sequence is the
// per-symbol ordering token; program order equals wire order.
//
// Events are pooled. An EventSink must either finish with the event before
// Publish returns or copy it; the book recycles events afterwards.
type BookEvent struct {
	Sequence     uint64                `json:"sequence"`
	Type         protocol.EventType    `json:"type"`
	Symbol       string                `json:"symbol"`
	Side         Side                  `json:"side"`
	Price        udecimal.Decimal      `json:"price"`
	Size         udecimal.Decimal      `json:"size"`
	OrderID      uint64                `json:"order_id"`
	OrderStatus  OrderStatus           `json:"order_status,omitempty"`
	Trade        *Trade                `json:"trade,omitempty"` // set for match events
	RejectReason protocol.RejectReason `json:"reject_reason,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Clone returns a standalone copy safe to keep after Publish returns.
func (e *BookEvent) Clone() *BookEvent {
	cpy := new(BookEvent)
	*cpy = *e
	return cpy
}

var bookEventPool = sync.Pool{
	New: func() any {
		return new(BookEvent)
	},
}

func acquireBookEvent() *BookEvent {
	return bookEventPool.Get().(*BookEvent)
}

func releaseBookEvent(ev *BookEvent) {
	// Reset to zero values. The decimal zero value represents 0, which is valid.
	*ev = BookEvent{}
	bookEventPool.Put(ev)
}
