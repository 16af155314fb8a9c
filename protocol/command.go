package protocol

// CommandType identifies the payload carried by a Command envelope.
type CommandType uint8

const (
	CmdUnknown     CommandType = 0
	CmdPlaceOrder  CommandType = 1
	CmdCancelOrder CommandType = 2
)

// Command is the carrier for commands entering the matching core from an
// external transport. Payload is kept serialized so routing never pays for
// deserialization; the symbol executor unmarshals lazily.
type Command struct {
	// Version is the protocol version for backward compatibility.
	Version uint8 `json:"version"`

	// Symbol is the target order book for this command (routing header).
	Symbol string `json:"symbol"`

	// Type identifies the payload type for fast routing.
	Type CommandType `json:"type"`

	// Payload contains the serialized business data.
	Payload []byte `json:"payload"`

	// Metadata stores non-business context (e.g. tracing ID, source IP).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PlaceOrderCommand is the payload for placing a new order.
// Price and Quantity are strings to prevent precision loss in JSON.
type PlaceOrderCommand struct {
	Side      Side      `json:"side"`
	OrderType OrderType `json:"order_type"`
	Price     string    `json:"price,omitempty"` // empty for market orders
	Quantity  string    `json:"quantity"`
	Timestamp int64     `json:"timestamp"`
}

// CancelOrderCommand is the payload for cancelling an existing order.
type CancelOrderCommand struct {
	OrderID   uint64 `json:"order_id"`
	Timestamp int64  `json:"timestamp"`
}

// OrderAck is returned synchronously when a command is admitted.
// The terminal status arrives later on the event stream.
type OrderAck struct {
	OrderID  uint64      `json:"order_id"`
	Symbol   string      `json:"symbol"`
	Sequence uint64      `json:"sequence,omitempty"`
	Status   OrderStatus `json:"status"`
}
