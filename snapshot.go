package match

// OrderBookSnapshot contains the full state of a single order book at a
// command boundary. It is captured inside the symbol's executor loop, so no
// partially applied mutation is ever visible.
type OrderBookSnapshot struct {
	Symbol          string  `json:"symbol"`
	Sequence        uint64  `json:"sequence"`
	OrdersProcessed uint64  `json:"orders_processed"`
	TradesExecuted  uint64  `json:"trades_executed"`
	Bids            []Order `json:"bids"` // priority order, best level first
	Asks            []Order `json:"asks"`
}
