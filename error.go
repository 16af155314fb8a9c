package match

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSymbol    = errors.New("symbol is not recognized")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidPrice     = errors.New("price is not valid for the order type")
	ErrInvalidOrderType = errors.New("order type is not supported")
	ErrInvalidParam     = errors.New("the param is invalid")
	ErrNotFound         = errors.New("order not found")
	ErrAlreadyTerminal  = errors.New("order is already terminal")
	ErrThrottled        = errors.New("command channel is full")
	ErrShutdown         = errors.New("order book is shutting down")
	ErrHalted           = errors.New("order book is halted")
)

// InvariantError reports a detected corruption of a symbol's book state,
// e.g. a crossed book after a command finished. It is fatal for the
// symbol's executor, never surfaced to order submitters as a user error.
type InvariantError struct {
	Symbol string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.Symbol, e.Detail)
}
