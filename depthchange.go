package match

import (
	"github.com/quagmt/udecimal"
	"github.com/quantex/matching-engine/protocol"
)

// DepthChange represents the change one book event implies for the
// aggregated depth at a price level.
type DepthChange struct {
	Side     Side
	Price    udecimal.Decimal
	SizeDiff udecimal.Decimal
}

// CalculateDepthChange maps a book event to its depth delta.
// Note: for match events, the returned side is the maker's side (liquidity
// is consumed from the opposite side of the taker named in the event).
// Kill and reject events never touched the book, so they yield a zero diff.
func CalculateDepthChange(ev *BookEvent) DepthChange {
	switch ev.Type {
	case protocol.EventTypeOpen:
		return DepthChange{
			Side:     ev.Side,
			Price:    ev.Price,
			SizeDiff: ev.Size,
		}
	case protocol.EventTypeCancel:
		return DepthChange{
			Side:     ev.Side,
			Price:    ev.Price,
			SizeDiff: ev.Size.Neg(),
		}
	case protocol.EventTypeMatch:
		return DepthChange{
			Side:     ev.Side.Opposite(),
			Price:    ev.Price,
			SizeDiff: ev.Size.Neg(),
		}
	case protocol.EventTypeKill, protocol.EventTypeReject:
		return DepthChange{}
	}

	return DepthChange{}
}
