package match

import (
	"testing"

	"github.com/quantex/matching-engine/protocol"
	"github.com/stretchr/testify/assert"
)

func TestCalculateDepthChange(t *testing.T) {
	t.Run("open adds size on the order's side", func(t *testing.T) {
		change := CalculateDepthChange(testEvent(1, protocol.EventTypeOpen, Buy, 100, 10))
		assert.Equal(t, Buy, change.Side)
		assert.True(t, change.Price.Equal(d(100)))
		assert.True(t, change.SizeDiff.Equal(d(10)))
	})

	t.Run("cancel removes size on the order's side", func(t *testing.T) {
		change := CalculateDepthChange(testEvent(2, protocol.EventTypeCancel, Sell, 101, 4))
		assert.Equal(t, Sell, change.Side)
		assert.True(t, change.SizeDiff.Equal(d(4).Neg()))
	})

	t.Run("match removes size from the maker side", func(t *testing.T) {
		// Taker bought, so the consumed liquidity rested on the sell side.
		change := CalculateDepthChange(testEvent(3, protocol.EventTypeMatch, Buy, 101, 5))
		assert.Equal(t, Sell, change.Side)
		assert.True(t, change.Price.Equal(d(101)))
		assert.True(t, change.SizeDiff.Equal(d(5).Neg()))
	})

	t.Run("kill and reject leave depth untouched", func(t *testing.T) {
		change := CalculateDepthChange(testEvent(4, protocol.EventTypeKill, Buy, 100, 10))
		assert.True(t, change.SizeDiff.IsZero())

		change = CalculateDepthChange(testEvent(5, protocol.EventTypeReject, Sell, 100, 10))
		assert.True(t, change.SizeDiff.IsZero())
	})
}
