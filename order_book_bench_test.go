package match

import (
	"context"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/quagmt/udecimal"
)

func BenchmarkPlaceOrders(b *testing.B) {
	// Ensure engine and producer can run concurrently.
	oldProcs := runtime.GOMAXPROCS(runtime.NumCPU())
	defer runtime.GOMAXPROCS(oldProcs)

	ctx := context.Background()
	engine := NewMatchingEngine(NewDiscardSink())

	symbol := "BTC-USDT"
	book, _ := engine.AddSymbol(symbol)

	// Fixed seed for repeatability.
	rng := rand.New(rand.NewSource(42))

	// 1000 ticks around a mid of 10000, pre-computed to keep decimal
	// construction out of the hot loop.
	priceCache := make([]udecimal.Decimal, 1001)
	for i := int64(0); i <= 1000; i++ {
		priceCache[i] = udecimal.MustFromInt64(9500+i, 0)
	}
	sizeOne := udecimal.MustFromInt64(1, 0)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var priceIdx int
		side := Buy

		// 80% of flow lands within 10 ticks of the mid.
		if rng.Intn(100) < 80 {
			offset := rng.Intn(10) + 1
			if rng.Intn(2) == 0 {
				priceIdx = 500 - offset
			} else {
				side = Sell
				priceIdx = 500 + offset
			}
		} else {
			offset := rng.Intn(490) + 11
			if rng.Intn(2) == 0 {
				priceIdx = 500 - offset
			} else {
				side = Sell
				priceIdx = 500 + offset
			}
		}

		req := &SubmitOrderRequest{
			Symbol:   symbol,
			Side:     side,
			Type:     Limit,
			Price:    priceCache[priceIdx],
			Quantity: sizeOne,
		}

		for {
			_, err := engine.SubmitOrder(ctx, req)
			if err != ErrThrottled {
				break
			}
			runtime.Gosched()
		}
	}

	b.StopTimer()

	if stats, err := book.Stats(ctx); err == nil {
		b.Logf("final book state: bids=%d levels, asks=%d levels, trades=%d",
			stats.BidDepthCount, stats.AskDepthCount, stats.TradesExecuted)
	}

	totalSeconds := b.Elapsed().Seconds()
	if totalSeconds > 0 {
		b.ReportMetric(float64(b.N)/totalSeconds, "orders/sec")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = engine.Shutdown(shutdownCtx)
}

func BenchmarkMatching(b *testing.B) {
	oldProcs := runtime.GOMAXPROCS(runtime.NumCPU())
	defer runtime.GOMAXPROCS(oldProcs)

	ctx := context.Background()
	engine := NewMatchingEngine(NewDiscardSink())
	symbol := "MATCH-USDT"
	_, _ = engine.AddSymbol(symbol)

	price := udecimal.MustFromInt64(10000, 0)
	size := udecimal.MustFromInt64(1, 0)

	sellReq := &SubmitOrderRequest{Symbol: symbol, Side: Sell, Type: Limit, Price: price, Quantity: size}
	buyReq := &SubmitOrderRequest{Symbol: symbol, Side: Buy, Type: Limit, Price: price, Quantity: size}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// Resting sell, then a buy that matches it immediately.
		for {
			_, err := engine.SubmitOrder(ctx, sellReq)
			if err != ErrThrottled {
				break
			}
			runtime.Gosched()
		}
		for {
			_, err := engine.SubmitOrder(ctx, buyReq)
			if err != ErrThrottled {
				break
			}
			runtime.Gosched()
		}
	}

	b.StopTimer()

	totalSeconds := b.Elapsed().Seconds()
	if totalSeconds > 0 {
		b.ReportMetric(float64(b.N)*2/totalSeconds, "orders/sec")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = engine.Shutdown(shutdownCtx)
}
