package repository

import (
	"context"
	"strings"
	"time"

	"golang-backtest/internal/contract"
	"golang-backtest/internal/engine"
)

// marketDataRouter picks the venue by symbol shape: Binance spot pairs end
// in a stablecoin quote, everything else goes to Yahoo Finance.
type marketDataRouter struct {
	yahoo   YahooFinanceRepository
	binance BinanceRepository
}

func NewMarketDataRouter(yahoo YahooFinanceRepository, binance BinanceRepository) contract.MarketDataProvider {
	return &marketDataRouter{yahoo: yahoo, binance: binance}
}

func isCryptoSymbol(ticker string) bool {
	upper := strings.ToUpper(ticker)
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			return true
		}
	}
	return false
}

func (r *marketDataRouter) GetBars(ctx context.Context, ticker string, start, end time.Time) ([]engine.Bar, error) {
	if isCryptoSymbol(ticker) {
		return r.binance.GetBars(ctx, ticker, start, end)
	}
	return r.yahoo.GetBars(ctx, ticker, start, end)
}

func (r *marketDataRouter) GetQuote(ctx context.Context, ticker string) (*engine.Quote, error) {
	if isCryptoSymbol(ticker) {
		return r.binance.GetQuote(ctx, ticker)
	}
	return r.yahoo.GetQuote(ctx, ticker)
}
