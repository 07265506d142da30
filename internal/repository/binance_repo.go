package repository

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"golang-backtest/config"
	"golang-backtest/internal/dto"
	"golang-backtest/internal/engine"
	"golang-backtest/pkg/cache"
	"golang-backtest/pkg/httpclient"
	"golang-backtest/pkg/logger"
	"golang-backtest/pkg/utils"
)

type BinanceRepository interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]engine.Bar, error)
	GetQuote(ctx context.Context, symbol string) (*engine.Quote, error)
}

type binanceRepository struct {
	httpClient     httpclient.HTTPClient
	cfg            *config.Config
	logger         *logger.Logger
	cache          cache.Cache
	requestLimiter *rate.Limiter
}

func NewBinanceRepository(cfg *config.Config, inmemoryCache cache.Cache, log *logger.Logger) BinanceRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.Binance.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)

	return &binanceRepository{
		httpClient:     httpclient.New(cfg.Binance.BaseURL, cfg.Binance.Timeout, ""),
		cfg:            cfg,
		logger:         log,
		cache:          inmemoryCache,
		requestLimiter: requestLimiter,
	}
}

func (r *binanceRepository) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]engine.Bar, error) {
	cacheKey := fmt.Sprintf("binance:bars:%s:%s:%s", symbol, utils.FormatDate(start), utils.FormatDate(end))
	if bars, found := cache.GetFromCache[[]engine.Bar](cacheKey); found {
		return bars, nil
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	queryParams := map[string]string{
		"symbol":    symbol,
		"interval":  "1d",
		"startTime": fmt.Sprintf("%d", start.UnixMilli()),
		"endTime":   fmt.Sprintf("%d", end.AddDate(0, 0, 1).UnixMilli()),
		"limit":     "1000",
	}

	var klines []dto.BinanceKline
	resp, err := r.httpClient.Get(ctx, "/api/v3/klines", queryParams, nil, &klines)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines from binance: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.ErrorContext(ctx, "Binance API returned Non-OK status",
			logger.IntField("status_code", resp.StatusCode),
			logger.StringField("symbol", symbol),
		)
		return nil, fmt.Errorf("binance api returned status: %d", resp.StatusCode)
	}

	bars := make([]engine.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := mapKline(k)
		if err != nil {
			return nil, fmt.Errorf("bad kline for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no klines returned for symbol %s in range", symbol)
	}

	r.cache.Set(cacheKey, bars, r.cfg.Cache.DefaultExpiration)
	return bars, nil
}

func (r *binanceRepository) GetQuote(ctx context.Context, symbol string) (*engine.Quote, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var ticker dto.BinanceTickerResponse
	resp, err := r.httpClient.Get(ctx, "/api/v3/ticker/24hr", map[string]string{"symbol": symbol}, nil, &ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker from binance: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance ticker api returned status: %d", resp.StatusCode)
	}

	price, err := strconv.ParseFloat(ticker.LastPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("bad last price %q for %s: %w", ticker.LastPrice, symbol, err)
	}

	// Crypto pairs have no market cap or sector; eligibility checks that
	// need them are disabled for this asset class.
	return &engine.Quote{Ticker: symbol, Price: price}, nil
}

// mapKline converts the position-indexed kline array: open time, then OHLC
// and volume as strings.
func mapKline(k dto.BinanceKline) (engine.Bar, error) {
	if len(k) < 6 {
		return engine.Bar{}, fmt.Errorf("kline has %d fields, want at least 6", len(k))
	}

	openTime, ok := k[0].(float64)
	if !ok {
		return engine.Bar{}, fmt.Errorf("open time is not a number")
	}

	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return engine.Bar{}, fmt.Errorf("field %d is not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return engine.Bar{}, fmt.Errorf("field %d: %w", i, err)
		}
		values[i-1] = v
	}

	return engine.Bar{
		Date:   time.UnixMilli(int64(openTime)).UTC(),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}
