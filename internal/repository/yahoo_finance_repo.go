package repository

import (
	"context"
	"fmt"
	"net/http"
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

type YahooFinanceRepository interface {
	GetBars(ctx context.Context, ticker string, start, end time.Time) ([]engine.Bar, error)
	GetQuote(ctx context.Context, ticker string) (*engine.Quote, error)
}

type yahooFinanceRepository struct {
	chartClient    httpclient.HTTPClient
	quoteClient    httpclient.HTTPClient
	cfg            *config.Config
	logger         *logger.Logger
	cache          cache.Cache
	requestLimiter *rate.Limiter
}

func NewYahooFinanceRepository(cfg *config.Config, inmemoryCache cache.Cache, log *logger.Logger) YahooFinanceRepository {
	secondsPerRequest := time.Minute / time.Duration(cfg.YahooFinance.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)

	return &yahooFinanceRepository{
		chartClient:    httpclient.New(cfg.YahooFinance.BaseURL, cfg.YahooFinance.Timeout, ""),
		quoteClient:    httpclient.New(cfg.YahooFinance.QuoteBaseURL, cfg.YahooFinance.Timeout, ""),
		cfg:            cfg,
		logger:         log,
		cache:          inmemoryCache,
		requestLimiter: requestLimiter,
	}
}

var yahooHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.9",
	"Referer":         "https://finance.yahoo.com/",
}

func (r *yahooFinanceRepository) GetBars(ctx context.Context, ticker string, start, end time.Time) ([]engine.Bar, error) {
	cacheKey := fmt.Sprintf("yahoo:bars:%s:%s:%s", ticker, utils.FormatDate(start), utils.FormatDate(end))
	if bars, found := cache.GetFromCache[[]engine.Bar](cacheKey); found {
		return bars, nil
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := "/" + ticker
	queryParams := map[string]string{
		"period1":        fmt.Sprintf("%d", start.Unix()),
		"period2":        fmt.Sprintf("%d", end.AddDate(0, 0, 1).Unix()),
		"interval":       "1d",
		"includePrePost": "false",
		"events":         "div,split",
	}

	var chartResp dto.YahooChartResponse
	resp, err := r.chartClient.Get(ctx, endpoint, queryParams, yahooHeaders, &chartResp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data from yahoo finance: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		r.logger.ErrorContext(ctx, "Yahoo Finance API returned Non-OK status",
			logger.IntField("status_code", resp.StatusCode),
			logger.StringField("ticker", ticker),
		)
		return nil, fmt.Errorf("yahoo finance api returned status: %d", resp.StatusCode)
	}
	if chartResp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo finance api error: %v", chartResp.Chart.Error)
	}
	if len(chartResp.Chart.Result) == 0 {
		return nil, fmt.Errorf("no data returned for symbol: %s", ticker)
	}

	result := chartResp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no quote data available for symbol: %s", ticker)
	}

	quote := result.Indicators.Quote[0]
	bars := make([]engine.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) ||
			i >= len(quote.Close) || i >= len(quote.Volume) {
			continue
		}
		// Zeroes mark missing candles in the chart API.
		if quote.Open[i] == 0 || quote.High[i] == 0 || quote.Low[i] == 0 || quote.Close[i] == 0 {
			continue
		}
		bars = append(bars, engine.Bar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   quote.Open[i],
			High:   quote.High[i],
			Low:    quote.Low[i],
			Close:  quote.Close[i],
			Volume: quote.Volume[i],
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no usable bars for symbol %s in range", ticker)
	}

	r.cache.Set(cacheKey, bars, r.cfg.Cache.DefaultExpiration)
	return bars, nil
}

func (r *yahooFinanceRepository) GetQuote(ctx context.Context, ticker string) (*engine.Quote, error) {
	cacheKey := "yahoo:quote:" + ticker
	if q, found := cache.GetFromCache[*engine.Quote](cacheKey); found {
		return q, nil
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var quoteResp dto.YahooQuoteResponse
	resp, err := r.quoteClient.Get(ctx, "/quote", map[string]string{"symbols": ticker}, yahooHeaders, &quoteResp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote from yahoo finance: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo finance quote api returned status: %d", resp.StatusCode)
	}
	if len(quoteResp.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote returned for symbol: %s", ticker)
	}

	raw := quoteResp.QuoteResponse.Result[0]
	quote := &engine.Quote{
		Ticker:    ticker,
		Price:     raw.RegularMarketPrice,
		MarketCap: raw.MarketCap,
		Sector:    raw.Sector,
	}
	r.cache.Set(cacheKey, quote, r.cfg.Cache.DefaultExpiration)
	return quote, nil
}
