package http

import (
	"context"
	"net/http"

	"golang-backtest/internal/service"
	"golang-backtest/pkg/ratelimit"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type HttpAPIHandler struct {
	echo      *echo.Echo
	validator *goValidator.Validate
	service   *service.Service
}

func NewHttpAPIHandler(ctx context.Context, echo *echo.Echo, validator *goValidator.Validate, service *service.Service) *HttpAPIHandler {
	return &HttpAPIHandler{
		echo:      echo,
		validator: validator,
		service:   service,
	}
}

func (h *HttpAPIHandler) SetupRoutes() {
	base := h.echo.Group("/api", rateLimitMiddleware())
	h.SetupBacktest(base)
	h.SetupSchedules(base)
}

// rateLimitMiddleware throttles per client IP. Backtests are expensive; a
// single client hammering the run endpoint starves the scheduler.
func rateLimitMiddleware() echo.MiddlewareFunc {
	store := ratelimit.NewLimiterStore(rate.Limit(10), 20)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !store.GetLimiter(c.RealIP()).Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
