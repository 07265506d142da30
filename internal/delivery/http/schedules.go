package http

import (
	"net/http"
	"strconv"

	"golang-backtest/internal/dto"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupSchedules(base *echo.Group) {
	scheduleGroup := base.Group("/schedules")
	scheduleGroup.POST("", h.createSchedule)
	scheduleGroup.DELETE("/:id", h.deactivateSchedule)
	scheduleGroup.POST("/run", h.runSchedules)
}

func (h *HttpAPIHandler) createSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	req := new(dto.ScheduleRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	schedule, err := h.service.SchedulerService.CreateSchedule(ctx, *req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, schedule)
}

func (h *HttpAPIHandler) deactivateSchedule(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid schedule id"})
	}

	if err := h.service.SchedulerService.DeactivateSchedule(ctx, uint(id)); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to deactivate schedule"})
	}

	return c.NoContent(http.StatusNoContent)
}

// runSchedules triggers one scheduler pass on demand, the same pass the
// background loop runs every minute.
func (h *HttpAPIHandler) runSchedules(c echo.Context) error {
	if err := h.service.SchedulerService.Execute(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "scheduler pass started"})
}
