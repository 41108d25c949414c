package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"smartlocker/internal/eventlog"
	"smartlocker/internal/ingestion"
	"smartlocker/internal/protocol"
	"smartlocker/pkg/httpx"
)

// EventHandler serves the persisted event log for operators.
type EventHandler struct {
	repo      *eventlog.Repository
	processor *ingestion.Processor
}

func NewEventHandler(repo *eventlog.Repository, processor *ingestion.Processor) *EventHandler {
	return &EventHandler{repo: repo, processor: processor}
}

func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	events := router.Group("/events")
	{
		events.GET("", h.ListEvents)
		events.GET("/summary", h.Summary)
		events.GET("/stats", h.Stats)
	}
}

func (h *EventHandler) ListEvents(c *gin.Context) {
	filter := eventlog.Filter{
		ColumnID: c.Query("column_id"),
		Kind:     protocol.EventKind(c.Query("kind")),
	}

	if v := c.Query("compartment"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil {
			httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid compartment index")
			return
		}
		filter.Compartment = &idx
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid since timestamp, expected RFC3339")
			return
		}
		filter.Since = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	events, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		httpx.ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusOK, "Events retrieved successfully", events)
}

func (h *EventHandler) Summary(c *gin.Context) {
	counts, err := h.repo.CountByKind(c.Request.Context(), c.Query("column_id"))
	if err != nil {
		httpx.ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusOK, "Event summary retrieved successfully", counts)
}

func (h *EventHandler) Stats(c *gin.Context) {
	httpx.SuccessResponse(c, http.StatusOK, "Ingestion stats retrieved successfully", h.processor.Stats())
}
