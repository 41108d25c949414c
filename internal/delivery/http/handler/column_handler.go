// Package handler holds the coordinator's HTTP handlers.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domaincolumn "smartlocker/internal/domain/column"
	"smartlocker/internal/ingestion"
	"smartlocker/internal/protocol"
	"smartlocker/internal/registry"
	"smartlocker/internal/reservation"
	"smartlocker/pkg/httpx"
)

// ColumnHandler serves the column-facing sync endpoints plus the operator
// column listing.
type ColumnHandler struct {
	registry     *registry.Service
	reservations *reservation.Service
	processor    *ingestion.Processor
}

func NewColumnHandler(reg *registry.Service, res *reservation.Service, proc *ingestion.Processor) *ColumnHandler {
	return &ColumnHandler{registry: reg, reservations: res, processor: proc}
}

// RegisterSyncRoutes mounts the endpoints column controllers call.
func (h *ColumnHandler) RegisterSyncRoutes(router *gin.RouterGroup) {
	sync := router.Group("/sync")
	{
		sync.POST("/announce", h.Announce)
		sync.POST("/heartbeat", h.Heartbeat)
		sync.POST("/events", h.Event)
	}
}

// RegisterRoutes mounts the operator-facing column listing.
func (h *ColumnHandler) RegisterRoutes(router *gin.RouterGroup) {
	columns := router.Group("/columns")
	{
		columns.GET("", h.ListColumns)
		columns.GET("/:id", h.GetColumn)
	}
}

func (h *ColumnHandler) Announce(c *gin.Context) {
	var req protocol.AnnounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.registry.Announce(req)
	h.reservations.RegisterColumn(req.ColumnID, req.Compartments, req.Sizes)

	httpx.SuccessResponse(c, http.StatusOK, "Column registered", nil)
}

func (h *ColumnHandler) Heartbeat(c *gin.Context) {
	var req protocol.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.registry.Heartbeat(req); err != nil {
		if errors.Is(err, domaincolumn.ErrColumnNotFound) {
			// Unknown column: reject so the controller falls back to
			// announcing itself.
			httpx.ErrorResponse(c, http.StatusNotFound, "Column not registered, announce first")
			return
		}
		httpx.ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	h.reservations.Reconcile(req.ColumnID, req.Compartments)

	httpx.SuccessResponse(c, http.StatusOK, "Heartbeat accepted", nil)
}

// Event is the HTTP fallback for columns without a broker connection.
func (h *ColumnHandler) Event(c *gin.Context) {
	var msg protocol.EventMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.processor.Submit(msg); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusAccepted, "Event accepted", nil)
}

func (h *ColumnHandler) ListColumns(c *gin.Context) {
	httpx.SuccessResponse(c, http.StatusOK, "Columns retrieved successfully", h.registry.List())
}

func (h *ColumnHandler) GetColumn(c *gin.Context) {
	col, err := h.registry.Get(c.Param("id"))
	if err != nil {
		httpx.ErrorResponse(c, http.StatusNotFound, err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusOK, "Column retrieved successfully", col)
}
