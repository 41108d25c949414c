package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	domaincolumn "smartlocker/internal/domain/column"
	"smartlocker/internal/protocol"
	"smartlocker/internal/relay"
	"smartlocker/pkg/httpx"
)

// CommandHandler exposes the maintenance passthrough: operator commands
// relayed verbatim to a column controller.
type CommandHandler struct {
	relay *relay.Client
}

func NewCommandHandler(relay *relay.Client) *CommandHandler {
	return &CommandHandler{relay: relay}
}

func (h *CommandHandler) RegisterRoutes(router *gin.RouterGroup) {
	columns := router.Group("/columns/:id")
	{
		columns.GET("/status", h.Status)

		compartments := columns.Group("/compartments/:index")
		{
			compartments.POST("/unlock", h.Unlock)
			compartments.POST("/lock", h.Lock)
			compartments.POST("/outputs", h.SetOutput)
			compartments.POST("/jog", h.Jog)
			compartments.POST("/sanitize", h.Sanitize)
			compartments.POST("/clear-fault", h.ClearFault)
		}
	}
}

func (h *CommandHandler) Status(c *gin.Context) {
	statuses, err := h.relay.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.ErrorResponse(c, relayStatus(err), err.Error())
		return
	}
	httpx.SuccessResponse(c, http.StatusOK, "Status retrieved successfully", statuses)
}

func (h *CommandHandler) Unlock(c *gin.Context) {
	h.command(c, func(columnID string, index int) error {
		return h.relay.Unlock(c.Request.Context(), columnID, index)
	})
}

func (h *CommandHandler) Lock(c *gin.Context) {
	h.command(c, func(columnID string, index int) error {
		return h.relay.Lock(c.Request.Context(), columnID, index)
	})
}

func (h *CommandHandler) SetOutput(c *gin.Context) {
	var req protocol.SetOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.command(c, func(columnID string, index int) error {
		return h.relay.SetOutput(c.Request.Context(), columnID, index, req.Output, req.On)
	})
}

func (h *CommandHandler) Jog(c *gin.Context) {
	var req protocol.JogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.command(c, func(columnID string, index int) error {
		return h.relay.Jog(c.Request.Context(), columnID, index, req.Steps, req.Direction)
	})
}

func (h *CommandHandler) Sanitize(c *gin.Context) {
	var req protocol.SanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.command(c, func(columnID string, index int) error {
		return h.relay.Sanitize(c.Request.Context(), columnID, index,
			time.Duration(req.DurationMs)*time.Millisecond)
	})
}

func (h *CommandHandler) ClearFault(c *gin.Context) {
	h.command(c, func(columnID string, index int) error {
		return h.relay.ClearFault(c.Request.Context(), columnID, index)
	})
}

func (h *CommandHandler) command(c *gin.Context, run func(columnID string, index int) error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid compartment index")
		return
	}

	if err := run(c.Param("id"), index); err != nil {
		httpx.ErrorResponse(c, relayStatus(err), err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusOK, "Command accepted", nil)
}

func relayStatus(err error) int {
	switch {
	case errors.Is(err, domaincolumn.ErrColumnNotFound):
		return http.StatusNotFound
	case errors.Is(err, domaincolumn.ErrColumnOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, domaincolumn.ErrCommunicationFailure):
		return http.StatusBadGateway
	case errors.Is(err, domaincolumn.ErrCommandRejected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
