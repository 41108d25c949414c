package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domaincolumn "smartlocker/internal/domain/column"
	domainres "smartlocker/internal/domain/reservation"
	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/registry"
	"smartlocker/internal/reservation"
	"smartlocker/pkg/httpx"
)

// ReservationHandler serves the order lifecycle: assignment, courier
// loading, and customer pickup.
type ReservationHandler struct {
	service  *reservation.Service
	registry *registry.Service
}

func NewReservationHandler(service *reservation.Service, reg *registry.Service) *ReservationHandler {
	return &ReservationHandler{service: service, registry: reg}
}

func (h *ReservationHandler) RegisterRoutes(router *gin.RouterGroup) {
	reservations := router.Group("/reservations")
	{
		reservations.POST("", h.Assign)
		reservations.POST("/:orderID/loaded", h.MarkLoaded)
	}
	router.POST("/pickup", h.Pickup)

	compartments := router.Group("/compartments")
	{
		compartments.GET("", h.ListCompartments)
		compartments.GET("/:columnID/:index", h.GetCompartment)
	}
}

type assignRequest struct {
	OrderID  string `json:"order_id" binding:"required"`
	Size     string `json:"size,omitempty" binding:"omitempty,oneof=S M L"`
	ColumnID string `json:"column_id,omitempty"`
	Index    *int   `json:"index,omitempty"`
}

type assignResponse struct {
	OrderID     string                  `json:"order_id"`
	Compartment domainres.CompartmentID `json:"compartment"`
	PickupCode  string                  `json:"pickup_code"`
}

func (h *ReservationHandler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	var explicit *domainres.CompartmentID
	if req.ColumnID != "" && req.Index != nil {
		explicit = &domainres.CompartmentID{ColumnID: req.ColumnID, Index: *req.Index}
	}

	code, id, err := h.service.Assign(c.Request.Context(), req.OrderID, explicit, domainres.Size(req.Size))
	if err != nil {
		httpx.ErrorResponse(c, reservationStatus(err), err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusCreated, "Compartment reserved", assignResponse{
		OrderID:     req.OrderID,
		Compartment: id,
		PickupCode:  code,
	})
}

func (h *ReservationHandler) MarkLoaded(c *gin.Context) {
	orderID := c.Param("orderID")
	if orderID == "" {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Order ID required")
		return
	}

	if err := h.service.MarkLoaded(c.Request.Context(), orderID); err != nil {
		httpx.ErrorResponse(c, reservationStatus(err), err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusOK, "Order marked as loaded", nil)
}

type pickupRequest struct {
	Code string `json:"code" binding:"required"`
}

type pickupResponse struct {
	OrderID     string                  `json:"order_id"`
	Compartment domainres.CompartmentID `json:"compartment"`
}

func (h *ReservationHandler) Pickup(c *gin.Context) {
	var req pickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, orderID, err := h.service.ValidateAndUnlock(c.Request.Context(), req.Code)
	if err != nil {
		httpx.ErrorResponse(c, reservationStatus(err), err.Error())
		return
	}

	httpx.SuccessResponse(c, http.StatusOK, "Compartment unlocked", pickupResponse{
		OrderID:     orderID,
		Compartment: id,
	})
}

func (h *ReservationHandler) ListCompartments(c *gin.Context) {
	httpx.SuccessResponse(c, http.StatusOK, "Compartments retrieved successfully", h.service.List())
}

type compartmentResponse struct {
	domainres.Compartment
	Online  bool                 `json:"online"`
	Sensors *compartment.Sensors `json:"sensors,omitempty"`
}

func (h *ReservationHandler) GetCompartment(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		httpx.ErrorResponse(c, http.StatusBadRequest, "Invalid compartment index")
		return
	}

	columnID := c.Param("columnID")
	comp, err := h.service.Compartment(domainres.CompartmentID{
		ColumnID: columnID,
		Index:    index,
	})
	if err != nil {
		httpx.ErrorResponse(c, reservationStatus(err), err.Error())
		return
	}

	resp := compartmentResponse{Compartment: comp}
	if col, err := h.registry.Get(columnID); err == nil {
		resp.Online = col.Online
		for i := range col.Snapshots {
			if col.Snapshots[i].Index == index {
				sensors := col.Snapshots[i].Sensors
				resp.Sensors = &sensors
				break
			}
		}
	}

	httpx.SuccessResponse(c, http.StatusOK, "Compartment retrieved successfully", resp)
}

// reservationStatus maps reservation and relay errors to HTTP statuses.
func reservationStatus(err error) int {
	switch {
	case errors.Is(err, domainres.ErrOrderNotFound),
		errors.Is(err, domainres.ErrCompartmentNotFound),
		errors.Is(err, domainres.ErrInvalidOrExpiredCode):
		return http.StatusNotFound
	case errors.Is(err, domainres.ErrNoAvailableCompartments),
		errors.Is(err, domainres.ErrCompartmentUnavailable),
		errors.Is(err, domainres.ErrOrderAlreadyAssigned),
		errors.Is(err, domainres.ErrNotReadyForPickup):
		return http.StatusConflict
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
