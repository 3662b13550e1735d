package booking

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bzeklaf/desynth-sub000/internal/validation"
)

// Handler provides HTTP endpoints for booking operations.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new booking handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up booking routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
	r.GET("/bookings/:id", h.GetBooking)
	r.POST("/bookings/:id/cancel", h.CancelBooking)
}

// CreateBooking handles POST /v1/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", nil)
		return
	}

	if errs := validation.Validate(
		validation.Required("buyerId", req.BuyerID),
		validation.Required("slotId", req.SlotID),
	); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", errs.Error(), errs)
		return
	}

	b, err := h.manager.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidMethod):
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		default:
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create booking", nil)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"booking": b}})
}

// GetBooking handles GET /v1/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeBookingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"booking": b}})
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *Handler) CancelBooking(c *gin.Context) {
	b, err := h.manager.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeBookingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"booking": b}})
}

func writeBookingError(c *gin.Context, err error) {
	var stateErr *StateError
	switch {
	case errors.Is(err, ErrBookingNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Booking not found", nil)
	case errors.As(err, &stateErr):
		writeError(c, http.StatusConflict, "INVALID_STATE", stateErr.Error(), gin.H{
			"current":  stateErr.Current,
			"expected": stateErr.Expected,
		})
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", nil)
	}
}

func writeError(c *gin.Context, status int, code, message string, details interface{}) {
	body := gin.H{"code": code, "message": message}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{"success": false, "error": body})
}
