package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/validation"
)

// Handler provides HTTP endpoints for escrow settlement.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a new escrow handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// RegisterRoutes sets up the escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/actions", h.Dispatch)
	r.GET("/escrow/:id", h.GetStatus)
}

// actionRequest is the envelope for POST /v1/escrow/actions. Which
// fields are required depends on the action.
type actionRequest struct {
	Action string `json:"action" binding:"required"`

	BookingID       string `json:"bookingId"`
	BuyerAddress    string `json:"buyerAddress"`
	FacilityAddress string `json:"facilityAddress"`
	Amount          int64  `json:"amount"`
	Token           string `json:"token"`
	Network         string `json:"network"`

	EscrowID      string `json:"escrowId"`
	TxHash        string `json:"txHash"`
	ReleaseTxHash string `json:"releaseTxHash"`
	Reason        string `json:"reason"`
	Winner        string `json:"winner"`
	Resolution    string `json:"resolution"`
	Actor         string `json:"actor"`
}

// Dispatch handles POST /v1/escrow/actions
func (h *Handler) Dispatch(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", nil)
		return
	}

	switch req.Action {
	case "create_escrow":
		h.create(c, req)
	case "confirm_escrow":
		h.confirm(c, req)
	case "release_escrow":
		h.release(c, req)
	case "dispute_escrow":
		h.dispute(c, req)
	case "resolve_dispute":
		h.resolve(c, req)
	case "get_status":
		h.status(c, req)
	default:
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown action: "+req.Action, nil)
	}
}

func (h *Handler) create(c *gin.Context, req actionRequest) {
	// buyerAddress may be absent at creation; it is known at the latest
	// from the funding transaction.
	if errs := validation.Validate(
		validation.Required("bookingId", req.BookingID),
		validation.ValidBookingID("bookingId", req.BookingID),
		validation.ValidAddress("buyerAddress", req.BuyerAddress),
		validation.Required("facilityAddress", req.FacilityAddress),
		validation.ValidAddress("facilityAddress", req.FacilityAddress),
	); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", errs.Error(), errs)
		return
	}

	e, err := h.coordinator.Create(c.Request.Context(), CreateRequest{
		BookingID:       req.BookingID,
		BuyerAddress:    req.BuyerAddress,
		FacilityAddress: req.FacilityAddress,
		Amount:          req.Amount,
		Token:           req.Token,
		Network:         req.Network,
	})
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"escrow": e}})
}

func (h *Handler) confirm(c *gin.Context, req actionRequest) {
	if errs := validation.Validate(
		validation.Required("bookingId", req.BookingID),
		validation.ValidBookingID("bookingId", req.BookingID),
		validation.Required("txHash", req.TxHash),
		validation.ValidTxHash("txHash", req.TxHash),
	); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", errs.Error(), errs)
		return
	}

	e, err := h.coordinator.Confirm(c.Request.Context(), req.BookingID, req.TxHash)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"escrow": e}})
}

func (h *Handler) release(c *gin.Context, req actionRequest) {
	if !c.GetBool("authArbiter") && !c.GetBool("authAdmin") {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Release requires arbiter capability", nil)
		return
	}
	if errs := validation.Validate(
		validation.ValidTxHash("releaseTxHash", req.ReleaseTxHash),
	); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", errs.Error(), errs)
		return
	}
	escrowID, ok := h.resolveEscrowID(c, req)
	if !ok {
		return
	}

	e, err := h.coordinator.Release(c.Request.Context(), escrowID, req.ReleaseTxHash, req.Actor)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"escrow": e}})
}

func (h *Handler) dispute(c *gin.Context, req actionRequest) {
	if errs := validation.Validate(
		validation.Required("reason", req.Reason),
	); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", errs.Error(), errs)
		return
	}
	escrowID, ok := h.resolveEscrowID(c, req)
	if !ok {
		return
	}

	e, err := h.coordinator.Dispute(c.Request.Context(), escrowID, req.Reason, req.Actor)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"escrow": e}})
}

func (h *Handler) resolve(c *gin.Context, req actionRequest) {
	if !c.GetBool("authAdmin") {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "Dispute resolution requires admin capability", nil)
		return
	}
	if errs := validation.Validate(
		validation.Required("winner", req.Winner),
	); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", errs.Error(), errs)
		return
	}
	escrowID, ok := h.resolveEscrowID(c, req)
	if !ok {
		return
	}

	e, err := h.coordinator.Resolve(c.Request.Context(), escrowID, Winner(req.Winner), req.Resolution, req.Actor)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"escrow": e}})
}

func (h *Handler) status(c *gin.Context, req actionRequest) {
	escrowID, ok := h.resolveEscrowID(c, req)
	if !ok {
		return
	}

	report, err := h.coordinator.GetStatus(c.Request.Context(), escrowID)
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}

// resolveEscrowID picks the escrow a request addresses. Since a booking
// carries at most one escrow, bookingId is an equivalent key and every
// action accepts either.
func (h *Handler) resolveEscrowID(c *gin.Context, req actionRequest) (string, bool) {
	if req.EscrowID != "" {
		return req.EscrowID, true
	}
	if req.BookingID != "" {
		e, err := h.coordinator.GetByBooking(c.Request.Context(), req.BookingID)
		if err != nil {
			writeEscrowError(c, err)
			return "", false
		}
		return e.ID, true
	}
	writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "escrowId or bookingId is required", nil)
	return "", false
}

// GetStatus handles GET /v1/escrow/:id
func (h *Handler) GetStatus(c *gin.Context) {
	report, err := h.coordinator.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeEscrowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}

// writeEscrowError maps coordinator errors onto the response envelope.
func writeEscrowError(c *gin.Context, err error) {
	var (
		fieldErrs  validation.FieldErrors
		stateErr   *StateError
		bStateErr  *booking.StateError
		confirmErr *ConfirmationError
	)
	switch {
	case errors.As(err, &fieldErrs):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", fieldErrs.Error(), fieldErrs)
	case errors.Is(err, ErrInvalidWinner):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, ErrEscrowNotFound), errors.Is(err, booking.ErrBookingNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrDuplicateBooking):
		writeError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error(), nil)
	case errors.As(err, &stateErr):
		writeError(c, http.StatusConflict, "INVALID_STATE", stateErr.Error(), gin.H{
			"current":  stateErr.Current,
			"expected": stateErr.Expected,
		})
	case errors.As(err, &bStateErr):
		writeError(c, http.StatusConflict, "INVALID_STATE", bStateErr.Error(), gin.H{
			"current":  bStateErr.Current,
			"expected": bStateErr.Expected,
		})
	case errors.Is(err, ErrTxNotVerified):
		writeError(c, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
	case errors.As(err, &confirmErr):
		writeError(c, http.StatusBadRequest, "INSUFFICIENT_CONFIRMATIONS", confirmErr.Error(), gin.H{
			"confirmations": confirmErr.Confirmations,
			"required":      confirmErr.Required,
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
