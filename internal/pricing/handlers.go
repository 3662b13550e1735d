package pricing

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bzeklaf/desynth-sub000/internal/logging"
)

// Handler provides admin HTTP endpoints for the fee schedule.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new pricing handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterAdminRoutes sets up the admin-capability fee-rate routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/fees/rates", h.GetRates)
	r.PUT("/fees/rates", h.UpdateRates)
}

// GetRates handles GET /v1/admin/fees/rates
func (h *Handler) GetRates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"rates": h.engine.Rates()},
	})
}

// UpdateRates handles PUT /v1/admin/fees/rates.
// Edits apply to future bookings only; existing fee snapshots are never
// recomputed.
func (h *Handler) UpdateRates(c *gin.Context) {
	var rates Rates
	if err := c.ShouldBindJSON(&rates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid rate configuration body",
			},
		})
		return
	}

	if err := h.engine.UpdateRates(&rates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": err.Error(),
			},
		})
		return
	}

	logging.L(c.Request.Context()).Info("fee rates updated")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"rates": h.engine.Rates()},
	})
}
