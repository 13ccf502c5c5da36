package handler

import (
	inventoryapp "github.com/erp/batchalloc/internal/application/inventory"
	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/gin-gonic/gin"
)

// InventoryHandler answers stock availability queries
type InventoryHandler struct {
	BaseHandler
	batchService *inventoryapp.BatchService
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(batchService *inventoryapp.BatchService) *InventoryHandler {
	return &InventoryHandler{batchService: batchService}
}

// AvailabilityQuery selects one product or one variant
type AvailabilityQuery struct {
	ProductID string `form:"product_id" binding:"omitempty,uuid"`
	VariantID string `form:"variant_id" binding:"omitempty,uuid"`
}

// Availability godoc
// @ID           getInventoryAvailability
// @Summary      Get available quantity
// @Description  Sums the quantity of active batches for exactly one product or variant.
// @Tags         inventory
// @Produce      json
// @Param        product_id query string false "Product ID" format(uuid)
// @Param        variant_id query string false "Variant ID" format(uuid)
// @Success      200 {object} APIResponse[inventoryapp.AvailabilityResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /inventory/availability [get]
func (h *InventoryHandler) Availability(c *gin.Context) {
	var q AvailabilityQuery
	if !h.BindQuery(c, &q) {
		return
	}

	ref := inventory.ItemRef{
		ProductID: parseOptionalUUID(q.ProductID),
		VariantID: parseOptionalUUID(q.VariantID),
	}
	availability, err := h.batchService.AvailableQuantity(c.Request.Context(), ref)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, availability)
}
