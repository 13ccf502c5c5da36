package handler

import (
	inventoryapp "github.com/erp/batchalloc/internal/application/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BatchHandler handles inventory batch endpoints
type BatchHandler struct {
	BaseHandler
	batchService *inventoryapp.BatchService
}

// NewBatchHandler creates a new BatchHandler
func NewBatchHandler(batchService *inventoryapp.BatchService) *BatchHandler {
	return &BatchHandler{batchService: batchService}
}

// ListBatchesQuery represents the query string of the batch list
type ListBatchesQuery struct {
	ProductID string `form:"product_id" binding:"omitempty,uuid"`
	VariantID string `form:"variant_id" binding:"omitempty,uuid"`
	Status    string `form:"status" binding:"omitempty,batch_status"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=1,max=500"`
}

// Create godoc
// @ID           createBatch
// @Summary      Record a received batch
// @Description  Creates a batch for exactly one product or variant. Status defaults to active and
// @Description  is corrected on write: zero quantity becomes depleted, a past expiry becomes expired.
// @Tags         batches
// @Accept       json
// @Produce      json
// @Param        request body inventoryapp.CreateBatchRequest true "Batch"
// @Success      201 {object} APIResponse[inventoryapp.BatchResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /batches [post]
func (h *BatchHandler) Create(c *gin.Context) {
	var req inventoryapp.CreateBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	batch, err := h.batchService.CreateBatch(c.Request.Context(), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Created(c, batch)
}

// List godoc
// @ID           listBatches
// @Summary      List batches
// @Description  Lists batches in FEFO order (earliest expiry first, undated last) with derived
// @Description  read-time status, near-expiry flag and days until expiry.
// @Tags         batches
// @Produce      json
// @Param        product_id query string false "Product ID" format(uuid)
// @Param        variant_id query string false "Variant ID" format(uuid)
// @Param        status query string false "Stored status" Enums(active, depleted, expired, reserved, recalled)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(500)
// @Success      200 {object} APIResponse[[]inventoryapp.BatchResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	var q ListBatchesQuery
	if !h.BindQuery(c, &q) {
		return
	}

	filter := inventoryapp.BatchListFilter{
		ProductID: parseOptionalUUID(q.ProductID),
		VariantID: parseOptionalUUID(q.VariantID),
		Status:    q.Status,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	batches, total, err := h.batchService.ListBatches(c.Request.Context(), filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	page := shared.Pagination{Page: q.Page, PageSize: q.PageSize}
	h.SuccessWithMeta(c, batches, total, max(q.Page, 1), page.Limit())
}

// Get godoc
// @ID           getBatch
// @Summary      Get batch by ID
// @Tags         batches
// @Produce      json
// @Param        id path string true "Batch ID" format(uuid)
// @Success      200 {object} APIResponse[inventoryapp.BatchResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /batches/{id} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	id, ok := h.PathID(c, "batch")
	if !ok {
		return
	}

	batch, err := h.batchService.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, batch)
}

// Update godoc
// @ID           updateBatch
// @Summary      Update a batch
// @Description  Patches quantity, status, dates or descriptive fields. Lifecycle rules apply on
// @Description  write: zero quantity depletes, restocking a depleted batch reactivates it, and a
// @Description  passed expiry forces expired. Send version to guard against concurrent edits.
// @Tags         batches
// @Accept       json
// @Produce      json
// @Param        id path string true "Batch ID" format(uuid)
// @Param        request body inventoryapp.UpdateBatchRequest true "Patch"
// @Success      200 {object} APIResponse[inventoryapp.BatchResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Router       /batches/{id} [patch]
func (h *BatchHandler) Update(c *gin.Context) {
	id, ok := h.PathID(c, "batch")
	if !ok {
		return
	}
	var req inventoryapp.UpdateBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	batch, err := h.batchService.UpdateBatch(c.Request.Context(), id, req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, batch)
}

// parseOptionalUUID parses an already validated optional uuid query value
func parseOptionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
