package handler

import (
	tradeapp "github.com/erp/batchalloc/internal/application/trade"
	"github.com/gin-gonic/gin"
)

// OrderHandler handles order endpoints. Stock reservation runs inside the request through
// the event bus, so responses already carry each line's allocation outcome.
type OrderHandler struct {
	BaseHandler
	orderService *tradeapp.OrderService
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orderService *tradeapp.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// LookupOrderQuery finds an order by its number
type LookupOrderQuery struct {
	OrderNumber string `form:"order_number" binding:"required,max=50"`
}

// Create godoc
// @ID           createOrder
// @Summary      Create an order
// @Description  Persists a pending order and reserves batch stock for every line, earliest
// @Description  expiry first. Lines that cannot be covered are marked partial or shortfall;
// @Description  the order is still created.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        request body tradeapp.CreateOrderRequest true "Order"
// @Success      201 {object} APIResponse[tradeapp.OrderResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /orders [post]
func (h *OrderHandler) Create(c *gin.Context) {
	var req tradeapp.CreateOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Created(c, order)
}

// Get godoc
// @ID           getOrder
// @Summary      Get order by ID
// @Tags         orders
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Success      200 {object} APIResponse[tradeapp.OrderResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /orders/{id} [get]
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := h.PathID(c, "order")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, order)
}

// Lookup godoc
// @ID           lookupOrder
// @Summary      Get order by number
// @Tags         orders
// @Produce      json
// @Param        order_number query string true "Order number"
// @Success      200 {object} APIResponse[tradeapp.OrderResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /orders [get]
func (h *OrderHandler) Lookup(c *gin.Context) {
	var q LookupOrderQuery
	if !h.BindQuery(c, &q) {
		return
	}

	order, err := h.orderService.GetOrderByNumber(c.Request.Context(), q.OrderNumber)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, order)
}

// UpdateStatus godoc
// @ID           updateOrderStatus
// @Summary      Change order status
// @Description  Moves the order along its lifecycle. Entering paid reserves stock for lines that
// @Description  were not reserved at creation; lines already settled are left untouched.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Param        request body tradeapp.UpdateOrderStatusRequest true "Target status"
// @Success      200 {object} APIResponse[tradeapp.OrderResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /orders/{id}/status [patch]
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := h.PathID(c, "order")
	if !ok {
		return
	}
	var req tradeapp.UpdateOrderStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	order, err := h.orderService.UpdateOrderStatus(c.Request.Context(), id, req)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	h.Success(c, order)
}
