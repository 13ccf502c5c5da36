package trade

import (
	"time"

	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/google/uuid"
)

// OrderItemRequest is one line of a create order request. Product accepts a bare id or an
// embedded product object.
type OrderItemRequest struct {
	Product   trade.ProductRef `json:"product"`
	VariantID *uuid.UUID       `json:"variant_id"`
	Quantity  int64            `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	OrderNumber string             `json:"order_number" binding:"required,max=50"`
	Items       []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Notes       string             `json:"notes" binding:"max=2000"`
}

// UpdateOrderStatusRequest moves an order to a new status
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required,order_status"`
}

// OrderItemResponse represents an order line in API responses
type OrderItemResponse struct {
	ID                uuid.UUID               `json:"id"`
	ProductID         uuid.UUID               `json:"product_id"`
	VariantID         *uuid.UUID              `json:"variant_id,omitempty"`
	Quantity          int64                   `json:"quantity"`
	ReservationStatus string                  `json:"reservation_status"`
	BatchAllocations  []trade.BatchAllocation `json:"batch_allocations"`
	Allocated         int64                   `json:"allocated"`
	Shortfall         int64                   `json:"shortfall"`
	ReservationNote   string                  `json:"reservation_note,omitempty"`
	ReservedAt        *time.Time              `json:"reserved_at,omitempty"`
}

// OrderResponse represents an order in API responses
type OrderResponse struct {
	ID             uuid.UUID           `json:"id"`
	OrderNumber    string              `json:"order_number"`
	Status         string              `json:"status"`
	Items          []OrderItemResponse `json:"items"`
	HasShortfall   bool                `json:"has_shortfall"`
	TotalShortfall int64               `json:"total_shortfall"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Version        int                 `json:"version"`
}

// ToOrderResponse converts an order to its response
func ToOrderResponse(o *trade.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i := range o.Items {
		item := &o.Items[i]
		allocations := item.BatchAllocations
		if allocations == nil {
			allocations = []trade.BatchAllocation{}
		}
		items[i] = OrderItemResponse{
			ID:                item.ID,
			ProductID:         item.Product.ID,
			VariantID:         item.VariantID,
			Quantity:          item.Quantity,
			ReservationStatus: string(item.ReservationStatus),
			BatchAllocations:  allocations,
			Allocated:         item.AllocatedQuantity(),
			Shortfall:         item.Shortfall,
			ReservationNote:   item.ReservationNote,
			ReservedAt:        item.ReservedAt,
		}
	}
	return OrderResponse{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		Status:         string(o.Status),
		Items:          items,
		HasShortfall:   o.HasShortfall,
		TotalShortfall: o.TotalShortfall(),
		Notes:          o.Notes,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		Version:        o.Version,
	}
}
