package inventory

import (
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchResponse represents a batch in API responses. Status is the effective status at
// read time; StoredStatus is what the store holds.
type BatchResponse struct {
	ID              uuid.UUID       `json:"id"`
	BatchNumber     string          `json:"batch_number"`
	ProductID       *uuid.UUID      `json:"product_id,omitempty"`
	VariantID       *uuid.UUID      `json:"variant_id,omitempty"`
	Quantity        int64           `json:"quantity"`
	Status          string          `json:"status"`
	StoredStatus    string          `json:"stored_status"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	ManufactureDate *time.Time      `json:"manufacture_date,omitempty"`
	ReceivedDate    time.Time       `json:"received_date"`
	Supplier        string          `json:"supplier,omitempty"`
	CostPerUnit     decimal.Decimal `json:"cost_per_unit"`
	Notes           string          `json:"notes,omitempty"`
	NearExpiry      bool            `json:"near_expiry"`
	DaysUntilExpiry *int            `json:"days_until_expiry,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
}

// CreateBatchRequest represents a request to record a received batch.
// Exactly one of ProductID and VariantID must be set.
type CreateBatchRequest struct {
	BatchNumber     string           `json:"batch_number" binding:"required,max=64"`
	ProductID       *uuid.UUID       `json:"product_id"`
	VariantID       *uuid.UUID       `json:"variant_id"`
	Quantity        int64            `json:"quantity" binding:"min=0"`
	Status          string           `json:"status" binding:"omitempty,batch_status"`
	ExpiryDate      *time.Time       `json:"expiry_date"`
	ManufactureDate *time.Time       `json:"manufacture_date"`
	ReceivedDate    *time.Time       `json:"received_date"`
	Supplier        string           `json:"supplier" binding:"max=200"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit"`
	Notes           string           `json:"notes" binding:"max=2000"`
}

// UpdateBatchRequest patches a batch; nil fields are left unchanged
type UpdateBatchRequest struct {
	Quantity        *int64           `json:"quantity" binding:"omitempty,min=0"`
	Status          *string          `json:"status" binding:"omitempty,batch_status"`
	ExpiryDate      *time.Time       `json:"expiry_date"`
	ManufactureDate *time.Time       `json:"manufacture_date"`
	Supplier        *string          `json:"supplier" binding:"omitempty,max=200"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit"`
	Notes           *string          `json:"notes" binding:"omitempty,max=2000"`
	Version         *int             `json:"version"`
}

// BatchListFilter represents filter options for the batch list
type BatchListFilter struct {
	ProductID *uuid.UUID `form:"product_id"`
	VariantID *uuid.UUID `form:"variant_id"`
	Status    string     `form:"status" binding:"omitempty,batch_status"`
	Page      int        `form:"page" binding:"omitempty,min=1"`
	PageSize  int        `form:"page_size" binding:"omitempty,min=1,max=500"`
}

// AvailabilityResponse is the allocatable stock of one product or variant
type AvailabilityResponse struct {
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Available int64      `json:"available"`
}

// SweepResult reports one expiry sweep run
type SweepResult struct {
	Expired  int `json:"expired"`
	Skipped  int `json:"skipped"`
	Examined int `json:"examined"`
}

// ToBatchResponse converts a read view to its response
func ToBatchResponse(view inventory.BatchView) BatchResponse {
	b := view.Batch
	return BatchResponse{
		ID:              b.ID,
		BatchNumber:     b.BatchNumber,
		ProductID:       b.ProductID,
		VariantID:       b.VariantID,
		Quantity:        b.Quantity,
		Status:          string(view.EffectiveStatus),
		StoredStatus:    string(b.Status),
		ExpiryDate:      b.ExpiryDate,
		ManufactureDate: b.ManufactureDate,
		ReceivedDate:    b.ReceivedDate,
		Supplier:        b.Supplier,
		CostPerUnit:     b.CostPerUnit,
		Notes:           b.Notes,
		NearExpiry:      view.NearExpiry,
		DaysUntilExpiry: view.DaysUntilExpiry,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		Version:         b.Version,
	}
}
