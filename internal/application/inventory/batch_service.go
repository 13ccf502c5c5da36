package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSweepBatchSize is how many expired batches one sweep page reads
const DefaultSweepBatchSize = 200

// BatchService handles batch management, availability queries and the expiry sweep
type BatchService struct {
	batchRepo inventory.BatchRepository
	policy    inventory.LifecyclePolicy
	publisher shared.EventPublisher
	logger    *zap.Logger
	sweepSize int
	now       func() time.Time
}

// BatchServiceOption configures a BatchService
type BatchServiceOption func(*BatchService)

// WithBatchLifecyclePolicy sets the lifecycle policy applied on write and read
func WithBatchLifecyclePolicy(p inventory.LifecyclePolicy) BatchServiceOption {
	return func(s *BatchService) {
		s.policy = p
	}
}

// WithBatchEventPublisher sets the publisher for batch events
func WithBatchEventPublisher(p shared.EventPublisher) BatchServiceOption {
	return func(s *BatchService) {
		s.publisher = p
	}
}

// WithSweepBatchSize sets the sweep page size
func WithSweepBatchSize(n int) BatchServiceOption {
	return func(s *BatchService) {
		if n > 0 {
			s.sweepSize = n
		}
	}
}

// WithBatchClock sets the time source
func WithBatchClock(now func() time.Time) BatchServiceOption {
	return func(s *BatchService) {
		s.now = now
	}
}

// NewBatchService creates a new BatchService
func NewBatchService(batchRepo inventory.BatchRepository, logger *zap.Logger, opts ...BatchServiceOption) *BatchService {
	s := &BatchService{
		batchRepo: batchRepo,
		policy:    inventory.NewLifecyclePolicy(),
		publisher: shared.NopPublisher{},
		logger:    logger.Named("batch_service"),
		sweepSize: DefaultSweepBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBatch records a received batch. The lifecycle policy runs before insert, so a
// batch received with zero units is stored depleted and one already past expiry is
// stored expired.
func (s *BatchService) CreateBatch(ctx context.Context, req CreateBatchRequest) (*BatchResponse, error) {
	now := s.now()
	ref := inventory.ItemRef{ProductID: req.ProductID, VariantID: req.VariantID}

	received := now
	if req.ReceivedDate != nil {
		received = req.ReceivedDate.UTC()
	}
	b, err := inventory.NewBatch(req.BatchNumber, ref, req.Quantity, received)
	if err != nil {
		return nil, err
	}
	if req.Status != "" {
		status, err := inventory.ParseBatchStatus(req.Status)
		if err != nil {
			return nil, err
		}
		b.Status = status
	}
	b.ExpiryDate = utcPtr(req.ExpiryDate)
	b.ManufactureDate = utcPtr(req.ManufactureDate)
	b.Supplier = strings.TrimSpace(req.Supplier)
	b.Notes = req.Notes
	if req.CostPerUnit != nil {
		b.CostPerUnit = *req.CostPerUnit
	}

	s.policy.ApplyOnWrite(nil, b, now)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := s.batchRepo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch %s: %w", b.BatchNumber, err)
	}

	logger.Ctx(ctx, s.logger).Info("Batch received",
		zap.String("batch_id", b.ID.String()),
		zap.String("batch_number", b.BatchNumber),
		zap.String("stock_ref", b.Ref().String()),
		zap.Int64("quantity", b.Quantity),
		zap.String("status", string(b.Status)),
	)
	s.publish(ctx, inventory.NewBatchReceivedEvent(b))

	resp := ToBatchResponse(s.policy.DeriveOnRead(b, now))
	return &resp, nil
}

// UpdateBatch patches a batch and re-applies the lifecycle policy against the stored state
func (s *BatchService) UpdateBatch(ctx context.Context, id uuid.UUID, req UpdateBatchRequest) (*BatchResponse, error) {
	previous, err := s.batchRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Version != nil && *req.Version != previous.Version {
		return nil, shared.NewDomainError(shared.CodeConcurrencyConflict,
			fmt.Sprintf("batch %s was modified (version %d, expected %d)", previous.BatchNumber, previous.Version, *req.Version))
	}

	next := previous.Clone()
	if req.Quantity != nil {
		next.Quantity = *req.Quantity
	}
	if req.Status != nil {
		status, err := inventory.ParseBatchStatus(*req.Status)
		if err != nil {
			return nil, err
		}
		next.Status = status
	}
	if req.ExpiryDate != nil {
		next.ExpiryDate = utcPtr(req.ExpiryDate)
	}
	if req.ManufactureDate != nil {
		next.ManufactureDate = utcPtr(req.ManufactureDate)
	}
	if req.Supplier != nil {
		next.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.CostPerUnit != nil {
		next.CostPerUnit = *req.CostPerUnit
	}
	if req.Notes != nil {
		next.Notes = *req.Notes
	}

	now := s.now()
	t := s.policy.ApplyOnWrite(previous, next, now)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Touch(now)
	if err := s.batchRepo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("update batch %s: %w", next.BatchNumber, err)
	}

	// the transition the caller sees runs from the stored status, not the patched one
	t.From = previous.Status
	if evt, ok := inventory.NewBatchStatusChangedEvent(next, t); ok {
		logger.Ctx(ctx, s.logger).Info("Batch status changed",
			zap.String("batch_number", next.BatchNumber),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
		)
		s.publish(ctx, evt)
	}

	resp := ToBatchResponse(s.policy.DeriveOnRead(next, now))
	return &resp, nil
}

// GetBatch returns the read view of a batch
func (s *BatchService) GetBatch(ctx context.Context, id uuid.UUID) (*BatchResponse, error) {
	b, err := s.batchRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToBatchResponse(s.policy.DeriveOnRead(b, s.now()))
	return &resp, nil
}

// ListBatches returns a FEFO-ordered page of batch views and the total count
func (s *BatchService) ListBatches(ctx context.Context, filter BatchListFilter) ([]BatchResponse, int64, error) {
	domainFilter := inventory.BatchFilter{
		ProductID:  filter.ProductID,
		VariantID:  filter.VariantID,
		Pagination: shared.Pagination{Page: filter.Page, PageSize: filter.PageSize},
	}
	if filter.Status != "" {
		status, err := inventory.ParseBatchStatus(filter.Status)
		if err != nil {
			return nil, 0, err
		}
		domainFilter.Status = &status
	}

	batches, total, err := s.batchRepo.List(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	responses := make([]BatchResponse, len(batches))
	for i, b := range batches {
		responses[i] = ToBatchResponse(s.policy.DeriveOnRead(b, now))
	}
	return responses, total, nil
}

// AvailableQuantity sums the units of active batches for ref
func (s *BatchService) AvailableQuantity(ctx context.Context, ref inventory.ItemRef) (*AvailabilityResponse, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	total, err := s.batchRepo.SumActiveQuantity(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &AvailabilityResponse{
		ProductID: ref.ProductID,
		VariantID: ref.VariantID,
		Available: total,
	}, nil
}

// SweepExpired persists expired on every active batch whose expiry has passed at now.
// A batch that changed under the sweep is skipped and picked up by the next run.
func (s *BatchService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.Sweep(ctx, now)
	return result.Expired, err
}

// Sweep is SweepExpired with the full run counters
func (s *BatchService) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	log := logger.Ctx(ctx, s.logger)
	skipped := make(map[uuid.UUID]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		limit := s.sweepSize + len(skipped)
		page, err := s.batchRepo.FindExpiredActive(ctx, now, limit)
		if err != nil {
			return result, fmt.Errorf("find expired batches: %w", err)
		}

		progressed := false
		for _, b := range page {
			if _, ok := skipped[b.ID]; ok {
				continue
			}
			result.Examined++
			err := s.batchRepo.CompareAndSetStatus(ctx, b.ID, inventory.BatchStatusActive, inventory.BatchStatusExpired)
			switch {
			case err == nil:
				result.Expired++
				progressed = true
				log.Info("Batch expired",
					zap.String("batch_number", b.BatchNumber),
					zap.Int64("quantity", b.Quantity),
				)
				expired := b.Clone()
				expired.Status = inventory.BatchStatusExpired
				if evt, ok := inventory.NewBatchStatusChangedEvent(expired, inventory.Transition{
					From: inventory.BatchStatusActive,
					To:   inventory.BatchStatusExpired,
				}); ok {
					s.publish(ctx, evt)
				}
			case errors.Is(err, shared.ErrConcurrencyConflict), errors.Is(err, shared.ErrNotFound):
				result.Skipped++
				skipped[b.ID] = struct{}{}
				log.Debug("Batch changed during expiry sweep, skipping", zap.String("batch_number", b.BatchNumber))
			default:
				return result, fmt.Errorf("expire batch %s: %w", b.BatchNumber, err)
			}
		}

		if !progressed || len(page) < limit {
			break
		}
	}

	if result.Expired > 0 || result.Skipped > 0 {
		log.Info("Expiry sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

func (s *BatchService) publish(ctx context.Context, evt shared.DomainEvent) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.Ctx(ctx, s.logger).Warn("Failed to publish batch event",
			zap.String("event_type", evt.EventType()),
			zap.Error(err),
		)
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
