package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/erp/batchalloc/internal/infrastructure/logger"
	"github.com/erp/batchalloc/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultCandidateLimit caps how many batches are read per line
	DefaultCandidateLimit = 100
	// DefaultMaxConflictRetries is how many fresh read-allocate-write cycles a line gets
	// after losing a compare-and-set race
	DefaultMaxConflictRetries = 3

	// NoteContention is recorded on lines that kept losing races
	NoteContention = "allocation contention"
	// NoteInsufficientStock is the shortfall reason for lines that ran out of active stock
	NoteInsufficientStock = "insufficient active stock"
)

// Reservation trigger names, used in idempotency keys, logs and metrics
const (
	TriggerCreate = "create"
	TriggerPaid   = "paid"
)

// ReservationConfig tunes the orchestrator
type ReservationConfig struct {
	CandidateLimit     int
	MaxConflictRetries int
	IdempotencyTTL     time.Duration
}

// DefaultReservationConfig returns 100 candidates, 3 retries and a 24h dedupe window
func DefaultReservationConfig() ReservationConfig {
	return ReservationConfig{
		CandidateLimit:     DefaultCandidateLimit,
		MaxConflictRetries: DefaultMaxConflictRetries,
		IdempotencyTTL:     24 * time.Hour,
	}
}

// LineOutcome is the reservation result of one order line
type LineOutcome struct {
	ItemID      uuid.UUID               `json:"item_id"`
	Ref         string                  `json:"ref"`
	Requested   int64                   `json:"requested"`
	Allocated   int64                   `json:"allocated"`
	Shortfall   int64                   `json:"shortfall"`
	Status      trade.ReservationStatus `json:"status"`
	Allocations []trade.BatchAllocation `json:"allocations"`
	Attempts    int                     `json:"attempts"`
	Note        string                  `json:"note,omitempty"`
	Err         error                   `json:"-"`
}

// ReservationReport summarizes a Reserve call
type ReservationReport struct {
	OrderID   uuid.UUID     `json:"order_id"`
	Trigger   string        `json:"trigger,omitempty"`
	Triggered bool          `json:"triggered"`
	Duplicate bool          `json:"duplicate"`
	Skipped   int           `json:"skipped"`
	Lines     []LineOutcome `json:"lines"`
}

// TotalAllocated sums allocated units over all lines
func (r *ReservationReport) TotalAllocated() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.Allocated
	}
	return total
}

// TotalShortfall sums shortfall over all lines
func (r *ReservationReport) TotalShortfall() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.Shortfall
	}
	return total
}

// Line returns the outcome for itemID
func (r *ReservationReport) Line(itemID uuid.UUID) (LineOutcome, bool) {
	for _, l := range r.Lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return LineOutcome{}, false
}

// ReservationService reserves stock for order lines from FEFO-ordered batches.
// Lines are independent: each gets its own transaction, and a shortfall or failure on
// one line never blocks the others.
type ReservationService struct {
	batchRepo   inventory.BatchRepository
	orderRepo   trade.OrderRepository
	txManager   shared.TransactionManager
	allocator   inventory.Allocator
	policy      inventory.LifecyclePolicy
	idempotency shared.IdempotencyStore
	publisher   shared.EventPublisher
	metrics     *telemetry.AllocationMetrics
	config      ReservationConfig
	logger      *zap.Logger
	now         func() time.Time
}

// ReservationOption configures a ReservationService
type ReservationOption func(*ReservationService)

// WithAllocator replaces the FEFO allocator
func WithAllocator(a inventory.Allocator) ReservationOption {
	return func(s *ReservationService) {
		s.allocator = a
	}
}

// WithLifecyclePolicy sets the policy deciding post-deduction status
func WithLifecyclePolicy(p inventory.LifecyclePolicy) ReservationOption {
	return func(s *ReservationService) {
		s.policy = p
	}
}

// WithIdempotencyStore guards each (order, trigger) pair against duplicate runs
func WithIdempotencyStore(store shared.IdempotencyStore) ReservationOption {
	return func(s *ReservationService) {
		s.idempotency = store
	}
}

// WithEventPublisher sets where shortfall and depletion events go
func WithEventPublisher(p shared.EventPublisher) ReservationOption {
	return func(s *ReservationService) {
		s.publisher = p
	}
}

// WithAllocationMetrics records counters and latency
func WithAllocationMetrics(m *telemetry.AllocationMetrics) ReservationOption {
	return func(s *ReservationService) {
		s.metrics = m
	}
}

// WithReservationConfig overrides limits; non-positive values keep the defaults
func WithReservationConfig(cfg ReservationConfig) ReservationOption {
	return func(s *ReservationService) {
		if cfg.CandidateLimit > 0 {
			s.config.CandidateLimit = cfg.CandidateLimit
		}
		if cfg.MaxConflictRetries >= 0 {
			s.config.MaxConflictRetries = cfg.MaxConflictRetries
		}
		if cfg.IdempotencyTTL > 0 {
			s.config.IdempotencyTTL = cfg.IdempotencyTTL
		}
	}
}

// WithClock sets the time source used for expiry checks and reservation stamps
func WithClock(now func() time.Time) ReservationOption {
	return func(s *ReservationService) {
		s.now = now
	}
}

// NewReservationService creates a ReservationService
func NewReservationService(
	batchRepo inventory.BatchRepository,
	orderRepo trade.OrderRepository,
	txManager shared.TransactionManager,
	logger *zap.Logger,
	opts ...ReservationOption,
) *ReservationService {
	s := &ReservationService{
		batchRepo: batchRepo,
		orderRepo: orderRepo,
		txManager: txManager,
		allocator: inventory.NewFEFOAllocator(),
		policy:    inventory.NewLifecyclePolicy(),
		publisher: shared.NopPublisher{},
		config:    DefaultReservationConfig(),
		logger:    logger.Named("reservation"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve allocates stock for every unsettled line of order when the mutation is a
// reservation trigger: op is create, or the order just moved into paid. Any other
// mutation returns the order untouched with an untriggered report.
//
// Shortfalls are outcomes, not errors. The only error returned is store unavailability,
// which stops the remaining lines; lines reserved before it stay committed.
func (s *ReservationService) Reserve(ctx context.Context, order, previous *trade.Order, op trade.Operation) (_ *trade.Order, _ *ReservationReport, err error) {
	if order == nil {
		return nil, nil, shared.NewValidationError("order is required")
	}
	report := &ReservationReport{OrderID: order.ID, Lines: []LineOutcome{}}
	if !trade.ReservationTriggered(op, order, previous) {
		return order, report, nil
	}
	report.Triggered = true
	report.Trigger = triggerName(op)

	ctx, span := telemetry.StartSpan(ctx, "reservation.reserve",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, order.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrOrderNumber, order.OrderNumber),
		telemetry.WithAttribute(telemetry.SpanAttrTrigger, report.Trigger),
	)
	defer span.End()

	start := time.Now()
	s.metrics.RecordRequest(ctx, report.Trigger)
	defer func() {
		s.metrics.RecordDuration(ctx, report.Trigger, time.Since(start))
		telemetry.RecordError(span, err)
	}()

	log := logger.Ctx(ctx, s.logger).With(
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("trigger", report.Trigger),
	)

	if s.idempotency != nil {
		key := fmt.Sprintf("reservation:%s:%s", order.ID, report.Trigger)
		isNew, markErr := s.idempotency.MarkProcessed(ctx, key, s.config.IdempotencyTTL)
		switch {
		case markErr != nil:
			log.Warn("Reservation idempotency check failed, reserving anyway", zap.Error(markErr))
		case !isNew:
			log.Info("Reservation already processed, skipping")
			report.Duplicate = true
			return order, report, nil
		default:
			defer func() {
				if err != nil {
					if relErr := s.idempotency.Release(context.WithoutCancel(ctx), key); relErr != nil {
						log.Warn("Failed to release reservation key", zap.Error(relErr))
					}
				}
			}()
		}
	}

	for idx := range order.Items {
		item := &order.Items[idx]
		if item.ReservationStatus.IsSettled() {
			report.Skipped++
			continue
		}

		outcome, lineErr := s.reserveLine(ctx, order, item, log)
		if errors.Is(lineErr, trade.ErrLineAlreadyReserved) {
			log.Info("Line already reserved by another run, skipping", zap.String("item_id", item.ID.String()))
			s.adoptStoredLine(ctx, order, item, log)
			report.Skipped++
			continue
		}
		report.Lines = append(report.Lines, outcome)
		if lineErr != nil {
			log.Error("Store unavailable, aborting remaining lines",
				zap.String("item_id", item.ID.String()),
				zap.Int("remaining_lines", len(order.Items)-idx-1),
				zap.Error(lineErr),
			)
			return order, report, fmt.Errorf("reserve order %s: %w", order.OrderNumber, lineErr)
		}
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrAllocated, report.TotalAllocated(),
		telemetry.SpanAttrShortfall, report.TotalShortfall(),
	)
	log.Info("Order reservation finished",
		zap.Int("lines", len(report.Lines)),
		zap.Int("skipped", report.Skipped),
		zap.Int64("allocated", report.TotalAllocated()),
		zap.Int64("shortfall", report.TotalShortfall()),
	)
	return order, report, nil
}

// reserveLine runs the read-allocate-write cycle for one line. It returns an error only
// when the store is unavailable, or trade.ErrLineAlreadyReserved when the stored line was
// settled by another run; in that case no stock was deducted.
func (s *ReservationService) reserveLine(ctx context.Context, order *trade.Order, item *trade.OrderItem, log *zap.Logger) (LineOutcome, error) {
	outcome := LineOutcome{ItemID: item.ID, Requested: item.Quantity}
	log = log.With(zap.String("item_id", item.ID.String()), zap.Int64("quantity", item.Quantity))

	ctx, span := telemetry.StartSpan(ctx, "reservation.line",
		telemetry.WithAttribute(telemetry.SpanAttrItemID, item.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrQuantity, item.Quantity),
	)
	defer span.End()

	ref, err := item.StockRef()
	if err != nil {
		return s.failLine(ctx, order, item, outcome, err, log)
	}
	outcome.Ref = ref.String()
	telemetry.SetAttributes(span, telemetry.SpanAttrStockRef, outcome.Ref)

	maxAttempts := 1 + s.config.MaxConflictRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt

		applied, err := s.attemptLine(ctx, order, item, ref)
		switch {
		case err == nil:
			outcome.Allocated = applied.plan.TotalAllocated
			outcome.Shortfall = applied.plan.Shortfall
			outcome.Status = applied.reservation.Status
			outcome.Allocations = applied.reservation.Allocations
			outcome.Note = applied.reservation.Note
			s.afterCommit(ctx, order, item, ref, applied, log)
			telemetry.SetAttributes(span,
				telemetry.SpanAttrOutcome, string(outcome.Status),
				telemetry.SpanAttrAllocated, outcome.Allocated,
				telemetry.SpanAttrShortfall, outcome.Shortfall,
			)
			return outcome, nil

		case errors.Is(err, trade.ErrLineAlreadyReserved):
			return outcome, err

		case errors.Is(err, shared.ErrConcurrencyConflict):
			s.metrics.RecordConflict(ctx)
			telemetry.AddEvent(span, "cas_conflict", telemetry.SpanAttrAttempt, attempt)
			log.Debug("Lost batch update race, retrying line", zap.Int("attempt", attempt))

		case errors.Is(err, shared.ErrStoreUnavailable):
			outcome.Status = trade.ReservationFailed
			outcome.Err = err
			telemetry.RecordError(span, err)
			return outcome, err

		default:
			return s.failLine(ctx, order, item, outcome, err, log)
		}
	}

	return s.contendedLine(ctx, order, item, ref, outcome, log)
}

type appliedLine struct {
	plan        inventory.AllocationPlan
	reservation trade.ItemReservation
	depleted    []*inventory.Batch
}

// attemptLine reads candidates, plans, then applies every deduction and the line trace
// in one transaction. On error the in-memory line is left as it was.
func (s *ReservationService) attemptLine(ctx context.Context, order *trade.Order, item *trade.OrderItem, ref inventory.ItemRef) (appliedLine, error) {
	now := s.now()
	candidates, err := s.batchRepo.FindAllocatable(ctx, ref, now, s.config.CandidateLimit)
	if err != nil {
		return appliedLine{}, fmt.Errorf("find allocatable batches: %w", err)
	}

	plan := s.allocator.Allocate(candidates, item.Quantity)
	applied := appliedLine{plan: plan, reservation: reservationFor(plan, now)}

	snapshot, hadShortfall := *item, order.HasShortfall
	err = s.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, a := range plan.Allocations {
			status := s.policy.StatusAfterDeduction(a.RemainingQuantity)
			if err := s.batchRepo.CompareAndSetQuantity(txCtx, a.BatchID, a.ObservedQuantity, a.RemainingQuantity, status); err != nil {
				return fmt.Errorf("deduct %d from batch %s: %w", a.QuantityDeducted, a.BatchNumber, err)
			}
		}
		if err := order.RecordReservation(item.ID, applied.reservation); err != nil {
			return err
		}
		return s.orderRepo.SaveItemReservation(txCtx, order, item.ID)
	})
	if err != nil {
		*item = snapshot
		order.HasShortfall = hadShortfall
		return appliedLine{}, err
	}

	for _, a := range plan.Allocations {
		if a.RemainingQuantity != 0 {
			continue
		}
		for _, b := range candidates {
			if b.ID == a.BatchID {
				depleted := b.Clone()
				depleted.Quantity = 0
				depleted.Status = s.policy.StatusAfterDeduction(0)
				applied.depleted = append(applied.depleted, depleted)
				break
			}
		}
	}
	return applied, nil
}

// afterCommit logs, counts and publishes what a committed line produced
func (s *ReservationService) afterCommit(ctx context.Context, order *trade.Order, item *trade.OrderItem, ref inventory.ItemRef, applied appliedLine, log *zap.Logger) {
	for _, a := range applied.plan.Allocations {
		log.Info("Batch allocated",
			zap.String("batch_number", a.BatchNumber),
			zap.Int64("deducted", a.QuantityDeducted),
			zap.Int64("remaining", a.RemainingQuantity),
		)
	}
	s.metrics.RecordAllocated(ctx, string(applied.reservation.Status), applied.plan.TotalAllocated)

	events := make([]shared.DomainEvent, 0, len(applied.depleted)+1)
	for _, b := range applied.depleted {
		if evt, ok := inventory.NewBatchStatusChangedEvent(b, inventory.Transition{From: inventory.BatchStatusActive, To: b.Status}); ok {
			events = append(events, evt)
		}
	}
	if applied.plan.Shortfall > 0 {
		log.Warn("Stock shortfall for order line",
			zap.String("stock_ref", ref.String()),
			zap.Int64("allocated", applied.plan.TotalAllocated),
			zap.Int64("shortfall", applied.plan.Shortfall),
		)
		events = append(events, inventory.NewStockShortfallDetectedEvent(order.ID, item.ID, ref, applied.plan, NoteInsufficientStock))
	}
	s.publish(ctx, events, log)
}

// contendedLine records a line that exhausted its retries as a full shortfall
func (s *ReservationService) contendedLine(ctx context.Context, order *trade.Order, item *trade.OrderItem, ref inventory.ItemRef, outcome LineOutcome, log *zap.Logger) (LineOutcome, error) {
	reservation := trade.ItemReservation{
		Status:    trade.ReservationShortfall,
		Shortfall: item.Quantity,
		Note:      NoteContention,
		At:        s.now(),
	}
	if err := s.saveOutcome(ctx, order, item, reservation); err != nil {
		if errors.Is(err, trade.ErrLineAlreadyReserved) {
			return outcome, err
		}
		if errors.Is(err, shared.ErrStoreUnavailable) {
			outcome.Status, outcome.Err = trade.ReservationFailed, err
			return outcome, err
		}
		return s.failLine(ctx, order, item, outcome, err, log)
	}

	outcome.Status = trade.ReservationShortfall
	outcome.Shortfall = item.Quantity
	outcome.Note = NoteContention
	log.Warn("Line still contended after retries, reported as shortfall",
		zap.String("stock_ref", ref.String()),
		zap.Int("attempts", outcome.Attempts),
		zap.Int64("shortfall", item.Quantity),
	)

	plan := inventory.AllocationPlan{Requested: item.Quantity, Shortfall: item.Quantity}
	s.publish(ctx, []shared.DomainEvent{
		inventory.NewStockShortfallDetectedEvent(order.ID, item.ID, ref, plan, NoteContention),
	}, log)
	return outcome, nil
}

// failLine records a failed line without touching stock. The line stays eligible for a
// later trigger.
func (s *ReservationService) failLine(ctx context.Context, order *trade.Order, item *trade.OrderItem, outcome LineOutcome, cause error, log *zap.Logger) (LineOutcome, error) {
	outcome.Status = trade.ReservationFailed
	outcome.Err = cause
	outcome.Note = cause.Error()
	outcome.Allocated, outcome.Shortfall, outcome.Allocations = 0, 0, nil
	log.Error("Order line reservation failed", zap.Error(cause))

	reservation := trade.ItemReservation{
		Status: trade.ReservationFailed,
		Note:   cause.Error(),
		At:     s.now(),
	}
	if err := s.saveOutcome(ctx, order, item, reservation); err != nil {
		if errors.Is(err, trade.ErrLineAlreadyReserved) {
			return outcome, err
		}
		log.Error("Failed to record failed line", zap.Error(err))
		if errors.Is(err, shared.ErrStoreUnavailable) {
			return outcome, err
		}
	}
	return outcome, nil
}

// adoptStoredLine replaces the in-memory line with the outcome another run stored
func (s *ReservationService) adoptStoredLine(ctx context.Context, order *trade.Order, item *trade.OrderItem, log *zap.Logger) {
	stored, err := s.orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		log.Warn("Failed to reload settled line", zap.String("item_id", item.ID.String()), zap.Error(err))
		return
	}
	if line := stored.Item(item.ID); line != nil {
		*item = *line
	}
	order.HasShortfall = stored.HasShortfall
}

func (s *ReservationService) saveOutcome(ctx context.Context, order *trade.Order, item *trade.OrderItem, r trade.ItemReservation) error {
	snapshot, hadShortfall := *item, order.HasShortfall
	if err := order.RecordReservation(item.ID, r); err != nil {
		return err
	}
	if err := s.orderRepo.SaveItemReservation(ctx, order, item.ID); err != nil {
		*item = snapshot
		order.HasShortfall = hadShortfall
		return err
	}
	return nil
}

func (s *ReservationService) publish(ctx context.Context, events []shared.DomainEvent, log *zap.Logger) {
	if len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		log.Warn("Failed to publish reservation events", zap.Error(err))
	}
}

// reservationFor maps a plan to the line outcome it produces
func reservationFor(plan inventory.AllocationPlan, at time.Time) trade.ItemReservation {
	r := trade.ItemReservation{
		Shortfall:   plan.Shortfall,
		Allocations: make([]trade.BatchAllocation, 0, len(plan.Allocations)),
		At:          at,
	}
	for _, a := range plan.Allocations {
		r.Allocations = append(r.Allocations, trade.BatchAllocation{
			BatchNumber: a.BatchNumber,
			Quantity:    a.QuantityDeducted,
		})
	}
	switch {
	case plan.Shortfall == 0:
		r.Status = trade.ReservationAllocated
	case plan.TotalAllocated > 0:
		r.Status = trade.ReservationPartial
		r.Note = fmt.Sprintf("short by %d: %s", plan.Shortfall, NoteInsufficientStock)
	default:
		r.Status = trade.ReservationShortfall
		r.Note = NoteInsufficientStock
	}
	return r
}

func triggerName(op trade.Operation) string {
	if op == trade.OperationCreate {
		return TriggerCreate
	}
	return TriggerPaid
}
