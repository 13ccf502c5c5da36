package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/erp/batchalloc/internal/domain/inventory"
	"github.com/erp/batchalloc/internal/domain/shared"
	"github.com/erp/batchalloc/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockEventPublisher records published events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{events: make([]shared.DomainEvent, 0)}
}

func (m *MockEventPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MockEventPublisher) GetEventsByType(eventType string) []shared.DomainEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]shared.DomainEvent, 0)
	for _, e := range m.events {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

// memBatchStore is an in-memory BatchRepository with the same filtering, ordering and
// conditional-write rules as the gorm adapter
type memBatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*inventory.Batch

	// casHook runs before every CompareAndSetQuantity; a non-nil return is the result
	casHook func(id uuid.UUID) error
	casHits int
}

func newMemBatchStore(batches ...*inventory.Batch) *memBatchStore {
	s := &memBatchStore{batches: make(map[uuid.UUID]*inventory.Batch)}
	for _, b := range batches {
		s.batches[b.ID] = b.Clone()
	}
	return s
}

func (s *memBatchStore) get(id uuid.UUID) *inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		return b.Clone()
	}
	return nil
}

func (s *memBatchStore) snapshot() map[uuid.UUID]*inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[uuid.UUID]*inventory.Batch, len(s.batches))
	for id, b := range s.batches {
		snap[id] = b.Clone()
	}
	return snap
}

func (s *memBatchStore) restore(snap map[uuid.UUID]*inventory.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = snap
}

func matchesRef(b *inventory.Batch, ref inventory.ItemRef) bool {
	if ref.IsVariant() {
		return b.VariantID != nil && *b.VariantID == *ref.VariantID
	}
	return b.ProductID != nil && ref.ProductID != nil && *b.ProductID == *ref.ProductID
}

func (s *memBatchStore) FindByID(ctx context.Context, id uuid.UUID) (*inventory.Batch, error) {
	if b := s.get(id); b != nil {
		return b, nil
	}
	return nil, shared.ErrNotFound
}

func (s *memBatchStore) FindByBatchNumber(ctx context.Context, batchNumber string) (*inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.BatchNumber == batchNumber {
			return b.Clone(), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *memBatchStore) FindAllocatable(ctx context.Context, ref inventory.ItemRef, asOf time.Time, limit int) ([]*inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*inventory.Batch
	for _, b := range s.batches {
		if matchesRef(b, ref) && b.IsAllocatable(asOf) {
			out = append(out, b.Clone())
		}
	}
	inventory.SortFEFO(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memBatchStore) List(ctx context.Context, filter inventory.BatchFilter) ([]*inventory.Batch, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*inventory.Batch
	for _, b := range s.batches {
		if filter.ProductID != nil && (b.ProductID == nil || *b.ProductID != *filter.ProductID) {
			continue
		}
		if filter.VariantID != nil && (b.VariantID == nil || *b.VariantID != *filter.VariantID) {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		out = append(out, b.Clone())
	}
	inventory.SortFEFO(out)
	total := int64(len(out))
	start := filter.Offset()
	if start > len(out) {
		start = len(out)
	}
	end := start + filter.Limit()
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (s *memBatchStore) Create(ctx context.Context, batch *inventory.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.BatchNumber == batch.BatchNumber {
			return shared.ErrAlreadyExists
		}
	}
	s.batches[batch.ID] = batch.Clone()
	return nil
}

func (s *memBatchStore) Update(ctx context.Context, batch *inventory.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.batches[batch.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != batch.Version {
		return shared.ErrConcurrencyConflict
	}
	batch.IncrementVersion()
	s.batches[batch.ID] = batch.Clone()
	return nil
}

func (s *memBatchStore) CompareAndSetQuantity(ctx context.Context, id uuid.UUID, expected, next int64, status inventory.BatchStatus) error {
	s.mu.Lock()
	s.casHits++
	hook := s.casHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Quantity != expected || b.Status != inventory.BatchStatusActive {
		return shared.ErrConcurrencyConflict
	}
	b.Quantity = next
	b.Status = status
	b.IncrementVersion()
	return nil
}

func (s *memBatchStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next inventory.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != expected {
		return shared.ErrConcurrencyConflict
	}
	b.Status = next
	b.IncrementVersion()
	return nil
}

func (s *memBatchStore) SumActiveQuantity(ctx context.Context, ref inventory.ItemRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.batches {
		if matchesRef(b, ref) && b.Status == inventory.BatchStatusActive {
			total += b.Quantity
		}
	}
	return total, nil
}

func (s *memBatchStore) FindExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*inventory.Batch
	for _, b := range s.batches {
		if b.Status == inventory.BatchStatusActive && b.IsExpiredAt(asOf) {
			out = append(out, b.Clone())
		}
	}
	inventory.SortFEFO(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memOrderStore keeps orders keyed by id
type memOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*trade.Order
	saves  int

	saveErr error
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[uuid.UUID]*trade.Order)}
}

func (s *memOrderStore) FindByID(ctx context.Context, id uuid.UUID) (*trade.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return o.Clone(), nil
	}
	return nil, shared.ErrNotFound
}

func (s *memOrderStore) FindByOrderNumber(ctx context.Context, orderNumber string) (*trade.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == orderNumber {
			return o.Clone(), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *memOrderStore) Create(ctx context.Context, order *trade.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *memOrderStore) UpdateStatus(ctx context.Context, order *trade.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[order.ID]
	if !ok {
		return shared.ErrNotFound
	}
	stored.Status = order.Status
	order.IncrementVersion()
	stored.Version = order.Version
	return nil
}

func (s *memOrderStore) SaveItemReservation(ctx context.Context, order *trade.Order, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, known := s.orders[order.ID]
	if !known {
		stored = order.Clone()
		s.orders[order.ID] = stored
	}
	src := order.Item(itemID)
	dst := stored.Item(itemID)
	if src == nil || dst == nil {
		return shared.ErrNotFound
	}
	if known && dst.ReservationStatus.IsSettled() {
		return trade.ErrLineAlreadyReserved
	}
	*dst = *src
	dst.BatchAllocations = append([]trade.BatchAllocation(nil), src.BatchAllocations...)
	stored.HasShortfall = order.HasShortfall
	s.saves++
	return nil
}

// fakeTxManager serializes units of work and restores the batch store when one fails
type fakeTxManager struct {
	mu      sync.Mutex
	batches *memBatchStore
	commits int
	aborts  int
}

func (m *fakeTxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.batches.snapshot()
	if err := fn(ctx); err != nil {
		m.batches.restore(snap)
		m.aborts++
		return err
	}
	m.commits++
	return nil
}

// MockBatchRepository is a testify mock of inventory.BatchRepository
type MockBatchRepository struct {
	mock.Mock
}

func (m *MockBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.Batch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.Batch), args.Error(1)
}

func (m *MockBatchRepository) FindByBatchNumber(ctx context.Context, batchNumber string) (*inventory.Batch, error) {
	args := m.Called(ctx, batchNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.Batch), args.Error(1)
}

func (m *MockBatchRepository) FindAllocatable(ctx context.Context, ref inventory.ItemRef, asOf time.Time, limit int) ([]*inventory.Batch, error) {
	args := m.Called(ctx, ref, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*inventory.Batch), args.Error(1)
}

func (m *MockBatchRepository) List(ctx context.Context, filter inventory.BatchFilter) ([]*inventory.Batch, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*inventory.Batch), args.Get(1).(int64), args.Error(2)
}

func (m *MockBatchRepository) Create(ctx context.Context, batch *inventory.Batch) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockBatchRepository) Update(ctx context.Context, batch *inventory.Batch) error {
	return m.Called(ctx, batch).Error(0)
}

func (m *MockBatchRepository) CompareAndSetQuantity(ctx context.Context, id uuid.UUID, expected, next int64, status inventory.BatchStatus) error {
	return m.Called(ctx, id, expected, next, status).Error(0)
}

func (m *MockBatchRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next inventory.BatchStatus) error {
	return m.Called(ctx, id, expected, next).Error(0)
}

func (m *MockBatchRepository) SumActiveQuantity(ctx context.Context, ref inventory.ItemRef) (int64, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBatchRepository) FindExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*inventory.Batch, error) {
	args := m.Called(ctx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*inventory.Batch), args.Error(1)
}

// test fixtures

var testNow = time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func newTestBatch(number string, ref inventory.ItemRef, qty int64, expiry *time.Time) *inventory.Batch {
	b, err := inventory.NewBatch(number, ref, qty, testNow.AddDate(0, -1, 0))
	if err != nil {
		panic(err)
	}
	b.ExpiryDate = expiry
	return b
}

func newTestOrder(number string, lines ...*trade.OrderItem) *trade.Order {
	items := make([]trade.OrderItem, len(lines))
	for i, l := range lines {
		items[i] = *l
	}
	o, err := trade.NewOrder(number, items)
	if err != nil {
		panic(err)
	}
	return o
}

func newLine(productID uuid.UUID, qty int64) *trade.OrderItem {
	item, err := trade.NewOrderItem(productID, nil, qty)
	if err != nil {
		panic(err)
	}
	return item
}

var _ inventory.BatchRepository = (*memBatchStore)(nil)
var _ inventory.BatchRepository = (*MockBatchRepository)(nil)
var _ trade.OrderRepository = (*memOrderStore)(nil)
