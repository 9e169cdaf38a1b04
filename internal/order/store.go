package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists orders. Implementations must make Transition atomic per order.
type Store interface {
	Create(ctx context.Context, in NewOrder) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	Transition(ctx context.Context, req TransitionRequest) (Order, error)
}

// UpdateStatus overwrites the status of an order regardless of its current value.
func UpdateStatus(ctx context.Context, s Store, id string, status Status) (Order, error) {
	return s.Transition(ctx, TransitionRequest{ID: id, To: status})
}

// MemoryStore keeps orders in process memory. Used when no database is configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	now    func() time.Time
	newID  func() string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Create stores a new pending order.
func (m *MemoryStore) Create(_ context.Context, in NewOrder) (Order, error) {
	now := m.now()
	o := Order{
		ID:            m.newID(),
		UserID:        in.UserID,
		UserName:      in.UserName,
		Phone:         in.Phone,
		Address:       in.Address,
		Items:         cloneItems(in.Items),
		Total:         in.Total,
		PaymentMethod: in.PaymentMethod,
		ReceiptImage:  in.ReceiptImage,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()
	return copyOrder(o), nil
}

// Put inserts or replaces an order verbatim.
func (m *MemoryStore) Put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = copyOrder(o)
}

// Get returns the order with the given id.
func (m *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return copyOrder(o), nil
}

// ListByUser returns a user's orders, newest first.
func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]Order, error) {
	m.mu.RLock()
	out := make([]Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []Order{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Transition applies req under the store lock.
func (m *MemoryStore) Transition(_ context.Context, req TransitionRequest) (Order, error) {
	if !req.To.Valid() {
		return Order{}, ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[req.ID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !req.allows(o.Status) {
		return Order{}, &TransitionError{ID: o.ID, From: o.Status, To: req.To}
	}
	o.Status = req.To
	if req.AdminNote != nil {
		o.AdminNote = *req.AdminNote
	}
	o.UpdatedAt = m.now()
	m.orders[o.ID] = o
	return copyOrder(o), nil
}

func copyOrder(o Order) Order {
	o.Items = cloneItems(o.Items)
	return o
}
