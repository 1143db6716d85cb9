package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/billflow/internal/pagination"
	"github.com/mbd888/billflow/internal/providers"
	"github.com/mbd888/billflow/internal/syncutil"
)

// MemoryStore is an in-memory invoice store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*Invoice
	payments map[string]*PaymentRecord
	locks    *syncutil.KeyedMutex
}

// NewMemoryStore creates a new in-memory invoice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*Invoice),
		payments: make(map[string]*PaymentRecord),
		locks:    syncutil.NewKeyedMutex(0),
	}
}

func (m *MemoryStore) Create(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.invoices {
		if existing.OwnerID == inv.OwnerID && existing.InvoiceNumber == inv.InvoiceNumber {
			return ErrDuplicateNumber
		}
	}
	m.invoices[inv.ID] = inv.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, after *pagination.Cursor, limit int) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Invoice
	for _, inv := range m.invoices {
		if inv.OwnerID != ownerID {
			continue
		}
		if after != nil && !after.Follows(inv.CreatedAt, inv.ID) {
			continue
		}
		result = append(result, inv.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListOverdueCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Invoice
	for _, inv := range m.invoices {
		if inv.PaymentStatus == PaymentPending && inv.DueDate.Before(now) && inv.ID > afterID {
			result = append(result, inv.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPayments(ctx context.Context, invoiceID string) ([]*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PaymentRecord
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// WithInvoiceLock serializes callers per invoice and stages writes until fn
// succeeds.
func (m *MemoryStore) WithInvoiceLock(ctx context.Context, id string, fn func(tx Tx) error) error {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	inv, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	tx := &memoryTx{store: m, inv: inv, deleted: make(map[string]time.Time)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type memoryTx struct {
	store    *MemoryStore
	inv      *Invoice
	updated  *Invoice
	inserted []*PaymentRecord
	deleted  map[string]time.Time
}

func (t *memoryTx) Invoice() *Invoice { return t.inv }

func (t *memoryTx) Update(ctx context.Context, inv *Invoice) error {
	if inv.ID != t.inv.ID {
		return ErrNotFound
	}
	t.updated = inv.Clone()
	return nil
}

func (t *memoryTx) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	for _, p := range t.inserted {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	p, err := t.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.InvoiceID != t.inv.ID {
		return nil, ErrPaymentNotFound
	}
	if at, ok := t.deleted[id]; ok {
		p.DeletedAt = &at
	}
	return p, nil
}

func (t *memoryTx) FindPaymentByExternalID(ctx context.Context, provider providers.Provider, externalTxID string) (*PaymentRecord, error) {
	for _, p := range t.inserted {
		if p.Provider == provider && p.ExternalTxID == externalTxID {
			cp := *p
			return &cp, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, p := range t.store.payments {
		if p.Provider == provider && p.ExternalTxID == externalTxID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, p *PaymentRecord) error {
	cp := *p
	t.inserted = append(t.inserted, &cp)
	return nil
}

func (t *memoryTx) DeletePayment(ctx context.Context, id string, at time.Time) error {
	if _, err := t.GetPayment(ctx, id); err != nil {
		return err
	}
	t.deleted[id] = at
	return nil
}

func (t *memoryTx) SumCompletedPayments(ctx context.Context) (decimal.Decimal, error) {
	records, err := t.store.ListPayments(ctx, t.inv.ID)
	if err != nil {
		return decimal.Zero, err
	}
	records = append(records, t.inserted...)

	sum := decimal.Zero
	for _, p := range records {
		if _, gone := t.deleted[p.ID]; gone {
			continue
		}
		if p.Counts() {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (t *memoryTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, p := range t.inserted {
		if p.ExternalTxID == "" {
			continue
		}
		for _, existing := range t.store.payments {
			if existing.Provider == p.Provider && existing.ExternalTxID == p.ExternalTxID {
				return errExternalTxIDTaken()
			}
		}
	}
	for _, p := range t.inserted {
		t.store.payments[p.ID] = p
	}
	for id, at := range t.deleted {
		if p, ok := t.store.payments[id]; ok {
			when := at
			p.DeletedAt = &when
		}
	}
	if t.updated != nil {
		t.store.invoices[t.updated.ID] = t.updated
	}
	return nil
}
