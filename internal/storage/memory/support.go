package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storeops/stockledger/internal/catalog"
	"github.com/storeops/stockledger/internal/shared"
)

// Catalog is a seeded catalog.Directory.
type Catalog struct {
	mu       sync.RWMutex
	products map[int64]catalog.Product
	stores   map[int64]catalog.Store
}

var _ catalog.Directory = (*Catalog)(nil)

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{products: map[int64]catalog.Product{}, stores: map[int64]catalog.Store{}}
}

// PutProduct adds or replaces a product.
func (c *Catalog) PutProduct(p catalog.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// PutStore adds or replaces a store.
func (c *Catalog) PutStore(s catalog.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[s.ID] = s
}

// GetProduct implements catalog.ProductLookup.
func (c *Catalog) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

// GetStore implements catalog.StoreLookup.
func (c *Catalog) GetStore(_ context.Context, id int64) (catalog.Store, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stores[id]
	if !ok {
		return catalog.Store{}, catalog.ErrStoreNotFound
	}
	return s, nil
}

// Idempotency mirrors shared.IdempotencyStore.
type Idempotency struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewIdempotency returns an empty key set.
func NewIdempotency() *Idempotency {
	return &Idempotency{keys: map[string]time.Time{}, now: time.Now}
}

// CheckAndInsert claims key for module.
func (i *Idempotency) CheckAndInsert(_ context.Context, key, module string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	k := module + ":" + key
	if _, ok := i.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.keys[k] = i.now().UTC()
	return nil
}

// Delete releases a key.
func (i *Idempotency) Delete(_ context.Context, key, module string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, module+":"+key)
	return nil
}

// Cleanup drops keys older than olderThan.
func (i *Idempotency) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cutoff := i.now().UTC().Add(-olderThan)
	var removed int64
	for k, at := range i.keys {
		if at.Before(cutoff) {
			delete(i.keys, k)
			removed++
		}
	}
	return removed, nil
}

// AuditLog collects audit entries.
type AuditLog struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

// Record implements the audit port.
func (a *AuditLog) Record(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

// Entries returns a copy of the collected entries.
func (a *AuditLog) Entries() []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.AuditLog(nil), a.entries...)
}

// Approvals collects approval log entries.
type Approvals struct {
	mu      sync.Mutex
	entries []shared.ApprovalLog
}

// Record implements the approval port.
func (a *Approvals) Record(_ context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	log.ID = int64(len(a.entries) + 1)
	a.entries = append(a.entries, log)
	return nil
}

// History implements the approval port, oldest first.
func (a *Approvals) History(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []shared.ApprovalLog{}
	for _, entry := range a.entries {
		if entry.Module == module && entry.RefID == ref {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Entries returns a copy of the collected entries.
func (a *Approvals) Entries() []shared.ApprovalLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]shared.ApprovalLog(nil), a.entries...)
}
