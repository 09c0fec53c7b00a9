// Package catalog exposes the read-only product catalog and store directory contracts consumed by
// the stock ledger. Both are owned by other subsystems.
package catalog

import (
	"context"
	"errors"
)

// Product is the catalog view needed for stock operations.
type Product struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	DivisionID int64  `json:"division_id"`
	Active     bool   `json:"active"`
}

// Store is the store directory view needed for stock operations.
type Store struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	DivisionID int64  `json:"division_id"`
	Type       string `json:"type"`
}

// ErrProductNotFound indicates an unknown product id.
var ErrProductNotFound = errors.New("catalog: product not found")

// ErrStoreNotFound indicates an unknown store id.
var ErrStoreNotFound = errors.New("catalog: store not found")

// ProductLookup resolves products.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// StoreLookup resolves stores.
type StoreLookup interface {
	GetStore(ctx context.Context, id int64) (Store, error)
}

// Directory combines both lookups.
type Directory interface {
	ProductLookup
	StoreLookup
}

// ServesStore reports whether the product may be stocked by the store.
func (p Product) ServesStore(s Store) bool {
	return p.Active && p.DivisionID == s.DivisionID
}
