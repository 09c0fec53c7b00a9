// Package memory is an in-process storage driver. Transactions are serialised by one mutex and a
// failed transaction restores the snapshot taken when it began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/storeops/stockledger/internal/indent"
	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/shared"
)

type summaryKey struct {
	storeID   int64
	productID int64
	day       string
}

type state struct {
	movements []inventory.Movement
	summaries map[summaryKey]inventory.StockSummary
	damages   []inventory.DamageRecord
	indents   map[int64]indent.Indent
	receipts  map[int64][]indent.ReconciledLine

	nextMovementID int64
	nextDamageID   int64
	nextIndentID   int64
	nextItemID     int64
}

func (s *state) clone() *state {
	out := *s
	out.movements = append([]inventory.Movement(nil), s.movements...)
	out.damages = append([]inventory.DamageRecord(nil), s.damages...)
	out.summaries = make(map[summaryKey]inventory.StockSummary, len(s.summaries))
	for k, v := range s.summaries {
		out.summaries[k] = v
	}
	out.indents = make(map[int64]indent.Indent, len(s.indents))
	for k, v := range s.indents {
		v.Items = append([]indent.Item(nil), v.Items...)
		out.indents[k] = v
	}
	out.receipts = make(map[int64][]indent.ReconciledLine, len(s.receipts))
	for k, v := range s.receipts {
		out.receipts[k] = append([]indent.ReconciledLine(nil), v...)
	}
	return &out
}

// Store holds every table of the service in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	Catalog     *Catalog
	Idempotency *Idempotency
	Audit       *AuditLog
	Approvals   *Approvals
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: &state{
			summaries: map[summaryKey]inventory.StockSummary{},
			indents:   map[int64]indent.Indent{},
			receipts:  map[int64][]indent.ReconciledLine{},
		},
		now:         time.Now,
		Catalog:     NewCatalog(),
		Idempotency: NewIdempotency(),
		Audit:       &AuditLog{},
		Approvals:   &Approvals{},
	}
}

// Inventory returns the ledger repository view.
func (s *Store) Inventory() *InventoryRepository {
	return &InventoryRepository{store: s}
}

// Indents returns the indent repository view.
func (s *Store) Indents() *IndentRepository {
	return &IndentRepository{store: s}
}

// inTx runs fn holding the store lock and rolls state back when fn fails.
func (s *Store) inTx(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// MovementCount reports how many movements were committed.
func (s *Store) MovementCount() int {
	var n int
	s.read(func(st *state) { n = len(st.movements) })
	return n
}

// InventoryRepository implements inventory.RepositoryPort.
type InventoryRepository struct {
	store *Store
}

var _ inventory.RepositoryPort = (*InventoryRepository)(nil)

// WithTx implements inventory.RepositoryPort.
func (r *InventoryRepository) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.store.inTx(func(st *state) error {
		return fn(ctx, &ledgerTx{st: st, now: r.store.now})
	})
}

// ListMovements implements inventory.QueryRepository.
func (r *InventoryRepository) ListMovements(_ context.Context, f inventory.MovementFilter, page shared.PageRequest) ([]inventory.Movement, int, error) {
	var matched []inventory.Movement
	r.store.read(func(st *state) {
		for _, m := range st.movements {
			if m.StoreID != f.StoreID ||
				(f.ProductID > 0 && m.ProductID != f.ProductID) ||
				(f.Type != "" && m.Type != f.Type) ||
				(f.ReferenceType != "" && m.ReferenceType != f.ReferenceType) ||
				(f.ReferenceID != "" && m.ReferenceID != f.ReferenceID) ||
				(!f.From.IsZero() && m.OccurredAt.Before(f.From)) ||
				(!f.To.IsZero() && !m.OccurredAt.Before(f.To)) {
				continue
			}
			matched = append(matched, m)
		}
	})
	sortMovements(matched)
	items, total := paginate(matched, page)
	return items, total, nil
}

// ListSummaries implements inventory.QueryRepository.
func (r *InventoryRepository) ListSummaries(_ context.Context, f inventory.SummaryFilter, page shared.PageRequest) ([]inventory.StockSummary, int, error) {
	rows := r.summaries(func(s inventory.StockSummary) bool {
		return s.StoreID == f.StoreID && (f.ProductID == 0 || s.ProductID == f.ProductID) &&
			!s.Date.Before(f.From) && !s.Date.After(f.To)
	})
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].ProductID < rows[j].ProductID
	})
	items, total := paginate(rows, page)
	return items, total, nil
}

// SummariesInRange implements inventory.QueryRepository.
func (r *InventoryRepository) SummariesInRange(_ context.Context, storeID, productID int64, from, to time.Time) ([]inventory.StockSummary, error) {
	rows := r.summaries(func(s inventory.StockSummary) bool {
		return s.StoreID == storeID && (productID == 0 || s.ProductID == productID) &&
			!s.Date.Before(from) && !s.Date.After(to)
	})
	sortByProductDate(rows)
	return rows, nil
}

// SummariesOn implements inventory.QueryRepository.
func (r *InventoryRepository) SummariesOn(_ context.Context, storeID int64, day time.Time) ([]inventory.StockSummary, error) {
	rows := r.summaries(func(s inventory.StockSummary) bool {
		return s.StoreID == storeID && s.Date.Equal(day)
	})
	sortByProductDate(rows)
	return rows, nil
}

// LatestSummariesBefore implements inventory.QueryRepository.
func (r *InventoryRepository) LatestSummariesBefore(_ context.Context, storeID int64, day time.Time) ([]inventory.StockSummary, error) {
	latest := map[int64]inventory.StockSummary{}
	for _, s := range r.summaries(func(s inventory.StockSummary) bool {
		return s.StoreID == storeID && s.Date.Before(day)
	}) {
		if cur, ok := latest[s.ProductID]; !ok || s.Date.After(cur.Date) {
			latest[s.ProductID] = s
		}
	}
	rows := make([]inventory.StockSummary, 0, len(latest))
	for _, s := range latest {
		rows = append(rows, s)
	}
	sortByProductDate(rows)
	return rows, nil
}

// ListDamageRecords implements inventory.QueryRepository.
func (r *InventoryRepository) ListDamageRecords(_ context.Context, f inventory.DamageFilter, page shared.PageRequest) ([]inventory.DamageRecord, int, error) {
	var matched []inventory.DamageRecord
	r.store.read(func(st *state) {
		for _, d := range st.damages {
			if d.StoreID != f.StoreID ||
				(f.ProductID > 0 && d.ProductID != f.ProductID) ||
				(f.ReferenceType != "" && d.ReferenceType != f.ReferenceType) ||
				(!f.From.IsZero() && d.CreatedAt.Before(f.From)) ||
				(!f.To.IsZero() && !d.CreatedAt.Before(f.To)) {
				continue
			}
			matched = append(matched, d)
		}
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	items, total := paginate(matched, page)
	return items, total, nil
}

// ListLedgerKeys implements inventory.RepositoryPort.
func (r *InventoryRepository) ListLedgerKeys(_ context.Context, storeID int64) ([]inventory.LedgerKey, error) {
	seen := map[inventory.LedgerKey]struct{}{}
	r.store.read(func(st *state) {
		for _, m := range st.movements {
			if storeID == 0 || m.StoreID == storeID {
				seen[inventory.LedgerKey{StoreID: m.StoreID, ProductID: m.ProductID}] = struct{}{}
			}
		}
	})
	keys := make([]inventory.LedgerKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

// SummariesForKey implements inventory.RepositoryPort.
func (r *InventoryRepository) SummariesForKey(_ context.Context, key inventory.LedgerKey) ([]inventory.StockSummary, error) {
	rows := r.summaries(func(s inventory.StockSummary) bool {
		return s.StoreID == key.StoreID && s.ProductID == key.ProductID
	})
	sortByProductDate(rows)
	return rows, nil
}

// MovementsForKey implements inventory.RepositoryPort.
func (r *InventoryRepository) MovementsForKey(_ context.Context, key inventory.LedgerKey) ([]inventory.Movement, error) {
	var out []inventory.Movement
	r.store.read(func(st *state) {
		out = movementsForKey(st, key.StoreID, key.ProductID)
	})
	return out, nil
}

// CorruptSummary overwrites a stored row without going through the ledger.
func (r *InventoryRepository) CorruptSummary(row inventory.StockSummary) {
	r.store.read(func(st *state) {
		st.summaries[keyOf(row.StoreID, row.ProductID, row.Date)] = row
	})
}

func (r *InventoryRepository) summaries(match func(inventory.StockSummary) bool) []inventory.StockSummary {
	var out []inventory.StockSummary
	r.store.read(func(st *state) {
		for _, s := range st.summaries {
			if match(s) {
				out = append(out, s)
			}
		}
	})
	return out
}

func keyOf(storeID, productID int64, day time.Time) summaryKey {
	return summaryKey{storeID: storeID, productID: productID, day: day.Format(shared.DateLayout)}
}

func movementsForKey(st *state, storeID, productID int64) []inventory.Movement {
	var out []inventory.Movement
	for _, m := range st.movements {
		if m.StoreID == storeID && m.ProductID == productID {
			out = append(out, m)
		}
	}
	sortMovements(out)
	return out
}

func sortMovements(moves []inventory.Movement) {
	sort.SliceStable(moves, func(i, j int) bool {
		if !moves[i].OccurredAt.Equal(moves[j].OccurredAt) {
			return moves[i].OccurredAt.Before(moves[j].OccurredAt)
		}
		return moves[i].ID < moves[j].ID
	})
}

func sortByProductDate(rows []inventory.StockSummary) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].Date.Before(rows[j].Date)
	})
}

func paginate[T any](items []T, page shared.PageRequest) ([]T, int) {
	total := len(items)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	return append([]T{}, items[start:end]...), total
}

// ledgerTx implements inventory.TxRepository over locked state.
type ledgerTx struct {
	st  *state
	now func() time.Time
}

func (t *ledgerTx) LockLedgerKey(context.Context, int64, int64) error {
	return nil
}

func (t *ledgerTx) InsertMovement(_ context.Context, m inventory.Movement) (inventory.Movement, error) {
	t.st.nextMovementID++
	m.ID = t.st.nextMovementID
	m.CreatedAt = t.now().UTC()
	t.st.movements = append(t.st.movements, m)
	return m, nil
}

func (t *ledgerTx) InsertDamageRecord(_ context.Context, d inventory.DamageRecord) (inventory.DamageRecord, error) {
	t.st.nextDamageID++
	d.ID = t.st.nextDamageID
	d.CreatedAt = t.now().UTC()
	t.st.damages = append(t.st.damages, d)
	return d, nil
}

func (t *ledgerTx) GetSummaryForUpdate(_ context.Context, storeID, productID int64, day time.Time) (inventory.StockSummary, error) {
	row, ok := t.st.summaries[keyOf(storeID, productID, day)]
	if !ok {
		return inventory.StockSummary{}, inventory.ErrSummaryNotFound
	}
	return row, nil
}

func (t *ledgerTx) GetPriorSummary(_ context.Context, storeID, productID int64, day time.Time) (inventory.StockSummary, error) {
	var (
		best  inventory.StockSummary
		found bool
	)
	for _, s := range t.st.summaries {
		if s.StoreID != storeID || s.ProductID != productID || !s.Date.Before(day) {
			continue
		}
		if !found || s.Date.After(best.Date) {
			best, found = s, true
		}
	}
	if !found {
		return inventory.StockSummary{}, inventory.ErrSummaryNotFound
	}
	return best, nil
}

func (t *ledgerTx) ListSummariesAfter(_ context.Context, storeID, productID int64, day time.Time) ([]inventory.StockSummary, error) {
	var out []inventory.StockSummary
	for _, s := range t.st.summaries {
		if s.StoreID == storeID && s.ProductID == productID && s.Date.After(day) {
			out = append(out, s)
		}
	}
	sortByProductDate(out)
	return out, nil
}

func (t *ledgerTx) UpsertSummary(_ context.Context, s inventory.StockSummary) error {
	s.UpdatedAt = t.now().UTC()
	t.st.summaries[keyOf(s.StoreID, s.ProductID, s.Date)] = s
	return nil
}

func (t *ledgerTx) ListMovementsForKey(_ context.Context, storeID, productID int64) ([]inventory.Movement, error) {
	return movementsForKey(t.st, storeID, productID), nil
}

func (t *ledgerTx) DeleteSummaries(_ context.Context, storeID, productID int64) error {
	for k := range t.st.summaries {
		if k.storeID == storeID && k.productID == productID {
			delete(t.st.summaries, k)
		}
	}
	return nil
}
