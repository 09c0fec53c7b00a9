package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/storeops/stockledger/internal/indent"
	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/shared"
)

// IndentRepository implements indent.RepositoryPort.
type IndentRepository struct {
	store *Store
}

var _ indent.RepositoryPort = (*IndentRepository)(nil)

// WithTx implements indent.RepositoryPort.
func (r *IndentRepository) WithTx(ctx context.Context, fn func(context.Context, indent.TxRepository) error) error {
	return r.store.inTx(func(st *state) error {
		return fn(ctx, &indentTx{st: st, stock: &ledgerTx{st: st, now: r.store.now}})
	})
}

// GetIndent implements indent.RepositoryPort.
func (r *IndentRepository) GetIndent(_ context.Context, id int64) (indent.Indent, error) {
	var (
		ind indent.Indent
		ok  bool
	)
	r.store.read(func(st *state) {
		ind, ok = st.indents[id]
		ind.Items = append([]indent.Item(nil), ind.Items...)
	})
	if !ok {
		return indent.Indent{}, indent.ErrIndentNotFound
	}
	return ind, nil
}

// ListIndents implements indent.RepositoryPort.
func (r *IndentRepository) ListIndents(_ context.Context, f indent.ListFilter, page shared.PageRequest) ([]indent.Indent, int, error) {
	var matched []indent.Indent
	r.store.read(func(st *state) {
		for _, ind := range st.indents {
			if (f.StoreID != 0 && ind.StoreID != f.StoreID) || (f.Status != "" && ind.Status != f.Status) {
				continue
			}
			ind.Items = append([]indent.Item(nil), ind.Items...)
			matched = append(matched, ind)
		}
	})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	items, total := paginate(matched, page)
	return items, total, nil
}

// ListStaleProcessing implements indent.RepositoryPort.
func (r *IndentRepository) ListStaleProcessing(_ context.Context, startedBefore time.Time) ([]indent.Indent, error) {
	var out []indent.Indent
	r.store.read(func(st *state) {
		for _, ind := range st.indents {
			if ind.Status == indent.StatusProcessing && ind.ProcessingStartedAt != nil && ind.ProcessingStartedAt.Before(startedBefore) {
				out = append(out, ind)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReceiptLines implements indent.RepositoryPort.
func (r *IndentRepository) ReceiptLines(_ context.Context, indentID int64) ([]indent.ReconciledLine, error) {
	var out []indent.ReconciledLine
	r.store.read(func(st *state) {
		out = append(out, st.receipts[indentID]...)
	})
	return out, nil
}

// BackdateProcessing rewrites when an indent entered processing.
func (r *IndentRepository) BackdateProcessing(id int64, at time.Time) {
	r.store.read(func(st *state) {
		ind, ok := st.indents[id]
		if !ok {
			return
		}
		ind.ProcessingStartedAt = &at
		st.indents[id] = ind
	})
}

type indentTx struct {
	st    *state
	stock *ledgerTx
}

func (t *indentTx) Stock() inventory.TxRepository {
	return t.stock
}

func (t *indentTx) CreateIndent(_ context.Context, ind indent.Indent) (indent.Indent, error) {
	for _, existing := range t.st.indents {
		if existing.Code == ind.Code {
			return indent.Indent{}, fmt.Errorf("memory: duplicate indent code %s", ind.Code)
		}
	}
	t.st.nextIndentID++
	ind.ID = t.st.nextIndentID
	items := make([]indent.Item, len(ind.Items))
	for i, item := range ind.Items {
		t.st.nextItemID++
		item.ID = t.st.nextItemID
		items[i] = item
	}
	ind.Items = items
	t.st.indents[ind.ID] = ind
	return ind, nil
}

func (t *indentTx) GetIndentForUpdate(_ context.Context, id int64) (indent.Indent, error) {
	ind, ok := t.st.indents[id]
	if !ok {
		return indent.Indent{}, indent.ErrIndentNotFound
	}
	ind.Items = append([]indent.Item(nil), ind.Items...)
	return ind, nil
}

func (t *indentTx) UpdateStatus(_ context.Context, id int64, from, to indent.Status, change indent.StatusChange) (indent.Indent, error) {
	ind, ok := t.st.indents[id]
	if !ok || ind.Status != from {
		return indent.Indent{}, indent.ErrStatusChanged
	}
	at := change.At
	switch {
	case to == indent.StatusPendingApproval:
		ind.SubmittedAt = &at
	case to == indent.StatusApproved && from == indent.StatusPendingApproval:
		actor := change.ActorID
		ind.ApprovedAt, ind.ApproverID, ind.DecisionNotes = &at, &actor, change.Notes
	case to == indent.StatusRejected:
		actor := change.ActorID
		ind.RejectedAt, ind.ApproverID, ind.DecisionNotes = &at, &actor, change.Notes
	case to == indent.StatusProcessing:
		ind.ProcessingStartedAt = &at
	case to == indent.StatusApproved && from == indent.StatusProcessing:
		ind.ProcessingStartedAt = nil
	case to == indent.StatusCompleted:
		ind.CompletedAt = &at
	default:
		return indent.Indent{}, fmt.Errorf("memory: unsupported transition %s -> %s", from, to)
	}
	ind.Status = to
	t.st.indents[id] = ind
	ind.Items = append([]indent.Item(nil), ind.Items...)
	return ind, nil
}

func (t *indentTx) InsertReceiptLines(_ context.Context, indentID int64, lines []indent.ReconciledLine) error {
	t.st.receipts[indentID] = append(t.st.receipts[indentID], lines...)
	return nil
}
