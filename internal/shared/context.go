package shared

import (
	"context"
	"fmt"
)

// Role distinguishes store operators from approvers.
type Role string

const (
	// RoleStore is a store-level operator acting on its own store.
	RoleStore Role = "store"
	// RoleApprover may decide indents and post adjustments across stores.
	RoleApprover Role = "approver"
)

// StoreContext carries the caller identity into every core operation.
type StoreContext struct {
	StoreID int64
	ActorID int64
	Role    Role
}

// Validate ensures the context identifies a store and an actor.
func (sc StoreContext) Validate(op string) error {
	fields := map[string]string{}
	if sc.StoreID <= 0 {
		fields["store_id"] = "store context required"
	}
	if sc.ActorID <= 0 {
		fields["actor_id"] = "actor required"
	}
	switch sc.Role {
	case RoleStore, RoleApprover:
	default:
		fields["role"] = fmt.Sprintf("unknown role %q", sc.Role)
	}
	if len(fields) > 0 {
		return Validation(op, fields)
	}
	return nil
}

// IsApprover reports whether the caller holds the approver role.
func (sc StoreContext) IsApprover() bool {
	return sc.Role == RoleApprover
}

// CanAccessStore reports whether the caller may read or act on storeID.
func (sc StoreContext) CanAccessStore(storeID int64) bool {
	return sc.IsApprover() || sc.StoreID == storeID
}

type storeContextKey struct{}

// ContextWithStore stores the StoreContext in a request context. Only the transport layer uses it;
// core operations receive the StoreContext as an explicit argument.
func ContextWithStore(ctx context.Context, sc StoreContext) context.Context {
	return context.WithValue(ctx, storeContextKey{}, sc)
}

// StoreFromContext extracts the StoreContext set by the transport middleware.
func StoreFromContext(ctx context.Context) (StoreContext, bool) {
	sc, ok := ctx.Value(storeContextKey{}).(StoreContext)
	return sc, ok
}
