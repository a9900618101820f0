package core

import (
	"context"

	"sliptacore/pkg/domain"
)

// ScopeAuthorizer evaluates an actor's resolved scope against the laboratory
// of the audit. It is the default authorizer of a Service.
type ScopeAuthorizer struct {
	store PersistentStore
}

var _ domain.Authorizer = ScopeAuthorizer{}

// NewScopeAuthorizer builds an authorizer that looks audits up in store.
func NewScopeAuthorizer(store PersistentStore) ScopeAuthorizer {
	return ScopeAuthorizer{store: store}
}

// CanAccessAudit reports whether the audit's laboratory is within scope.
func (a ScopeAuthorizer) CanAccessAudit(ctx context.Context, actor Actor, auditID string) bool {
	var allowed bool
	_ = a.store.View(ctx, func(view TransactionView) error {
		audit, ok := view.FindAudit(auditID)
		allowed = ok && actor.Scope.CoversLaboratory(audit.LaboratoryID)
		return nil
	})
	return allowed
}

// CanEditAudit additionally requires the edit capability.
func (a ScopeAuthorizer) CanEditAudit(ctx context.Context, actor Actor, auditID string) bool {
	return actor.Scope.CanEdit && a.CanAccessAudit(ctx, actor, auditID)
}
