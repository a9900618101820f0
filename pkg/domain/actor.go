package domain

import "context"

// Scope is the resolved visibility and capability set of an actor. It is built
// once by the external scoping collaborator; the core only reads it.
type Scope struct {
	Global        bool
	LaboratoryIDs map[string]struct{}
	CanEdit       bool
	Privileged    bool
}

// NewScope builds a scope over the given laboratories.
func NewScope(canEdit bool, laboratoryIDs ...string) Scope {
	labs := make(map[string]struct{}, len(laboratoryIDs))
	for _, id := range laboratoryIDs {
		labs[id] = struct{}{}
	}
	return Scope{LaboratoryIDs: labs, CanEdit: canEdit}
}

// CoversLaboratory reports whether the scope includes the laboratory.
func (s Scope) CoversLaboratory(id string) bool {
	if s.Global {
		return true
	}
	_, ok := s.LaboratoryIDs[id]
	return ok
}

// Actor identifies who performs an operation. It is passed explicitly into
// every core call.
type Actor struct {
	ID    string
	Scope Scope
}

// Authorizer answers scope questions about audits. Implementations are
// supplied by the caller and trusted as-is.
type Authorizer interface {
	CanAccessAudit(ctx context.Context, actor Actor, auditID string) bool
	CanEditAudit(ctx context.Context, actor Actor, auditID string) bool
}
