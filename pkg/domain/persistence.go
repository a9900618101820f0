package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreateAudit(Audit) (Audit, error)
	UpdateAudit(id string, mutator func(*Audit) error) (Audit, error)
	UpsertResponse(Response) (Response, error)
	UpsertSubResponse(SubQuestionResponse) (SubQuestionResponse, error)
	CreateFinding(Finding) (Finding, error)
	UpdateFinding(id string, mutator func(*Finding) error) (Finding, error)
	DeleteFinding(id string) error
	CreateActionPlan(ActionPlan) (ActionPlan, error)
	UpdateActionPlan(id string, mutator func(*ActionPlan) error) (ActionPlan, error)
	DeleteActionPlan(id string) error
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListAudits() []Audit
	FindAudit(id string) (Audit, bool)
	FindResponse(auditID, questionID string) (Response, bool)
	ListResponses(auditID string) []Response
	FindSubResponse(auditID, subQuestionID string) (SubQuestionResponse, bool)
	ListSubResponses(auditID string) []SubQuestionResponse
	FindFinding(id string) (Finding, bool)
	ListFindings(auditID string) []Finding
	FindActionPlan(id string) (ActionPlan, bool)
	ListActionPlans(auditID string) []ActionPlan
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
