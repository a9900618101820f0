package core

import "sliptacore/pkg/domain"

type (
	EntityType          = domain.EntityType
	Severity            = domain.Severity
	Base                = domain.Base
	Audit               = domain.Audit
	Response            = domain.Response
	SubQuestionResponse = domain.SubQuestionResponse
	Finding             = domain.Finding
	ActionPlan          = domain.ActionPlan
	Actor               = domain.Actor
	Change              = domain.Change
	Action              = domain.Action
	Violation           = domain.Violation
	Result              = domain.Result
	Rule                = domain.Rule
	RulesEngine         = domain.RulesEngine
	RuleViolationError  = domain.RuleViolationError
	Transaction         = domain.Transaction
	TransactionView     = domain.TransactionView
	PersistentStore     = domain.PersistentStore
)

const (
	EntityAudit       = domain.EntityAudit
	EntityResponse    = domain.EntityResponse
	EntitySubResponse = domain.EntitySubResponse
	EntityFinding     = domain.EntityFinding
	EntityActionPlan  = domain.EntityActionPlan
	EntityEvidence    = domain.EntityEvidence
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
