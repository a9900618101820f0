package core

import (
	"context"
	"fmt"

	"sliptacore/pkg/domain"
)

// NewAuditEditWindowRule blocks answer and finding changes on audits that are
// no longer editable. Action plans stay workable after completion so that
// corrective actions can be followed up, but not on cancelled audits.
func NewAuditEditWindowRule() domain.Rule {
	return auditEditWindowRule{}
}

type auditEditWindowRule struct{}

func (auditEditWindowRule) Name() string { return "audit_edit_window" }

func (auditEditWindowRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		auditID, entityID, ok := auditOfChange(change)
		if !ok {
			continue
		}
		audit, found := view.FindAudit(auditID)
		if !found {
			continue
		}
		locked := !audit.Status.Editable()
		if change.Entity == domain.EntityActionPlan {
			locked = audit.Status == domain.AuditCancelled
		}
		if !locked {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "audit_edit_window",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("audit %s is %s; %s changes are not allowed", audit.ID, audit.Status, change.Entity),
			Entity:   change.Entity,
			EntityID: entityID,
		})
	}
	return res, nil
}

// auditOfChange extracts the owning audit of a change. Audit changes
// themselves are not subject to the edit window.
func auditOfChange(change domain.Change) (auditID, entityID string, ok bool) {
	record := change.After
	if record == nil {
		record = change.Before
	}
	switch v := record.(type) {
	case domain.Response:
		return v.AuditID, v.ID, true
	case domain.SubQuestionResponse:
		return v.AuditID, v.ID, true
	case domain.Finding:
		return v.AuditID, v.ID, true
	case domain.ActionPlan:
		return v.AuditID, v.ID, true
	}
	return "", "", false
}
