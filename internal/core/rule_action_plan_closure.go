package core

import (
	"context"

	"sliptacore/internal/lifecycle"
	"sliptacore/pkg/domain"
)

// NewActionPlanClosureRule blocks commits that leave a closed action plan
// without resolution notes or an effectiveness evaluation.
func NewActionPlanClosureRule() domain.Rule {
	return actionPlanClosureRule{}
}

type actionPlanClosureRule struct{}

func (actionPlanClosureRule) Name() string { return "action_plan_closure" }

func (actionPlanClosureRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityActionPlan || change.Action == domain.ActionDelete {
			continue
		}
		plan, ok := change.After.(domain.ActionPlan)
		if !ok || plan.Status != domain.PlanClosed {
			continue
		}
		if err := lifecycle.CheckPlanClosure(plan); err != nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "action_plan_closure",
				Severity: domain.SeverityBlock,
				Message:  err.Error(),
				Entity:   domain.EntityActionPlan,
				EntityID: plan.ID,
			})
		}
	}
	return res, nil
}
