package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sliptacore/internal/findings"
	"sliptacore/internal/lifecycle"
	"sliptacore/pkg/domain"
)

// CreateFindingInput describes a manually raised finding. QuestionID is
// optional; when set the finding is linked to that question and its section.
type CreateFindingInput struct {
	AuditID     string
	QuestionID  string
	Title       string
	Description string
	Severity    domain.FindingSeverity
}

// CreateFinding records a manual finding.
func (s *Service) CreateFinding(ctx context.Context, actor Actor, in CreateFindingInput) (Finding, error) {
	var created Finding
	err := s.run(ctx, "create_finding", actor, in.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, in.AuditID, true); err != nil {
			return "", err
		}
		if blank(in.Title) {
			return "", domain.ValidationError{Field: "title", Message: "required"}
		}
		severity := in.Severity
		if severity == "" {
			severity = domain.FindingMedium
		}
		if !severity.Valid() {
			return "", domain.ValidationError{Field: "severity", Message: fmt.Sprintf("unknown severity %q", in.Severity)}
		}
		finding := Finding{
			AuditID:     in.AuditID,
			Title:       strings.TrimSpace(in.Title),
			Description: strings.TrimSpace(in.Description),
			Severity:    severity,
			Origin:      domain.OriginManual,
		}
		if in.QuestionID != "" {
			q, ok := s.catalog.Question(in.QuestionID)
			if !ok {
				return "", domain.ValidationError{Field: "question_id", Message: fmt.Sprintf("unknown question %q", in.QuestionID)}
			}
			qid, sid := q.ID, q.SectionID
			finding.QuestionID = &qid
			finding.SectionID = &sid
		}
		err := s.transact(ctx, func(tx Transaction) error {
			if _, err := requireEditable(tx, in.AuditID); err != nil {
				return err
			}
			var err error
			created, err = tx.CreateFinding(finding)
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return Finding{}, err
	}
	s.publish(ctx, domain.Event{
		Type:     domain.EventFindingCreated,
		AuditID:  created.AuditID,
		EntityID: created.ID,
		ActorID:  actor.ID,
		Data:     map[string]any{"severity": string(created.Severity), "origin": string(created.Origin)},
	})
	return created, nil
}

// ListFindings returns the findings of an audit visible to the actor.
func (s *Service) ListFindings(ctx context.Context, actor Actor, auditID string) ([]Finding, error) {
	if _, err := s.authorize(ctx, actor, auditID, false); err != nil {
		return nil, err
	}
	var list []Finding
	err := s.store.View(ctx, func(view TransactionView) error {
		list = view.ListFindings(auditID)
		return nil
	})
	return list, err
}

// ListActionPlans returns the action plans of an audit visible to the actor.
func (s *Service) ListActionPlans(ctx context.Context, actor Actor, auditID string) ([]ActionPlan, error) {
	if _, err := s.authorize(ctx, actor, auditID, false); err != nil {
		return nil, err
	}
	var list []ActionPlan
	err := s.store.View(ctx, func(view TransactionView) error {
		list = view.ListActionPlans(auditID)
		return nil
	})
	return list, err
}

// DeleteFinding removes a finding together with its remaining plans. It is
// refused while any plan is still open or in progress.
func (s *Service) DeleteFinding(ctx context.Context, actor Actor, findingID string) error {
	finding, err := s.lookupFinding(ctx, findingID)
	if err != nil {
		return err
	}
	var plansRemoved int
	err = s.run(ctx, "delete_finding", actor, finding.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, finding.AuditID, true); err != nil {
			return findingID, err
		}
		return findingID, s.transact(ctx, func(tx Transaction) error {
			if _, err := requireEditable(tx, finding.AuditID); err != nil {
				return err
			}
			view := tx.Snapshot()
			if findings.HasActivePlan(view, finding.AuditID, findingID) {
				return domain.ConflictError{
					Rule:    "finding_active_plan",
					Message: fmt.Sprintf("finding %s still has an open or in-progress action plan", findingID),
				}
			}
			plans := findings.PlansOf(view, finding.AuditID, findingID)
			for _, p := range plans {
				if err := tx.DeleteActionPlan(p.ID); err != nil {
					return err
				}
			}
			plansRemoved = len(plans)
			return tx.DeleteFinding(findingID)
		})
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.Event{
		Type:     domain.EventFindingDeleted,
		AuditID:  finding.AuditID,
		EntityID: findingID,
		ActorID:  actor.ID,
		Data:     map[string]any{"action_plans_removed": plansRemoved},
	})
	return nil
}

// CreateActionPlanInput describes a corrective action for a finding. Empty
// fields take defaults: type "corrective", the actor as responsible and the
// configured due date offset.
type CreateActionPlanInput struct {
	FindingID      string
	Type           string
	Recommendation string
	ResponsibleID  string
	DueDate        time.Time
}

// CreateActionPlan attaches an open plan to a finding.
func (s *Service) CreateActionPlan(ctx context.Context, actor Actor, in CreateActionPlanInput) (ActionPlan, error) {
	finding, err := s.lookupFinding(ctx, in.FindingID)
	if err != nil {
		return ActionPlan{}, err
	}
	var created ActionPlan
	err = s.run(ctx, "create_action_plan", actor, finding.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, finding.AuditID, true); err != nil {
			return "", err
		}
		if blank(in.Recommendation) {
			return "", domain.ValidationError{Field: "recommendation", Message: "required"}
		}
		plan := ActionPlan{
			AuditID:        finding.AuditID,
			FindingID:      finding.ID,
			Type:           strings.TrimSpace(in.Type),
			Recommendation: strings.TrimSpace(in.Recommendation),
			ResponsibleID:  in.ResponsibleID,
			DueDate:        in.DueDate,
			Status:         domain.PlanOpen,
		}
		if plan.Type == "" {
			plan.Type = "corrective"
		}
		if plan.ResponsibleID == "" {
			plan.ResponsibleID = actor.ID
		}
		err := s.transact(ctx, func(tx Transaction) error {
			if plan.DueDate.IsZero() {
				plan.DueDate = findings.DueDate(tx.Now(), s.sync.DueDays())
			}
			var err error
			created, err = tx.CreateActionPlan(plan)
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return ActionPlan{}, err
	}
	s.publishPlan(ctx, actor, created, "")
	return created, nil
}

// TransitionPlanInput requests an action plan state change. Resolution notes
// and the effectiveness evaluation are applied before the closure check.
type TransitionPlanInput struct {
	PlanID                  string
	To                      domain.ActionPlanStatus
	ResolutionNotes         string
	EffectivenessEvaluation string
}

// TransitionActionPlan moves a plan through its automaton. Closing requires
// resolution notes and an effectiveness evaluation.
func (s *Service) TransitionActionPlan(ctx context.Context, actor Actor, in TransitionPlanInput) (ActionPlan, error) {
	plan, err := s.lookupPlan(ctx, in.PlanID)
	if err != nil {
		return ActionPlan{}, err
	}
	var (
		updated ActionPlan
		from    domain.ActionPlanStatus
	)
	err = s.run(ctx, "transition_action_plan", actor, plan.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, plan.AuditID, true); err != nil {
			return in.PlanID, err
		}
		return in.PlanID, s.transact(ctx, func(tx Transaction) error {
			current, ok := tx.Snapshot().FindActionPlan(in.PlanID)
			if !ok {
				return domain.NotFoundError{Entity: EntityActionPlan, ID: in.PlanID}
			}
			from = current.Status
			if err := lifecycle.CheckPlanTransition(current.Status, in.To); err != nil {
				return err
			}
			now := tx.Now()
			var err error
			updated, err = tx.UpdateActionPlan(in.PlanID, func(p *ActionPlan) error {
				if !blank(in.ResolutionNotes) {
					p.ResolutionNotes = strings.TrimSpace(in.ResolutionNotes)
				}
				if !blank(in.EffectivenessEvaluation) {
					p.EffectivenessEvaluation = strings.TrimSpace(in.EffectivenessEvaluation)
				}
				p.Status = in.To
				if in.To == domain.PlanClosed {
					if err := lifecycle.CheckPlanClosure(*p); err != nil {
						return err
					}
					p.ClosedAt = &now
				}
				return nil
			})
			return err
		})
	})
	if err != nil {
		return ActionPlan{}, err
	}
	s.publishPlan(ctx, actor, updated, from)
	return updated, nil
}

// ReopenActionPlan returns a closed plan to open. The previous closure is
// cleared so that a later closure has to be documented again.
func (s *Service) ReopenActionPlan(ctx context.Context, actor Actor, planID, justification string) (ActionPlan, error) {
	plan, err := s.lookupPlan(ctx, planID)
	if err != nil {
		return ActionPlan{}, err
	}
	var reopened ActionPlan
	err = s.run(ctx, "reopen_action_plan", actor, plan.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, plan.AuditID, true); err != nil {
			return planID, err
		}
		return planID, s.transact(ctx, func(tx Transaction) error {
			current, ok := tx.Snapshot().FindActionPlan(planID)
			if !ok {
				return domain.NotFoundError{Entity: EntityActionPlan, ID: planID}
			}
			if err := lifecycle.CheckReopen(actor, "action plan", string(current.Status), string(domain.PlanClosed), justification); err != nil {
				return err
			}
			var err error
			reopened, err = tx.UpdateActionPlan(planID, func(p *ActionPlan) error {
				p.Status = domain.PlanOpen
				p.ClosedAt = nil
				p.ResolutionNotes = ""
				p.EffectivenessEvaluation = ""
				p.ReopenJustification = strings.TrimSpace(justification)
				return nil
			})
			return err
		})
	})
	if err != nil {
		return ActionPlan{}, err
	}
	s.publish(ctx, domain.Event{
		Type:     domain.EventActionPlanReopened,
		AuditID:  reopened.AuditID,
		EntityID: reopened.ID,
		ActorID:  actor.ID,
		Data:     map[string]any{"justification": reopened.ReopenJustification},
	})
	return reopened, nil
}

func (s *Service) lookupFinding(ctx context.Context, id string) (Finding, error) {
	var (
		finding Finding
		found   bool
	)
	if err := s.store.View(ctx, func(view TransactionView) error {
		finding, found = view.FindFinding(id)
		return nil
	}); err != nil {
		return Finding{}, err
	}
	if !found {
		return Finding{}, domain.NotFoundError{Entity: EntityFinding, ID: id}
	}
	return finding, nil
}

func (s *Service) lookupPlan(ctx context.Context, id string) (ActionPlan, error) {
	var (
		plan  ActionPlan
		found bool
	)
	if err := s.store.View(ctx, func(view TransactionView) error {
		plan, found = view.FindActionPlan(id)
		return nil
	}); err != nil {
		return ActionPlan{}, err
	}
	if !found {
		return ActionPlan{}, domain.NotFoundError{Entity: EntityActionPlan, ID: id}
	}
	return plan, nil
}

func (s *Service) publishPlan(ctx context.Context, actor Actor, p ActionPlan, from domain.ActionPlanStatus) {
	data := map[string]any{"finding_id": p.FindingID, "to": string(p.Status)}
	if from != "" {
		data["from"] = string(from)
	}
	s.publish(ctx, domain.Event{Type: domain.EventActionPlanChanged, AuditID: p.AuditID, EntityID: p.ID, ActorID: actor.ID, Data: data})
}
