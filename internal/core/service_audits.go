package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"sliptacore/internal/closure"
	"sliptacore/internal/diagnostics"
	"sliptacore/internal/lifecycle"
	"sliptacore/internal/scoring"
	"sliptacore/pkg/domain"
)

// CreateAuditInput describes a new audit.
type CreateAuditInput struct {
	LaboratoryID    string
	OpenedOn        time.Time
	PreviousAuditID string
}

// CreateAudit opens a draft audit for a laboratory within the actor's scope.
func (s *Service) CreateAudit(ctx context.Context, actor Actor, in CreateAuditInput) (Audit, error) {
	var created Audit
	err := s.run(ctx, "create_audit", actor, "", func(ctx context.Context) (string, error) {
		if blank(in.LaboratoryID) {
			return "", domain.ValidationError{Field: "laboratory_id", Message: "required"}
		}
		if !actor.Scope.CanEdit || !actor.Scope.CoversLaboratory(in.LaboratoryID) {
			return "", domain.AuthorizationError{ActorID: actor.ID, Action: "create audit for laboratory " + in.LaboratoryID}
		}
		audit := Audit{
			LaboratoryID: in.LaboratoryID,
			Status:       domain.AuditDraft,
			OpenedOn:     in.OpenedOn,
		}
		if audit.OpenedOn.IsZero() {
			audit.OpenedOn = startOfDay(s.clock.Now())
		}
		if !blank(in.PreviousAuditID) {
			prev, err := s.lookupAudit(ctx, in.PreviousAuditID)
			if err != nil {
				return "", err
			}
			if prev.LaboratoryID != in.LaboratoryID {
				return "", domain.ValidationError{Field: "previous_audit_id", Message: "belongs to a different laboratory"}
			}
			id := prev.ID
			audit.PreviousAuditID = &id
		}
		err := s.transact(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateAudit(audit)
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return Audit{}, err
	}
	s.publish(ctx, domain.Event{Type: domain.EventAuditCreated, AuditID: created.ID, EntityID: created.ID, ActorID: actor.ID})
	return created, nil
}

// GetAudit returns an audit visible to the actor.
func (s *Service) GetAudit(ctx context.Context, actor Actor, id string) (Audit, error) {
	return s.authorize(ctx, actor, id, false)
}

// ListAudits returns the audits visible to the actor, oldest first.
func (s *Service) ListAudits(ctx context.Context, actor Actor) ([]Audit, error) {
	var all []Audit
	if err := s.store.View(ctx, func(view TransactionView) error {
		all = view.ListAudits()
		return nil
	}); err != nil {
		return nil, err
	}
	visible := make([]Audit, 0, len(all))
	for _, a := range all {
		if s.authorizer.CanAccessAudit(ctx, actor, a.ID) {
			visible = append(visible, a)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool { return visible[i].CreatedAt.Before(visible[j].CreatedAt) })
	return visible, nil
}

// TransitionAuditInput requests a lifecycle move. ClosedOn is only used when
// entering completed and defaults to today.
type TransitionAuditInput struct {
	AuditID  string
	To       domain.AuditStatus
	ClosedOn *time.Time
}

// TransitionOutcome reports a completed transition. Score and Decision are set
// when the audit entered completed.
type TransitionOutcome struct {
	Audit    Audit
	From     domain.AuditStatus
	Score    *scoring.Score
	Decision *closure.Decision
}

// TransitionAudit moves an audit along its lifecycle. Entering completed is
// subject to the configured completion policy, stamps the closed date and
// logs the computed score.
func (s *Service) TransitionAudit(ctx context.Context, actor Actor, in TransitionAuditInput) (TransitionOutcome, error) {
	var out TransitionOutcome
	err := s.run(ctx, "transition_audit", actor, in.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, in.AuditID, true); err != nil {
			return in.AuditID, err
		}
		err := s.transact(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			current, ok := view.FindAudit(in.AuditID)
			if !ok {
				return domain.NotFoundError{Entity: EntityAudit, ID: in.AuditID}
			}
			if err := lifecycle.CheckAuditTransition(current.Status, in.To); err != nil {
				return err
			}
			out.From = current.Status

			var closedOn time.Time
			if in.To == domain.AuditCompleted {
				if err := s.permitCompletion(ctx, view, current.ID, &out); err != nil {
					return err
				}
				closedOn = startOfDay(tx.Now())
				if in.ClosedOn != nil {
					closedOn = *in.ClosedOn
				}
				if closedOn.Before(startOfDay(current.OpenedOn)) {
					return domain.ValidationError{Field: "closed_on", Message: "precedes the audit opening date"}
				}
			}

			updated, err := tx.UpdateAudit(current.ID, func(a *Audit) error {
				a.Status = in.To
				if in.To == domain.AuditCompleted {
					a.ClosedOn = &closedOn
				}
				return nil
			})
			if err != nil {
				return err
			}
			out.Audit = updated
			if in.To == domain.AuditCompleted {
				score, err := scoring.Audit(s.catalog, view.ListResponses(current.ID))
				if err != nil {
					return err
				}
				out.Score = score
			}
			return nil
		})
		return in.AuditID, err
	})
	if err != nil {
		return TransitionOutcome{}, err
	}
	if out.Audit.Status == domain.AuditCompleted {
		args := []any{"audit_id", out.Audit.ID, "closed_on", out.Audit.ClosedOn.Format(time.DateOnly)}
		if out.Score != nil {
			args = append(args, "percentage", out.Score.Percentage, "stars", out.Score.StarLevel, "earned", out.Score.Earned, "denominator", out.Score.AdjustedDenominator)
		}
		s.logger.Info("audit completed", args...)
	}
	s.publish(ctx, domain.Event{
		Type:     domain.EventAuditTransitioned,
		AuditID:  out.Audit.ID,
		EntityID: out.Audit.ID,
		ActorID:  actor.ID,
		Data:     map[string]any{"from": string(out.From), "to": string(out.Audit.Status)},
	})
	return out, nil
}

// permitCompletion applies the completion policy to the audit as seen inside
// the transaction.
func (s *Service) permitCompletion(ctx context.Context, view TransactionView, auditID string, out *TransitionOutcome) error {
	in := lifecycle.CompletionInput{Responses: len(view.ListResponses(auditID))}
	if s.policy == lifecycle.PolicyClosureGate {
		report, err := diagnostics.Run(ctx, s.catalog, diagnosticsInput(view, auditID), s.evidence)
		if err != nil {
			return err
		}
		decision := closure.Evaluate(report)
		out.Decision = &decision
		in.CanClose = decision.CanClose
		for _, b := range decision.Blockers {
			in.Blockers = append(in.Blockers, b.Message)
		}
	}
	return s.policy.Permit(in)
}

// ReopenAudit moves a completed audit back to in_progress. The actor must be
// privileged and give a justification of at least
// lifecycle.MinReopenJustification characters.
func (s *Service) ReopenAudit(ctx context.Context, actor Actor, auditID, justification string) (Audit, error) {
	var reopened Audit
	err := s.run(ctx, "reopen_audit", actor, auditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, auditID, false); err != nil {
			return auditID, err
		}
		err := s.transact(ctx, func(tx Transaction) error {
			current, ok := tx.Snapshot().FindAudit(auditID)
			if !ok {
				return domain.NotFoundError{Entity: EntityAudit, ID: auditID}
			}
			if err := lifecycle.CheckReopen(actor, "audit", string(current.Status), string(domain.AuditCompleted), justification); err != nil {
				return err
			}
			now := tx.Now()
			var err error
			reopened, err = tx.UpdateAudit(auditID, func(a *Audit) error {
				a.Status = domain.AuditInProgress
				a.ClosedOn = nil
				a.ReopenJustification = strings.TrimSpace(justification)
				a.ReopenedAt = &now
				return nil
			})
			return err
		})
		return auditID, err
	})
	if err != nil {
		return Audit{}, err
	}
	s.logger.Info("audit reopened", "audit_id", auditID, "actor", actor.ID)
	s.publish(ctx, domain.Event{
		Type:     domain.EventAuditReopened,
		AuditID:  auditID,
		EntityID: auditID,
		ActorID:  actor.ID,
		Data:     map[string]any{"justification": reopened.ReopenJustification},
	})
	return reopened, nil
}

func diagnosticsInput(view TransactionView, auditID string) diagnostics.Input {
	return diagnostics.Input{
		AuditID:      auditID,
		Responses:    view.ListResponses(auditID),
		SubResponses: view.ListSubResponses(auditID),
		Findings:     view.ListFindings(auditID),
		ActionPlans:  view.ListActionPlans(auditID),
	}
}
