package core

import (
	"context"
	"fmt"
	"strings"

	"sliptacore/internal/findings"
	"sliptacore/internal/scoring"
	"sliptacore/pkg/domain"
)

// StoreResponseInput is one answer to a checklist question.
type StoreResponseInput struct {
	AuditID         string
	QuestionID      string
	Answer          domain.Answer
	Comment         string
	NAJustification string
}

// ResponseOutcome is returned by StoreResponse.
type ResponseOutcome struct {
	Response Response
	Sync     findings.Report
	Score    *scoring.Score
}

// StoreResponse validates and upserts an answer, synchronizes findings for
// the question and returns the recomputed audit score.
func (s *Service) StoreResponse(ctx context.Context, actor Actor, in StoreResponseInput) (ResponseOutcome, error) {
	var out ResponseOutcome
	err := s.run(ctx, "store_response", actor, in.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, in.AuditID, true); err != nil {
			return "", err
		}
		question, ok := s.catalog.Question(in.QuestionID)
		if !ok {
			return "", domain.ValidationError{Field: "question_id", Message: fmt.Sprintf("unknown question %q", in.QuestionID)}
		}
		if err := validateAnswer(in.Answer, in.Comment, in.NAJustification); err != nil {
			return "", err
		}
		err := s.transact(ctx, func(tx Transaction) error {
			if _, err := requireEditable(tx, in.AuditID); err != nil {
				return err
			}
			if question.RequiresAllSubsForYes && in.Answer == domain.AnswerYes {
				if err := s.checkComposite(tx.Snapshot(), in.AuditID, question); err != nil {
					return err
				}
			}
			stored, err := tx.UpsertResponse(Response{
				AuditID:         in.AuditID,
				QuestionID:      question.ID,
				Answer:          in.Answer,
				Comment:         strings.TrimSpace(in.Comment),
				NAJustification: strings.TrimSpace(in.NAJustification),
				RespondedBy:     actor.ID,
				RespondedAt:     tx.Now(),
			})
			if err != nil {
				return err
			}
			report, err := s.sync.SyncResponse(tx, in.AuditID, question.ID, actor)
			if err != nil {
				return err
			}
			if err := touchAudit(tx, in.AuditID); err != nil {
				return err
			}
			score, err := scoring.Audit(s.catalog, tx.Snapshot().ListResponses(in.AuditID))
			if err != nil {
				return err
			}
			out = ResponseOutcome{Response: stored, Sync: report, Score: score}
			return nil
		})
		return out.Response.ID, err
	})
	if err != nil {
		return ResponseOutcome{}, err
	}
	s.publishResponse(ctx, actor, out.Response, out.Sync)
	return out, nil
}

// StoreSubResponseInput is one answer to a sub-question of a composite item.
// QuestionID may be empty, in which case the catalog parent is used.
type StoreSubResponseInput struct {
	AuditID       string
	SubQuestionID string
	QuestionID    string
	Answer        domain.Answer
	Comment       string
}

// SubResponseOutcome is returned by StoreSubQuestionResponse. When the new
// answer invalidated a compliant parent, ParentInvalidated is set and Parent
// holds the rewritten parent response.
type SubResponseOutcome struct {
	SubResponse       SubQuestionResponse
	ParentInvalidated bool
	Parent            *Response
	Sync              findings.Report
	Score             *scoring.Score
}

// StoreSubQuestionResponse upserts a sub-question answer. A P or N answer
// under a composite parent currently answered Y downgrades the parent to P
// and runs the findings synchronizer for it.
func (s *Service) StoreSubQuestionResponse(ctx context.Context, actor Actor, in StoreSubResponseInput) (SubResponseOutcome, error) {
	var out SubResponseOutcome
	err := s.run(ctx, "store_sub_response", actor, in.AuditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, in.AuditID, true); err != nil {
			return "", err
		}
		sub, ok := s.catalog.SubQuestion(in.SubQuestionID)
		if !ok {
			return "", domain.ValidationError{Field: "sub_question_id", Message: fmt.Sprintf("unknown sub-question %q", in.SubQuestionID)}
		}
		if in.QuestionID != "" && in.QuestionID != sub.QuestionID {
			return "", domain.ValidationError{
				Field:   "question_id",
				Message: fmt.Sprintf("sub-question %s belongs to %s, not %s", sub.ID, sub.QuestionID, in.QuestionID),
			}
		}
		if !in.Answer.Valid() {
			return "", domain.ValidationError{Field: "answer", Message: fmt.Sprintf("invalid answer %q", in.Answer)}
		}
		parentQuestion, _ := s.catalog.Question(sub.QuestionID)

		err := s.transact(ctx, func(tx Transaction) error {
			if _, err := requireEditable(tx, in.AuditID); err != nil {
				return err
			}
			stored, err := tx.UpsertSubResponse(SubQuestionResponse{
				AuditID:       in.AuditID,
				SubQuestionID: sub.ID,
				QuestionID:    sub.QuestionID,
				Answer:        in.Answer,
				Comment:       strings.TrimSpace(in.Comment),
				RespondedBy:   actor.ID,
				RespondedAt:   tx.Now(),
			})
			if err != nil {
				return err
			}
			out.SubResponse = stored

			parent, hasParent := tx.Snapshot().FindResponse(in.AuditID, sub.QuestionID)
			if hasParent && parent.Answer == domain.AnswerYes && parentQuestion.RequiresAllSubsForYes && in.Answer.NonConforming() {
				parent.Answer = domain.AnswerPartial
				parent.Comment = invalidationComment(sub.ID, in.Answer, parent.Comment)
				parent.RespondedBy = actor.ID
				parent.RespondedAt = tx.Now()
				rewritten, err := tx.UpsertResponse(parent)
				if err != nil {
					return err
				}
				report, err := s.sync.SyncResponse(tx, in.AuditID, sub.QuestionID, actor)
				if err != nil {
					return err
				}
				out.ParentInvalidated = true
				out.Parent = &rewritten
				out.Sync = report
			}
			if err := touchAudit(tx, in.AuditID); err != nil {
				return err
			}
			out.Score, err = scoring.Audit(s.catalog, tx.Snapshot().ListResponses(in.AuditID))
			return err
		})
		return out.SubResponse.ID, err
	})
	if err != nil {
		return SubResponseOutcome{}, err
	}
	if out.ParentInvalidated {
		s.logger.Info("composite parent invalidated", "audit_id", in.AuditID, "question_id", out.Parent.QuestionID, "sub_question_id", out.SubResponse.SubQuestionID)
		s.publishResponse(ctx, actor, *out.Parent, out.Sync)
	}
	return out, nil
}

// ReconcileFindings runs the batch synchronizer over every response of the
// audit. Running it twice in a row yields an empty second report.
func (s *Service) ReconcileFindings(ctx context.Context, actor Actor, auditID string) (findings.Report, error) {
	var report findings.Report
	err := s.run(ctx, "reconcile_findings", actor, auditID, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, actor, auditID, true); err != nil {
			return "", err
		}
		err := s.transact(ctx, func(tx Transaction) error {
			if _, err := requireEditable(tx, auditID); err != nil {
				return err
			}
			var err error
			report, err = s.sync.Reconcile(tx, auditID, actor)
			return err
		})
		return auditID, err
	})
	if err != nil {
		return findings.Report{}, err
	}
	if !report.Empty() {
		s.publish(ctx, domain.Event{Type: domain.EventFindingsSynced, AuditID: auditID, ActorID: actor.ID, Data: reportData(report)})
	}
	return report, nil
}

// validateAnswer rejects malformed responses before anything is written.
func validateAnswer(answer domain.Answer, comment, naJustification string) error {
	if !answer.Valid() {
		return domain.ValidationError{Field: "answer", Message: fmt.Sprintf("invalid answer %q", answer)}
	}
	if answer.NonConforming() && blank(comment) {
		return domain.ValidationError{Field: "comment", Message: fmt.Sprintf("required for answer %s", answer)}
	}
	if answer == domain.AnswerNotApplicable && blank(naJustification) {
		return domain.ValidationError{Field: "na_justification", Message: "required for answer NA"}
	}
	return nil
}

// checkComposite requires every sub-question of q to be answered Y or NA.
func (s *Service) checkComposite(view TransactionView, auditID string, q domain.Question) error {
	var missing, failing []string
	for _, sq := range s.catalog.SubQuestionsOf(q.ID) {
		sr, ok := view.FindSubResponse(auditID, sq.ID)
		switch {
		case !ok:
			missing = append(missing, sq.ID)
		case !sr.Answer.Satisfies():
			failing = append(failing, fmt.Sprintf("%s=%s", sq.ID, sr.Answer))
		}
	}
	if len(missing) == 0 && len(failing) == 0 {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "unanswered "+strings.Join(missing, ", "))
	}
	if len(failing) > 0 {
		parts = append(parts, "non-compliant "+strings.Join(failing, ", "))
	}
	return domain.ConflictError{
		Rule:    "composite_requires_all_subs",
		Message: fmt.Sprintf("question %s can only be Y when every sub-question is Y or NA (%s)", q.Code, strings.Join(parts, "; ")),
	}
}

func invalidationComment(subID string, answer domain.Answer, previous string) string {
	note := fmt.Sprintf("Automatically set to P: sub-question %s was answered %s.", subID, answer)
	if blank(previous) {
		return note
	}
	return note + "\n" + previous
}

// touchAudit bumps the audit's UpdatedAt and moves a draft into progress on
// its first answer.
func touchAudit(tx Transaction, auditID string) error {
	_, err := tx.UpdateAudit(auditID, func(a *Audit) error {
		if a.Status == domain.AuditDraft {
			a.Status = domain.AuditInProgress
		}
		return nil
	})
	return err
}

func (s *Service) publishResponse(ctx context.Context, actor Actor, r Response, report findings.Report) {
	data := reportData(report)
	data["question_id"] = r.QuestionID
	data["answer"] = string(r.Answer)
	s.publish(ctx, domain.Event{Type: domain.EventResponseStored, AuditID: r.AuditID, EntityID: r.ID, ActorID: actor.ID, Data: data})
}

func reportData(r findings.Report) map[string]any {
	return map[string]any{
		"findings_created":     r.FindingsCreated,
		"findings_removed":     r.FindingsRemoved,
		"action_plans_created": r.ActionPlansCreated,
		"action_plans_updated": r.ActionPlansUpdated,
	}
}
