// Package findings keeps non-conformance records and their action plans in
// step with the current answers of an audit.
package findings

import (
	"fmt"
	"strings"
	"time"

	"sliptacore/internal/catalog"
	"sliptacore/pkg/domain"
)

// DefaultDueDays is the number of days between plan creation and its due date.
const DefaultDueDays = 45

const (
	planTypeCorrective   = "corrective"
	autoEffectiveness    = "effective"
	autoResolutionFormat = "Automatically closed: question %s was re-answered Y on %s."
)

// Report counts the records touched by one synchronisation pass.
type Report struct {
	FindingsCreated    int `json:"findings_created"`
	FindingsRemoved    int `json:"findings_removed"`
	ActionPlansCreated int `json:"action_plans_created"`
	ActionPlansUpdated int `json:"action_plans_updated"`
}

// Add accumulates another report into r.
func (r *Report) Add(other Report) {
	r.FindingsCreated += other.FindingsCreated
	r.FindingsRemoved += other.FindingsRemoved
	r.ActionPlansCreated += other.ActionPlansCreated
	r.ActionPlansUpdated += other.ActionPlansUpdated
}

// Empty reports whether nothing changed.
func (r Report) Empty() bool {
	return r == Report{}
}

// Synchronizer reconciles findings against responses inside a transaction.
type Synchronizer struct {
	catalog     *catalog.Catalog
	perResponse SeverityStrategy
	batch       SeverityStrategy
	dueDays     int
}

// Option customises a Synchronizer.
type Option func(*Synchronizer)

// WithDueDays overrides the plan due date offset. Non-positive values are ignored.
func WithDueDays(days int) Option {
	return func(s *Synchronizer) {
		if days > 0 {
			s.dueDays = days
		}
	}
}

// WithPerResponseStrategy overrides the severity strategy used by SyncResponse.
func WithPerResponseStrategy(strategy SeverityStrategy) Option {
	return func(s *Synchronizer) {
		if strategy != nil {
			s.perResponse = strategy
		}
	}
}

// WithBatchStrategy overrides the severity strategy used by Reconcile.
func WithBatchStrategy(strategy SeverityStrategy) Option {
	return func(s *Synchronizer) {
		if strategy != nil {
			s.batch = strategy
		}
	}
}

// New constructs a synchronizer over the catalog.
func New(cat *catalog.Catalog, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		catalog:     cat,
		perResponse: WeightTiered{},
		batch:       Binary{},
		dueDays:     DefaultDueDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DueDays returns the configured plan due offset.
func (s *Synchronizer) DueDays() int { return s.dueDays }

// SyncResponse runs the per-response path for one question: a P/N answer
// without a finding creates one, a Y answer resolves existing findings.
func (s *Synchronizer) SyncResponse(tx domain.Transaction, auditID, questionID string, actor domain.Actor) (Report, error) {
	r, ok := tx.Snapshot().FindResponse(auditID, questionID)
	if !ok {
		return Report{}, nil
	}
	return s.syncOne(tx, r, s.perResponse, actor)
}

// Reconcile runs the batch path over every response of the audit in catalog order.
func (s *Synchronizer) Reconcile(tx domain.Transaction, auditID string, actor domain.Actor) (Report, error) {
	var rep Report
	for _, q := range s.catalog.Questions() {
		r, ok := tx.Snapshot().FindResponse(auditID, q.ID)
		if !ok {
			continue
		}
		one, err := s.syncOne(tx, r, s.batch, actor)
		if err != nil {
			return Report{}, err
		}
		rep.Add(one)
	}
	return rep, nil
}

func (s *Synchronizer) syncOne(tx domain.Transaction, r domain.Response, strategy SeverityStrategy, actor domain.Actor) (Report, error) {
	switch {
	case r.Answer.NonConforming():
		q, ok := s.catalog.Question(r.QuestionID)
		if !ok {
			return Report{}, domain.IntegrityError{Message: fmt.Sprintf("response for question %q has no catalog entry", r.QuestionID)}
		}
		return s.create(tx, r, q, strategy, actor)
	case r.Answer == domain.AnswerYes:
		return s.resolve(tx, r)
	}
	return Report{}, nil
}

func (s *Synchronizer) create(tx domain.Transaction, r domain.Response, q domain.Question, strategy SeverityStrategy, actor domain.Actor) (Report, error) {
	var rep Report
	if len(ForQuestion(tx.Snapshot(), r.AuditID, q.ID)) > 0 {
		return rep, nil
	}
	sectionID, questionID := q.SectionID, q.ID
	finding, err := tx.CreateFinding(domain.Finding{
		AuditID:     r.AuditID,
		SectionID:   &sectionID,
		QuestionID:  &questionID,
		Title:       fmt.Sprintf("Non-conformance on %s", q.Code),
		Description: describe(q, r),
		Severity:    strategy.Severity(r.Answer, q.Weight),
		Origin:      domain.OriginSynchronizer,
	})
	if err != nil {
		return Report{}, fmt.Errorf("create finding for %s: %w", q.Code, err)
	}
	rep.FindingsCreated++

	if len(PlansOf(tx.Snapshot(), r.AuditID, finding.ID)) > 0 {
		return rep, nil
	}
	if _, err := tx.CreateActionPlan(domain.ActionPlan{
		AuditID:        r.AuditID,
		FindingID:      finding.ID,
		Type:           planTypeCorrective,
		Recommendation: fmt.Sprintf("Define and implement corrective action for question %s, then verify its effectiveness.", q.Code),
		ResponsibleID:  actor.ID,
		DueDate:        DueDate(tx.Now(), s.dueDays),
		Status:         domain.PlanOpen,
	}); err != nil {
		return Report{}, fmt.Errorf("create action plan for %s: %w", q.Code, err)
	}
	rep.ActionPlansCreated++
	return rep, nil
}

func (s *Synchronizer) resolve(tx domain.Transaction, r domain.Response) (Report, error) {
	var rep Report
	now := tx.Now()
	code := r.QuestionID
	if q, ok := s.catalog.Question(r.QuestionID); ok {
		code = q.Code
	}
	for _, f := range ForQuestion(tx.Snapshot(), r.AuditID, r.QuestionID) {
		plans := PlansOf(tx.Snapshot(), r.AuditID, f.ID)
		if !anyActive(plans) {
			for _, p := range plans {
				if err := tx.DeleteActionPlan(p.ID); err != nil {
					return Report{}, fmt.Errorf("delete action plan %s: %w", p.ID, err)
				}
			}
			if err := tx.DeleteFinding(f.ID); err != nil {
				return Report{}, fmt.Errorf("delete finding %s: %w", f.ID, err)
			}
			rep.FindingsRemoved++
			continue
		}
		for _, p := range plans {
			if !p.Status.Active() {
				continue
			}
			if _, err := tx.UpdateActionPlan(p.ID, func(plan *domain.ActionPlan) error {
				closedAt := now
				plan.Status = domain.PlanClosed
				plan.ResolutionNotes = fmt.Sprintf(autoResolutionFormat, code, now.Format(time.DateOnly))
				plan.EffectivenessEvaluation = autoEffectiveness
				plan.ClosedAt = &closedAt
				return nil
			}); err != nil {
				return Report{}, fmt.Errorf("close action plan %s: %w", p.ID, err)
			}
			rep.ActionPlansUpdated++
		}
	}
	return rep, nil
}

// DueDate returns the calendar date days after now, at midnight UTC.
func DueDate(now time.Time, days int) time.Time {
	y, m, d := now.UTC().AddDate(0, 0, days).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ForQuestion lists the findings of an audit linked to a question.
func ForQuestion(view domain.TransactionView, auditID, questionID string) []domain.Finding {
	var out []domain.Finding
	for _, f := range view.ListFindings(auditID) {
		if f.QuestionID != nil && *f.QuestionID == questionID {
			out = append(out, f)
		}
	}
	return out
}

// PlansOf lists the action plans owned by a finding.
func PlansOf(view domain.TransactionView, auditID, findingID string) []domain.ActionPlan {
	var out []domain.ActionPlan
	for _, p := range view.ListActionPlans(auditID) {
		if p.FindingID == findingID {
			out = append(out, p)
		}
	}
	return out
}

// HasActivePlan reports whether a finding still has open or in-progress work.
func HasActivePlan(view domain.TransactionView, auditID, findingID string) bool {
	return anyActive(PlansOf(view, auditID, findingID))
}

func anyActive(plans []domain.ActionPlan) bool {
	for _, p := range plans {
		if p.Status.Active() {
			return true
		}
	}
	return false
}

func describe(q domain.Question, r domain.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %s answered %s: %s", q.Code, r.Answer, q.Text)
	if c := strings.TrimSpace(r.Comment); c != "" {
		b.WriteString("\nAuditor comment: ")
		b.WriteString(c)
	}
	return b.String()
}
