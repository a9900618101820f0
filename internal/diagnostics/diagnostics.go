// Package diagnostics scans an audit's answers for completeness and
// consistency gaps. Run never mutates its input; the closure gate decides
// which of the resulting categories block completion.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sliptacore/internal/catalog"
	"sliptacore/pkg/domain"
)

// EvidenceChecker reports whether any evidence is attached to a question of an audit.
type EvidenceChecker interface {
	HasEvidence(ctx context.Context, auditID, questionID string) (bool, error)
}

// Category names one gap collection.
type Category string

// Gap categories in report order.
const (
	CategoryUnanswered             Category = "unanswered"
	CategoryNCWithoutFinding       Category = "nc_without_finding"
	CategoryEvidenceMissing        Category = "evidence_missing"
	CategoryNAWithoutJustification Category = "na_without_justification"
	CategoryMissingComments        Category = "missing_comments"
	CategoryCompositeViolations    Category = "composite_violations"
	CategoryContradictions         Category = "contradictions"
)

// Categories lists every category in report order.
func Categories() []Category {
	return []Category{
		CategoryUnanswered,
		CategoryNCWithoutFinding,
		CategoryEvidenceMissing,
		CategoryNAWithoutJustification,
		CategoryMissingComments,
		CategoryCompositeViolations,
		CategoryContradictions,
	}
}

// Gap is a single diagnostic hit against one question.
type Gap struct {
	QuestionID   string        `json:"question_id"`
	QuestionCode string        `json:"question_code"`
	SectionCode  int           `json:"section_code"`
	Answer       domain.Answer `json:"answer,omitempty"`
	Detail       string        `json:"detail,omitempty"`
}

// Report holds the seven gap collections for one audit.
type Report struct {
	AuditID                string `json:"audit_id"`
	Unanswered             []Gap  `json:"unanswered"`
	NCWithoutFinding       []Gap  `json:"nc_without_finding"`
	EvidenceMissing        []Gap  `json:"evidence_missing"`
	NAWithoutJustification []Gap  `json:"na_without_justification"`
	MissingComments        []Gap  `json:"missing_comments"`
	CompositeViolations    []Gap  `json:"composite_violations"`
	Contradictions         []Gap  `json:"contradictions"`
}

// Gaps returns the collection for a category.
func (r Report) Gaps(c Category) []Gap {
	switch c {
	case CategoryUnanswered:
		return r.Unanswered
	case CategoryNCWithoutFinding:
		return r.NCWithoutFinding
	case CategoryEvidenceMissing:
		return r.EvidenceMissing
	case CategoryNAWithoutJustification:
		return r.NAWithoutJustification
	case CategoryMissingComments:
		return r.MissingComments
	case CategoryCompositeViolations:
		return r.CompositeViolations
	case CategoryContradictions:
		return r.Contradictions
	}
	return nil
}

// Clean reports whether every collection is empty.
func (r Report) Clean() bool {
	for _, c := range Categories() {
		if len(r.Gaps(c)) > 0 {
			return false
		}
	}
	return true
}

// Input is the snapshot of one audit that diagnostics inspect.
type Input struct {
	AuditID      string
	Responses    []domain.Response
	SubResponses []domain.SubQuestionResponse
	Findings     []domain.Finding
	ActionPlans  []domain.ActionPlan
}

type index struct {
	responses       map[string]domain.Response
	subResponses    map[string]domain.SubQuestionResponse
	findingsByQ     map[string][]domain.Finding
	activePlanByFnd map[string]bool
}

func buildIndex(in Input) index {
	idx := index{
		responses:       make(map[string]domain.Response, len(in.Responses)),
		subResponses:    make(map[string]domain.SubQuestionResponse, len(in.SubResponses)),
		findingsByQ:     make(map[string][]domain.Finding),
		activePlanByFnd: make(map[string]bool),
	}
	for _, r := range in.Responses {
		idx.responses[r.QuestionID] = r
	}
	for _, sr := range in.SubResponses {
		idx.subResponses[sr.SubQuestionID] = sr
	}
	for _, f := range in.Findings {
		if f.QuestionID != nil {
			idx.findingsByQ[*f.QuestionID] = append(idx.findingsByQ[*f.QuestionID], f)
		}
	}
	for _, p := range in.ActionPlans {
		if p.Status.Active() {
			idx.activePlanByFnd[p.FindingID] = true
		}
	}
	return idx
}

// Run produces the diagnostic report. Questions are visited in catalog order
// so that gap ordering is stable. A nil evidence checker skips the evidence
// scan entirely.
func Run(ctx context.Context, cat *catalog.Catalog, in Input, evidence EvidenceChecker) (Report, error) {
	rep := Report{AuditID: in.AuditID}
	idx := buildIndex(in)

	for _, q := range cat.Questions() {
		r, answered := idx.responses[q.ID]
		if !answered {
			rep.Unanswered = append(rep.Unanswered, gapFor(q, "", "no response recorded"))
			continue
		}
		if !r.Answer.Valid() {
			continue
		}

		if r.Answer.NonConforming() {
			if len(idx.findingsByQ[q.ID]) == 0 {
				rep.NCWithoutFinding = append(rep.NCWithoutFinding, gapFor(q, r.Answer, "non-conformance has no finding"))
			}
			if evidence != nil {
				ok, err := evidence.HasEvidence(ctx, in.AuditID, q.ID)
				if err != nil {
					return Report{}, fmt.Errorf("check evidence for %s: %w", q.Code, err)
				}
				if !ok {
					rep.EvidenceMissing = append(rep.EvidenceMissing, gapFor(q, r.Answer, "no evidence attached"))
				}
			}
		}

		if r.Answer == domain.AnswerNotApplicable && strings.TrimSpace(r.NAJustification) == "" {
			rep.NAWithoutJustification = append(rep.NAWithoutJustification, gapFor(q, r.Answer, "NA without justification"))
		}
		if (r.Answer.NonConforming() || r.Answer == domain.AnswerNotApplicable) && strings.TrimSpace(r.Comment) == "" {
			rep.MissingComments = append(rep.MissingComments, gapFor(q, r.Answer, "comment is empty"))
		}

		if q.RequiresAllSubsForYes {
			subs := subState(cat, idx, q.ID)
			if r.Answer == domain.AnswerYes && !subs.satisfied() {
				rep.CompositeViolations = append(rep.CompositeViolations, gapFor(q, r.Answer, subs.describe()))
			}
			if r.Answer == domain.AnswerNo && subs.total > 0 && subs.satisfied() {
				rep.Contradictions = append(rep.Contradictions, gapFor(q, r.Answer, "answered N although every sub-question is Y or NA"))
			}
		}

		if r.Answer == domain.AnswerYes {
			for _, f := range idx.findingsByQ[q.ID] {
				if idx.activePlanByFnd[f.ID] {
					rep.Contradictions = append(rep.Contradictions, gapFor(q, r.Answer, fmt.Sprintf("answered Y while finding %s has an active action plan", f.ID)))
					break
				}
			}
		}
	}
	return rep, nil
}

type subSummary struct {
	total        int
	missing      []string
	nonCompliant []string
}

func subState(cat *catalog.Catalog, idx index, questionID string) subSummary {
	var s subSummary
	for _, sq := range cat.SubQuestionsOf(questionID) {
		s.total++
		sr, ok := idx.subResponses[sq.ID]
		switch {
		case !ok:
			s.missing = append(s.missing, sq.ID)
		case !sr.Answer.Satisfies():
			s.nonCompliant = append(s.nonCompliant, fmt.Sprintf("%s=%s", sq.ID, sr.Answer))
		}
	}
	sort.Strings(s.missing)
	sort.Strings(s.nonCompliant)
	return s
}

func (s subSummary) satisfied() bool {
	return len(s.missing) == 0 && len(s.nonCompliant) == 0
}

func (s subSummary) describe() string {
	var parts []string
	if len(s.missing) > 0 {
		parts = append(parts, "unanswered sub-questions: "+strings.Join(s.missing, ", "))
	}
	if len(s.nonCompliant) > 0 {
		parts = append(parts, "non-compliant sub-questions: "+strings.Join(s.nonCompliant, ", "))
	}
	return strings.Join(parts, "; ")
}

func gapFor(q domain.Question, answer domain.Answer, detail string) Gap {
	return Gap{
		QuestionID:   q.ID,
		QuestionCode: q.Code,
		SectionCode:  q.SectionCode,
		Answer:       answer,
		Detail:       detail,
	}
}
