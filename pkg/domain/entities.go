// Package domain defines the audit entities, value types, typed errors and
// rule evaluation primitives used by sliptacore.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAudit identifies an audit record.
	EntityAudit EntityType = "audit"
	// EntityResponse identifies a per-question response.
	EntityResponse EntityType = "response"
	// EntitySubResponse identifies a per-sub-question response.
	EntitySubResponse EntityType = "sub_question_response"
	// EntityFinding identifies a non-conformance record.
	EntityFinding EntityType = "finding"
	// EntityActionPlan identifies a remediation (CAPA) record.
	EntityActionPlan EntityType = "action_plan"
	// EntityEvidence identifies an evidence attachment.
	EntityEvidence EntityType = "evidence"
)

// Answer is the closed set of checklist answers.
type Answer string

// Checklist answers.
const (
	AnswerYes           Answer = "Y"
	AnswerPartial       Answer = "P"
	AnswerNo            Answer = "N"
	AnswerNotApplicable Answer = "NA"
)

// ParseAnswer normalises user input into an Answer. The second value is false
// when the input is not one of Y, P, N, NA.
func ParseAnswer(raw string) (Answer, bool) {
	a := Answer(strings.ToUpper(strings.TrimSpace(raw)))
	return a, a.Valid()
}

// Valid reports whether the answer belongs to the closed set.
func (a Answer) Valid() bool {
	switch a {
	case AnswerYes, AnswerPartial, AnswerNo, AnswerNotApplicable:
		return true
	}
	return false
}

// NonConforming reports whether the answer records a non-conformance (P or N).
func (a Answer) NonConforming() bool {
	return a == AnswerPartial || a == AnswerNo
}

// Satisfies reports whether a sub-question answer supports a fully compliant parent.
func (a Answer) Satisfies() bool {
	return a == AnswerYes || a == AnswerNotApplicable
}

// Weight is the point value of a checklist question. Only 2 and 3 are valid;
// the value is always the literal point count, never a positional index.
type Weight int

// Permitted question weights.
const (
	WeightStandard Weight = 2
	WeightMajor    Weight = 3
)

// Valid reports whether w is one of the permitted weights.
func (w Weight) Valid() bool {
	return w == WeightStandard || w == WeightMajor
}

// AuditStatus enumerates audit lifecycle states.
type AuditStatus string

// Audit lifecycle states.
const (
	AuditDraft      AuditStatus = "draft"
	AuditInProgress AuditStatus = "in_progress"
	AuditCompleted  AuditStatus = "completed"
	AuditCancelled  AuditStatus = "cancelled"
)

// Editable reports whether responses and findings of an audit in this state may change.
func (s AuditStatus) Editable() bool {
	return s == AuditDraft || s == AuditInProgress
}

// ActionPlanStatus enumerates remediation plan states.
type ActionPlanStatus string

// Action plan states.
const (
	PlanOpen       ActionPlanStatus = "open"
	PlanInProgress ActionPlanStatus = "in_progress"
	PlanClosed     ActionPlanStatus = "closed"
	PlanDeferred   ActionPlanStatus = "deferred"
)

// Active reports whether the plan still requires work.
func (s ActionPlanStatus) Active() bool {
	return s == PlanOpen || s == PlanInProgress
}

// FindingSeverity grades a non-conformance.
type FindingSeverity string

// Finding severities.
const (
	FindingLow    FindingSeverity = "low"
	FindingMedium FindingSeverity = "medium"
	FindingHigh   FindingSeverity = "high"
)

// Valid reports whether the severity is known.
func (s FindingSeverity) Valid() bool {
	return s == FindingLow || s == FindingMedium || s == FindingHigh
}

// FindingOrigin records who created a finding.
type FindingOrigin string

// Finding origins.
const (
	OriginManual       FindingOrigin = "manual"
	OriginSynchronizer FindingOrigin = "synchronizer"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all stored records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Section is one of the twelve checklist sections.
type Section struct {
	ID        string `json:"id" yaml:"id"`
	Code      int    `json:"code" yaml:"code"`
	Title     string `json:"title" yaml:"title"`
	MaxPoints int    `json:"max_points" yaml:"max_points"`
}

// Question is a weighted checklist item.
type Question struct {
	ID                    string `json:"id" yaml:"id"`
	SectionID             string `json:"section_id" yaml:"section_id"`
	SectionCode           int    `json:"section_code" yaml:"section_code"`
	Code                  string `json:"code" yaml:"code"`
	Weight                Weight `json:"weight" yaml:"weight"`
	Text                  string `json:"text" yaml:"text"`
	RequiresAllSubsForYes bool   `json:"requires_all_subs_for_yes" yaml:"requires_all_subs_for_yes"`
}

// SubQuestion is a supporting detail of a composite question.
type SubQuestion struct {
	ID         string `json:"id" yaml:"id"`
	QuestionID string `json:"question_id" yaml:"question_id"`
	Code       string `json:"code" yaml:"code"`
	Text       string `json:"text" yaml:"text"`
}

// Audit is one assessment of a laboratory.
type Audit struct {
	Base
	LaboratoryID        string      `json:"laboratory_id"`
	Status              AuditStatus `json:"status"`
	OpenedOn            time.Time   `json:"opened_on"`
	ClosedOn            *time.Time  `json:"closed_on"`
	PreviousAuditID     *string     `json:"previous_audit_id"`
	ReopenJustification string      `json:"reopen_justification,omitempty"`
	ReopenedAt          *time.Time  `json:"reopened_at,omitempty"`
}

// Response is the answer recorded for one question within an audit.
type Response struct {
	Base
	AuditID         string    `json:"audit_id"`
	QuestionID      string    `json:"question_id"`
	Answer          Answer    `json:"answer"`
	Comment         string    `json:"comment"`
	NAJustification string    `json:"na_justification"`
	RespondedBy     string    `json:"responded_by"`
	RespondedAt     time.Time `json:"responded_at"`
}

// SubQuestionResponse is the answer recorded for one sub-question within an audit.
type SubQuestionResponse struct {
	Base
	AuditID       string    `json:"audit_id"`
	SubQuestionID string    `json:"sub_question_id"`
	QuestionID    string    `json:"question_id"`
	Answer        Answer    `json:"answer"`
	Comment       string    `json:"comment"`
	RespondedBy   string    `json:"responded_by"`
	RespondedAt   time.Time `json:"responded_at"`
}

// Finding records a non-conformance raised during an audit.
type Finding struct {
	Base
	AuditID     string          `json:"audit_id"`
	SectionID   *string         `json:"section_id"`
	QuestionID  *string         `json:"question_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    FindingSeverity `json:"severity"`
	Origin      FindingOrigin   `json:"origin"`
}

// ActionPlan tracks the corrective action for a finding.
type ActionPlan struct {
	Base
	AuditID                 string           `json:"audit_id"`
	FindingID               string           `json:"finding_id"`
	Type                    string           `json:"type"`
	Recommendation          string           `json:"recommendation"`
	ResponsibleID           string           `json:"responsible_id"`
	DueDate                 time.Time        `json:"due_date"`
	Status                  ActionPlanStatus `json:"status"`
	ResolutionNotes         string           `json:"resolution_notes,omitempty"`
	EffectivenessEvaluation string           `json:"effectiveness_evaluation,omitempty"`
	ClosedAt                *time.Time       `json:"closed_at"`
	ReopenJustification     string           `json:"reopen_justification,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first blocking violation, if any.
func (r Result) FirstBlocking() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return v, true
		}
	}
	return Violation{}, false
}
