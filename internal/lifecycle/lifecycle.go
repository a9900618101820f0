// Package lifecycle holds the audit and action plan state machines, the
// completion policies that guard entry into the completed state, and the
// reopen rules.
package lifecycle

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"sliptacore/pkg/domain"
)

// MinReopenJustification is the minimum rune count of a reopen justification.
const MinReopenJustification = 20

type machine struct {
	label       string
	transitions map[string]map[string]struct{}
}

var auditMachine = machine{
	label: "audit",
	transitions: map[string]map[string]struct{}{
		string(domain.AuditDraft):      toSet(string(domain.AuditInProgress), string(domain.AuditCancelled)),
		string(domain.AuditInProgress): toSet(string(domain.AuditCompleted), string(domain.AuditCancelled)),
		string(domain.AuditCompleted):  toSet(),
		string(domain.AuditCancelled):  toSet(),
	},
}

var planMachine = machine{
	label: "action plan",
	transitions: map[string]map[string]struct{}{
		string(domain.PlanOpen):       toSet(string(domain.PlanInProgress), string(domain.PlanDeferred)),
		string(domain.PlanInProgress): toSet(string(domain.PlanClosed), string(domain.PlanDeferred), string(domain.PlanOpen)),
		string(domain.PlanClosed):     toSet(),
		string(domain.PlanDeferred):   toSet(string(domain.PlanOpen), string(domain.PlanInProgress)),
	},
}

func (m machine) check(from, to string) error {
	next, known := m.transitions[from]
	if !known {
		return domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown %s state %q", m.label, from)}
	}
	if _, ok := m.transitions[to]; !ok {
		return domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown %s state %q", m.label, to)}
	}
	if _, ok := next[to]; !ok {
		return domain.ConflictError{
			Rule:    strings.ReplaceAll(m.label, " ", "_") + "_transition",
			Message: fmt.Sprintf("cannot move %s from %s to %s", m.label, from, to),
		}
	}
	return nil
}

func (m machine) terminal(state string) bool {
	next, ok := m.transitions[state]
	return ok && len(next) == 0
}

// CheckAuditTransition validates a normal audit status change.
func CheckAuditTransition(from, to domain.AuditStatus) error {
	return auditMachine.check(string(from), string(to))
}

// AuditTerminal reports whether no normal transition leaves the state.
func AuditTerminal(s domain.AuditStatus) bool {
	return auditMachine.terminal(string(s))
}

// CheckPlanTransition validates a normal action plan status change.
func CheckPlanTransition(from, to domain.ActionPlanStatus) error {
	return planMachine.check(string(from), string(to))
}

// CheckPlanClosure verifies the fields required before a plan may be closed.
func CheckPlanClosure(p domain.ActionPlan) error {
	if strings.TrimSpace(p.ResolutionNotes) == "" {
		return domain.ValidationError{Field: "resolution_notes", Message: "required to close an action plan"}
	}
	if strings.TrimSpace(p.EffectivenessEvaluation) == "" {
		return domain.ValidationError{Field: "effectiveness_evaluation", Message: "required to close an action plan"}
	}
	return nil
}

// CheckReopen validates a privileged reopen request for an entity currently
// in state from, which must equal want.
func CheckReopen(actor domain.Actor, label, from, want, justification string) error {
	if !actor.Scope.Privileged {
		return domain.AuthorizationError{ActorID: actor.ID, Action: "reopen " + label}
	}
	if from != want {
		return domain.ConflictError{
			Rule:    "reopen",
			Message: fmt.Sprintf("only a %s %s can be reopened, current state is %s", want, label, from),
		}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(justification)); n < MinReopenJustification {
		return domain.ValidationError{
			Field:   "justification",
			Message: fmt.Sprintf("must be at least %d characters, got %d", MinReopenJustification, n),
		}
	}
	return nil
}

// CompletionPolicy names the precondition for entering the completed state.
type CompletionPolicy string

// Completion policies.
const (
	// PolicyClosureGate requires the closure gate to report no blockers.
	PolicyClosureGate CompletionPolicy = "closure_gate"
	// PolicyAnyResponse only requires at least one recorded response.
	PolicyAnyResponse CompletionPolicy = "any_response"
)

// ParseCompletionPolicy resolves a configured policy name. Empty selects the
// closure gate.
func ParseCompletionPolicy(raw string) (CompletionPolicy, error) {
	switch p := CompletionPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyClosureGate, nil
	case PolicyClosureGate, PolicyAnyResponse:
		return p, nil
	default:
		return "", domain.ValidationError{Field: "completion_policy", Message: fmt.Sprintf("unknown policy %q", raw)}
	}
}

// CompletionInput carries what a policy may inspect.
type CompletionInput struct {
	Responses int
	CanClose  bool
	Blockers  []string
}

// Permit applies the policy and returns a ConflictError when completion is
// not allowed.
func (p CompletionPolicy) Permit(in CompletionInput) error {
	switch p {
	case PolicyAnyResponse:
		if in.Responses == 0 {
			return domain.ConflictError{Rule: string(p), Message: "audit has no responses"}
		}
		return nil
	case PolicyClosureGate, "":
		if !in.CanClose {
			return domain.ConflictError{
				Rule:    string(PolicyClosureGate),
				Message: "audit cannot close: " + strings.Join(in.Blockers, "; "),
			}
		}
		return nil
	}
	return domain.ValidationError{Field: "completion_policy", Message: fmt.Sprintf("unknown policy %q", p)}
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
