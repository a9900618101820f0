package domain

import (
	"fmt"
	"strings"
)

// IntegrityError reports catalog drift. It is fatal and never corrected silently.
type IntegrityError struct {
	Section int
	Message string
}

func (e IntegrityError) Error() string {
	if e.Section > 0 {
		return fmt.Sprintf("catalog integrity: section %d: %s", e.Section, e.Message)
	}
	return "catalog integrity: " + e.Message
}

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ConflictError reports a business-rule violation.
type ConflictError struct {
	Rule    string
	Message string
}

func (e ConflictError) Error() string {
	if e.Rule == "" {
		return "conflict: " + e.Message
	}
	return fmt.Sprintf("conflict (%s): %s", e.Rule, e.Message)
}

// AuthorizationError reports a scope or role denial.
type AuthorizationError struct {
	ActorID string
	AuditID string
	Action  string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %q is not allowed to %s audit %s", e.ActorID, e.Action, e.AuditID)
}

// NotFoundError is returned when a referenced record is absent.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// RuleViolationError is returned when blocking violations are present at commit.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Rule+": "+v.Message)
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}
